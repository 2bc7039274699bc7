//go:build mimxrt1062

package hwid

import "device/nxp"

// Default returns the identifier source of i.MX RT1062 boards (Teensy 4.x):
// the MAC0/MAC1 words of the OCOTP fuse shadow registers.
func Default() Source {
	return Fuses{
		ReadMAC0: nxp.OCOTP.MAC0.Get,
		ReadMAC1: nxp.OCOTP.MAC1.Get,
	}
}
