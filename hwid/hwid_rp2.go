//go:build rp2040 || rp2350

package hwid

import (
	"encoding/binary"
	"machine"
)

// localPrefix has the locally administered bit set; RP2 boards carry no
// vendor-assigned MAC.
var localPrefix = [3]byte{0x02, 0x00, 0x00}

// Default returns the identifier source of RP2040/RP2350 boards: the unique
// ID of the external QSPI flash.
func Default() Source {
	return FlashSerial{
		Prefix:     localPrefix,
		ReadSerial: flashUniqueID,
	}
}

// flashUniqueID issues the flash unique ID command. machine.DeviceID runs it
// from RAM with the XIP cache disabled.
func flashUniqueID() (uint32, error) {
	id := machine.DeviceID()
	if len(id) < 4 {
		return 0, ErrUnsupported
	}
	return binary.BigEndian.Uint32(id[len(id)-4:]), nil
}
