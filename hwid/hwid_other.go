//go:build !rp2040 && !rp2350 && !mimxrt1062

package hwid

// Default returns the identifier source for the build target. Targets without
// a known source fail loudly.
func Default() Source { return Unsupported{} }
