// Package emitter implements the IR emitter controller (C2): a compile-time
// hardware quirk database keyed by USB vendor/product ID, sysfs-based
// device discovery, and best-effort UVC extension-unit activation.
package emitter

// Quirk is a camera-specific UVC extension-unit control recipe needed to
// turn on its IR illuminator. The table below is embedded at build time —
// there is no runtime quirk-file scanning (spec.md §6).
type Quirk struct {
	VendorID     uint16
	ProductID    uint16
	Name         string
	Unit         uint8
	Selector     uint8
	ControlBytes []byte
}

// quirkDB is the compile-time hardware database. Each entry mirrors one
// contrib/hw/*.toml file from the original project; Go's literal syntax
// makes the TOML-embedding build step unnecessary.
var quirkDB = []Quirk{
	{
		// ASUS Zenbook 14 UM3406HA built-in IR camera.
		VendorID:     0x04f2,
		ProductID:    0xb6d9,
		Name:         "ASUS Zenbook 14 UM3406HA IR Camera",
		Unit:         3,
		Selector:     6,
		ControlBytes: []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00},
	},
}

// Lookup finds a quirk entry by USB VID:PID. Returns nil if none matches.
func Lookup(vid, pid uint16) *Quirk {
	for i := range quirkDB {
		if quirkDB[i].VendorID == vid && quirkDB[i].ProductID == pid {
			return &quirkDB[i]
		}
	}
	return nil
}

// ListQuirks returns every known quirk entry, for the daemon's diagnostic
// Status payload (non-sensitive: vendor/product IDs and camera names
// only).
func ListQuirks() []Quirk {
	out := make([]Quirk, len(quirkDB))
	copy(out, quirkDB)
	return out
}
