package cycle

import "os"

// OpenFile is a server-managed writable file (a log, typically) with stable
// identity across reloads. Name == "" is the "placeholder, skip" sentinel
// spec.md 3 describes for a registered-but-unnamed slot.
type OpenFile struct {
	Name string
	File *os.File
}

// Valid reports whether the file has a usable descriptor.
func (f *OpenFile) Valid() bool { return f.Name != "" && f.File != nil }
