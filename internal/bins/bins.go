package bins

import (
	"fmt"
	"strings"
)

// ID identifies one of the sorter's bins.
type ID int

const (
	Paper ID = iota
	Plastic
	Metal
	Trash
)

// All lists every bin in display order.
var All = []ID{Paper, Plastic, Metal, Trash}

var names = [...]string{"paper", "plastic", "metal", "trash"}

func (id ID) String() string {
	if id < 0 || int(id) >= len(names) {
		return fmt.Sprintf("bin(%d)", int(id))
	}
	return names[id]
}

// Valid reports whether id names a known bin.
func (id ID) Valid() bool {
	return id >= Paper && id <= Trash
}

// FullKey is the telemetry key used for the bin's fullness, e.g. "metalFull".
func (id ID) FullKey() string {
	return id.String() + "Full"
}

// Parse resolves a bin name case-insensitively.
func Parse(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bin %q", s)
}

// Status is the fullness of every bin, unknown reduced to false.
type Status map[ID]bool

// Clone returns an independent copy.
func (s Status) Clone() Status {
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// JSON renders the status with bin names as keys, e.g. {"paper": false, ...}.
func (s Status) JSON() map[string]bool {
	out := make(map[string]bool, len(All))
	for _, id := range All {
		out[id.String()] = s[id]
	}
	return out
}
