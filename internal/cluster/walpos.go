package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseReplicationPosition converts a textual WAL position "HI/LO" (upper
// case hexadecimal, e.g. "0/21B1A540") into the unsigned 64-bit number
// (HI<<32)|LO used to compare how far ahead a node is. An empty string
// maps to 0, matching a node that has never replayed any WAL.
func ParseReplicationPosition(pos string) uint64 {
	if pos == "" {
		return 0
	}
	hi, lo, ok := strings.Cut(pos, "/")
	if !ok {
		return 0
	}
	hiVal, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return 0
	}
	loVal, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return 0
	}
	return (hiVal << 32) | loVal
}

// FormatReplicationPosition renders a position number back into "HI/LO"
// upper-case hexadecimal form. It exists for tests and logging; the
// controller itself never needs to reconstruct the textual form since the
// driving source of truth is always what the node reports.
func FormatReplicationPosition(n uint64) string {
	hi := uint32(n >> 32)
	lo := uint32(n)
	return fmt.Sprintf("%X/%X", hi, lo)
}
