// Package zoran converts between Unix timestamps and the Zoran epoch used
// for every on-disk timestamp in the latency tables.
package zoran

import "math"

// Epoch is the fixed offset, in Unix seconds, of the Zoran epoch
// (2021-01-01T07:00:00Z, seven hours after midnight UTC on 1 January 2021).
// All on-disk timestamps are u32 offsets from this instant.
const Epoch int64 = 1_609_484_400

// MaxValue is the largest representable Zoran timestamp (2^32 - 1).
const MaxValue uint32 = math.MaxUint32

// ToZoran converts a Unix timestamp to a Zoran timestamp, saturating at 0
// for instants before Epoch and at MaxValue for instants that would
// overflow the 32-bit field.
func ToZoran(unix int64) uint32 {
	delta := unix - Epoch
	if delta < 0 {
		return 0
	}
	if delta > int64(MaxValue) {
		return MaxValue
	}
	return uint32(delta)
}

// ToUnix converts a Zoran timestamp back to Unix seconds.
func ToUnix(zoran uint32) int64 {
	return int64(zoran) + Epoch
}
