package aggregator

import (
	"crypto/rand"
	"encoding/binary"
)

// xoshiro256pp is a fast, non-cryptographic PRNG seeded from a cryptographic
// source at construction (spec §4.E). A single 64-bit output is split into
// two 32-bit draws so the aggregator's representative-sample selection
// never depends on an external RNG under load.
type xoshiro256pp struct {
	s [4]uint64

	hasPending bool
	pending    uint32
}

// newXoshiro256pp seeds the generator from crypto/rand.
func newXoshiro256pp() *xoshiro256pp {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing is catastrophic for the whole process; a
		// fixed fallback keeps the aggregator degraded-but-alive rather
		// than panicking mid-tick.
		for i := range seed {
			seed[i] = byte(i*2654435761 + 1)
		}
	}
	x := &xoshiro256pp{}
	for i := 0; i < 4; i++ {
		x.s[i] = binary.LittleEndian.Uint64(seed[i*8 : i*8+8])
	}
	// xoshiro256++ requires a non-zero state.
	if x.s[0]|x.s[1]|x.s[2]|x.s[3] == 0 {
		x.s[0] = 0x9E3779B97F4A7C15
	}
	return x
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// next64 returns the next 64-bit output of the xoshiro256++ generator.
func (x *xoshiro256pp) next64() uint64 {
	result := rotl(x.s[0]+x.s[3], 23) + x.s[0]

	t := x.s[1] << 17

	x.s[2] ^= x.s[0]
	x.s[3] ^= x.s[1]
	x.s[1] ^= x.s[2]
	x.s[0] ^= x.s[3]

	x.s[2] ^= t

	x.s[3] = rotl(x.s[3], 45)

	return result
}

// next32Pair splits one 64-bit draw into two 32-bit index draws.
func (x *xoshiro256pp) next32Pair() (uint32, uint32) {
	v := x.next64()
	return uint32(v), uint32(v >> 32)
}

// next32 returns one 32-bit draw, pulling a fresh next64 every other call
// and handing out its other half on the call in between: the "single
// 64-bit output produces two index draws" split next32Pair performs.
func (x *xoshiro256pp) next32() uint32 {
	if x.hasPending {
		x.hasPending = false
		return x.pending
	}
	lo, hi := x.next32Pair()
	x.pending, x.hasPending = hi, true
	return lo
}

// intn returns a uniform value in [0, n) using one 32-bit draw. n must be > 0.
func (x *xoshiro256pp) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(uint64(x.next32()) % uint64(n))
}
