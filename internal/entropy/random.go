// Package entropy derives the random streams a run draws from. Every
// stream is a pure function of the run seed and a key, so replaying a run
// with the same seed replays every draw.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	mrand "math/rand"
)

// Streams hands out independent deterministic generators.
type Streams struct {
	seed int64
}

// New creates streams for a run seed.
func New(seed int64) *Streams {
	return &Streams{seed: seed}
}

// Seed returns the run seed.
func (s *Streams) Seed() int64 { return s.seed }

// Agent returns the generator an agent's decision source uses at a tick.
// Streams for different agents or ticks do not overlap.
func (s *Streams) Agent(agent uint64, tick uint64) *mrand.Rand {
	return mrand.New(mrand.NewSource(s.derive("agent", agent, tick)))
}

// Named returns a generator for a fixed purpose, such as world seeding.
func (s *Streams) Named(name string) *mrand.Rand {
	return mrand.New(mrand.NewSource(s.derive(name, 0, 0)))
}

func (s *Streams) derive(label string, a, b uint64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(s.seed))
	h.Write(buf[:])
	h.Write([]byte(label))
	binary.LittleEndian.PutUint64(buf[:], a)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], b)
	h.Write(buf[:])
	return int64(splitmix(h.Sum64()) >> 1)
}

// splitmix spreads nearby hash values across the seed space.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// RandomSeed draws a fresh run seed from crypto/rand. Used when a run is
// configured with seed 0.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
