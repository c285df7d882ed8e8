package mamba

import (
	"fmt"
	"math/rand/v2"
)

const (
	golden  = 0x9e3779b97f4a7c15
	golden2 = 0x3c6ef372fe94f82a // 2*golden mod 2^64
)

// Key is a splittable random key. Keys are plain values: deriving randomness
// from a key never changes it, so callers must Split before each use and never
// reuse a parent once it was split.
//
// Usage:
//
//	key := NewKey(42)
//	key, sub := key.Split()
//	x := sub.Rand().NormFloat64()
type Key struct {
	hi, lo uint64
}

// NewKey derives a key from a seed.
func NewKey(seed uint64) Key {
	return Key{hi: mix64(seed + golden), lo: mix64(seed + golden2)}
}

// Split returns two independent keys derived from k.
func (k Key) Split() (Key, Key) {
	return k.child(0), k.child(1)
}

// SplitN returns n independent keys derived from k.
func (k Key) SplitN(n int) []Key {
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = k.child(uint64(i))
	}

	return keys
}

// Rand returns a generator seeded from the key.
func (k Key) Rand() *rand.Rand {
	return rand.New(rand.NewPCG(k.hi, k.lo))
}

func (k Key) String() string {
	return fmt.Sprintf("%016x%016x", k.hi, k.lo)
}

func (k Key) child(i uint64) Key {
	return Key{
		hi: mix64(k.hi ^ mix64(k.lo+(2*i+1)*golden)),
		lo: mix64(k.lo ^ mix64(k.hi+(2*i+2)*golden)),
	}
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb

	return z ^ (z >> 31)
}
