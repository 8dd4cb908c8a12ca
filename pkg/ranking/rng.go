package ranking

import (
	"math/rand/v2"
)

// Source is the randomness the simulation consumes
type Source interface {
	NormFloat64() float64
}

// StreamFactory returns an independent, deterministic stream for one batch of
// iterations. The same (seed, stream) pair must always yield the same sequence.
type StreamFactory func(seed, stream uint64) Source

// PCGStreams is the default StreamFactory backed by a PCG generator, whose
// output is fixed across Go releases
func PCGStreams(seed, stream uint64) Source {
	return rand.New(rand.NewPCG(seed, splitmix(stream)))
}

// splitmix spreads consecutive stream numbers over the PCG increment space
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
