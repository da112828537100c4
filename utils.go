package pe

import (
	"math"
)

type EntropyCalculator struct {
	size        int
	frequencies [256]uint64
}

func (e *EntropyCalculator) Write(p []byte) (n int, err error) {
	e.size += len(p)
	for _, v := range p {
		e.frequencies[v]++
	}
	return len(p), err
}

func (e *EntropyCalculator) Sum() (entropy float64) {
	if e.size == 0 {
		return
	}

	for _, p := range e.frequencies {
		if p > 0 {
			freq := float64(p) / float64(e.size)
			entropy += freq * math.Log2(freq)
		}
	}
	return -entropy
}

// roundUp rounds v up to a multiple of align. Alignments need not be powers
// of two; an alignment of 0 leaves v unchanged.
func roundUp(v, align uint32) uint32 {
	if align == 0 || v%align == 0 {
		return v
	}
	return (v/align + 1) * align
}

// stringInSlice checks weather a string exists in a slice of strings.
func stringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

func Max(x, y uint32) uint32 {
	if x < y {
		return y
	}
	return x
}
