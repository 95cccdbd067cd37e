// Package rng draws unbiased samples for the lottery.
package rng

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	mathrand "math/rand/v2"
	"sync"
)

// Source yields uniform integers in [0, n).
type Source interface {
	Intn(n int) (int, error)
}

var errNonPositiveBound = errors.New("rng: bound must be > 0")

// ReaderSource draws indices from a stream of random bits using
// crypto/rand.Int, which rejects out-of-range candidates instead of reducing
// them modulo n.
type ReaderSource struct {
	r io.Reader
}

// NewCryptoSource returns the source used for real draws.
func NewCryptoSource() *ReaderSource {
	return &ReaderSource{r: rand.Reader}
}

// NewReaderSource uses r as the random-bit stream. A deterministic reader
// makes draws reproducible.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errNonPositiveBound
	}
	v, err := rand.Int(s.r, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("rng: read random bits: %w", err)
	}
	return int(v.Int64()), nil
}

// SeededSource is a reproducible PCG generator for tests. Never use it for
// real draws: anyone who knows the seed can predict the winners.
type SeededSource struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{r: mathrand.New(mathrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errNonPositiveBound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n), nil
}

// Sample picks k distinct elements of pool uniformly at random, in selection
// order. Each pick takes a uniform index into the not-yet-picked prefix and
// swaps the picked element to the end of that prefix. pool is not modified.
func Sample[T any](src Source, pool []T, k int) ([]T, error) {
	if k < 0 || k > len(pool) {
		return nil, fmt.Errorf("rng: cannot sample %d of %d", k, len(pool))
	}
	if k == 0 {
		return []T{}, nil
	}

	tmp := make([]T, len(pool))
	copy(tmp, pool)

	picked := make([]T, 0, k)
	for remaining := len(tmp); len(picked) < k; remaining-- {
		idx, err := src.Intn(remaining)
		if err != nil {
			return nil, err
		}
		picked = append(picked, tmp[idx])
		tmp[idx], tmp[remaining-1] = tmp[remaining-1], tmp[idx]
	}
	return picked, nil
}
