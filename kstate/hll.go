package kstate

import (
	"bytes"
	"fmt"

	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
)

// HLLPrecision is the register index width. 2^14 registers give a standard
// error of about 0.81%.
const HLLPrecision = 14

// hllMagic prefixes stored sketches so they are told apart from counters.
var hllMagic = []byte("HYLL")

// hllHeaderSize is the fixed prefix of the library's binary form.
const hllHeaderSize = 8

// Sketch is a HyperLogLog cardinality estimator. Elements are hashed with
// xxhash, so sketches stay comparable whatever the library's default hash.
type Sketch struct {
	hll *hyperloglog.Sketch
}

// NewSketch returns an empty sketch with HLLPrecision.
func NewSketch() *Sketch {
	return &Sketch{hll: hyperloglog.New14()}
}

// Add inserts element and reports whether the sketch changed.
func (s *Sketch) Add(element []byte) bool {
	return s.hll.InsertHash(xxhash.Sum64(element))
}

// Merge folds other into s.
func (s *Sketch) Merge(other *Sketch) error {
	if err := s.hll.Merge(other.hll); err != nil {
		return fmt.Errorf("%w: %w", ErrWrongType, err)
	}
	return nil
}

// Estimate returns the approximate number of distinct elements added.
func (s *Sketch) Estimate() int64 {
	return int64(s.hll.Estimate())
}

func (s *Sketch) MarshalBinary() ([]byte, error) {
	raw, err := s.hll.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(append(make([]byte, 0, len(hllMagic)+len(raw)), hllMagic...), raw...), nil
}

// UnmarshalBinary decodes a sketch written by MarshalBinary.
func (s *Sketch) UnmarshalBinary(data []byte) error {
	if !bytes.HasPrefix(data, hllMagic) {
		return fmt.Errorf("%w: not a sketch", ErrWrongType)
	}
	if len(data) < len(hllMagic)+hllHeaderSize {
		return fmt.Errorf("%w: corrupt sketch: %d bytes", ErrWrongType, len(data))
	}
	hll := hyperloglog.New14()
	if err := hll.UnmarshalBinary(data[len(hllMagic):]); err != nil {
		return fmt.Errorf("%w: corrupt sketch: %w", ErrWrongType, err)
	}
	s.hll = hll
	return nil
}
