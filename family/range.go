package family

import (
	"errors"
	"fmt"
)

var (
	// ErrDataShape is returned when family counts do not match the
	// species of a tree.
	ErrDataShape = errors.New("data shape mismatch")
	// ErrInvalidParameter is returned for negative sizes, rates and
	// branch lengths or invalid mixture settings.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Range holds family sizes considered at the root and at the other
// nodes of a tree.
type Range struct {
	MinRoot int `toml:"min_root" json:"minRoot"`
	MaxRoot int `toml:"max_root" json:"maxRoot"`
	Min     int `toml:"min" json:"min"`
	Max     int `toml:"max" json:"max"`
}

// Validate checks that the bounds are non-negative and ordered.
func (r Range) Validate() error {
	if r.MinRoot < 0 || r.MaxRoot < 0 || r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%w: negative family size in range %v", ErrInvalidParameter, r)
	}
	if r.MinRoot > r.MaxRoot {
		return fmt.Errorf("%w: root minimum %d exceeds maximum %d", ErrInvalidParameter, r.MinRoot, r.MaxRoot)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: minimum %d exceeds maximum %d", ErrInvalidParameter, r.Min, r.Max)
	}
	return nil
}

// Size returns the number of family sizes a transition matrix has to
// cover (sizes from zero up to the largest bound).
func (r Range) Size() int {
	if r.MaxRoot > r.Max {
		return r.MaxRoot + 1
	}
	return r.Max + 1
}

// NRoot returns the number of root sizes.
func (r Range) NRoot() int {
	return r.MaxRoot - r.MinRoot + 1
}

func (r Range) String() string {
	return fmt.Sprintf("root %d..%d, nodes %d..%d", r.MinRoot, r.MaxRoot, r.Min, r.Max)
}

// RangeFor creates a range wide enough for the largest observed count.
// The root range is extended by a quarter, the other nodes by a quarter
// plus ten sizes.
func RangeFor(maxCount int) Range {
	if maxCount < 1 {
		maxCount = 1
	}
	return Range{
		MinRoot: 1,
		MaxRoot: maxCount*5/4 + 1,
		Min:     0,
		Max:     maxCount*5/4 + 10,
	}
}
