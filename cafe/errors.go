package cafe

import (
	"github.com/mrrlab/gofam/family"
)

// Errors shared with the family package so that callers can test
// either with errors.Is.
var (
	ErrDataShape        = family.ErrDataShape
	ErrInvalidParameter = family.ErrInvalidParameter
)
