package cafe

// MiscountError assumes a count is off by one with probability Rate in
// each direction.
type MiscountError struct {
	Rate float64
}

// Prob implements ErrorModel.
func (e MiscountError) Prob(count, size int) float64 {
	switch d := count - size; {
	case d == 0:
		if size == 0 {
			return 1 - e.Rate
		}
		return 1 - 2*e.Rate
	case d == 1 || d == -1:
		return e.Rate
	}
	return 0
}
