package birthdeath

import (
	"github.com/gonum/blas/blas64"
	"github.com/gonum/matrix/mat64"
)

// Matrix is a transition matrix P[i][j] = P(i -> j) for one branch.
// It is never modified after construction.
type Matrix struct {
	BranchLength float64
	Lambda       float64
	Mu           float64
	p            *mat64.Dense
	raw          blas64.General
}

// NewMatrix computes the transition matrix for sizes 0..size-1.
func NewMatrix(t, lambda, mu float64, size int, cache *ChooseLnCache) *Matrix {
	data := make([]float64, size*size)
	alpha, beta := Coefficients(t, lambda, mu)
	if 1-alpha-beta < 0 {
		for i, row := range convolution(alpha, beta, size, size) {
			copy(data[i*size:], row)
		}
	} else {
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				data[i*size+j] = probability(i, j, alpha, beta, cache)
			}
		}
	}
	p := mat64.NewDense(size, size, data)
	return &Matrix{
		BranchLength: t,
		Lambda:       lambda,
		Mu:           mu,
		p:            p,
		raw:          p.RawMatrix(),
	}
}

// Size returns the number of family sizes covered.
func (m *Matrix) Size() int {
	return m.raw.Rows
}

// At returns P(i -> j).
func (m *Matrix) At(i, j int) float64 {
	return m.p.At(i, j)
}

// Row returns transition probabilities from size i. The slice aliases
// the matrix storage and must not be modified.
func (m *Matrix) Row(i int) []float64 {
	return m.raw.Data[i*m.raw.Stride : i*m.raw.Stride+m.raw.Cols]
}
