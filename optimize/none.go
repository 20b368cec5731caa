package optimize

// None is an optimizer which computes initial value and exits.
type None struct {
	BaseOptimizer
}

// NewNone creates an optimizer which computes initial likelihood only.
func NewNone() *None {
	return &None{}
}

// Run computes the likelihood of the starting point.
func (n *None) Run(iterations int) {
	n.i = 0
	n.maxLPar = nil
	n.PrintHeader(n.parameters)
	n.calls++
	n.update(n.parameters, n.Likelihood())
	n.maxL = n.l
	n.converged = true
	n.PrintLine(n.parameters, n.l)
}
