package optimize

import (
	"math"
)

const (
	TINY  = 1e-10
	SMALL = 1e-6
)

// DS is the downhill simplex method of Nelder and Mead. After
// convergence the simplex is rebuilt around the best point once more;
// the run stops when the second convergence does not improve the
// likelihood by more than SMALL.
type DS struct {
	BaseOptimizer
	// Delta is the initial simplex step.
	Delta float64
	// Ftol is the relative likelihood tolerance.
	Ftol       float64
	repeat     bool
	oldL       float64
	points     []Optimizable
	psum       []float64
	parameters []FloatParameters
	ls         []float64
	newOpt     Optimizable
	newPar     FloatParameters
}

func NewDS() (ds *DS) {
	ds = &DS{
		Delta: 1,
		Ftol:  TINY,
	}
	ds.repPeriod = 10
	return
}

func (ds *DS) likelihood(point Optimizable, par FloatParameters) float64 {
	if !par.InRange() {
		return math.Inf(-1)
	}
	ds.calls++
	return point.Likelihood()
}

func (ds *DS) createSimplex(opt Optimizable, delta float64) {
	parameters := opt.GetFloatParameters()
	ds.points = make([]Optimizable, len(parameters)+1)
	ds.parameters = make([]FloatParameters, len(ds.points))
	ds.ls = make([]float64, len(ds.points))
	ds.points[0] = opt
	ds.parameters[0] = parameters
	for i := 1; i < len(ds.points); i++ {
		point := opt.Copy()
		ds.points[i] = point
		ds.parameters[i] = point.GetFloatParameters()
	}
	for i := 0; i < len(parameters); i++ {
		parameter := ds.parameters[i+1][i]
		v := parameter.Get() + delta
		if !parameter.ValueInRange(v) {
			v = parameter.Get() - delta
		}
		parameter.Set(v)
	}
	for i := range ds.points {
		ds.ls[i] = ds.likelihood(ds.points[i], ds.parameters[i])
	}
}

// amotry extrapolates by factor fac throught the face of the simplex accros from
// the low point, tries it, and replaces the low point if the new point is better.
func (ds *DS) amotry(ilo int, fac float64) float64 {
	if ds.newOpt == nil {
		ds.newOpt = ds.points[0].Copy()
		ds.newPar = ds.newOpt.GetFloatParameters()
	}
	ds.calcPsum()
	ndim := len(ds.newPar)
	fac1 := (1 - fac) / float64(ndim)
	fac2 := fac1 - fac
	for j := 0; j < ndim; j++ {
		ds.newPar[j].Set(ds.psum[j]*fac1 - ds.parameters[ilo][j].Get()*fac2)
	}
	l := ds.likelihood(ds.newOpt, ds.newPar)
	if l > ds.ls[ilo] {
		ds.points[ilo], ds.newOpt = ds.newOpt, ds.points[ilo]
		ds.parameters[ilo], ds.newPar = ds.newPar, ds.parameters[ilo]
		ds.ls[ilo] = l
	}
	return l
}

func (ds *DS) calcPsum() {
	if ds.psum == nil {
		ds.psum = make([]float64, len(ds.parameters[0]))
	}
	for i := range ds.psum {
		ds.psum[i] = 0
		for _, parameters := range ds.parameters {
			ds.psum[i] += parameters[i].Get()
		}
	}
}

func (ds *DS) SetOptimizable(opt Optimizable) {
	ds.BaseOptimizer.SetOptimizable(opt)
	ds.repeat = false
	ds.newOpt = nil
	ds.psum = nil
	ds.createSimplex(opt, ds.Delta)
}

func (ds *DS) Run(iterations int) {
	// Lowest (worst), next-lowest and highest points
	var ilo, inlo, ihi int
	var llo, lnlo, lhi float64
	ds.PrintHeader(ds.parameters[0])
	ds.maxL = math.Inf(-1)
	ds.maxLPar = nil
	ds.converged = false
	if len(ds.parameters[0]) == 0 {
		ds.i = 0
		ds.update(ds.parameters[0], ds.ls[0])
		ds.converged = true
		return
	}
Iter:
	for ds.i = 1; ds.i <= iterations; ds.i++ {
		if ds.ls[0] < ds.ls[1] {
			ilo = 0
			inlo = 1
			ihi = 1
		} else {
			ilo = 1
			inlo = 0
			ihi = 0
		}
		llo = ds.ls[ilo]
		lnlo = ds.ls[inlo]
		lhi = ds.ls[ihi]
		for i := 2; i < len(ds.points); i++ {
			if ds.ls[i] >= lhi {
				lhi = ds.ls[i]
				ihi = i
			}
			if ds.ls[i] < llo {
				lnlo = llo
				inlo = ilo
				llo = ds.ls[i]
				ilo = i
			} else if ds.ls[i] < lnlo {
				lnlo = ds.ls[i]
				inlo = i
			}
		}
		ds.update(ds.parameters[ihi], lhi)
		if ds.i%ds.repPeriod == 0 {
			log.Debugf("%d: L=%f (%f)", ds.i, lhi, lhi-llo)
			ds.report(ds.parameters[ihi], lhi)
		}
		rtol := 2 * math.Abs(lhi-llo) / (math.Abs(llo) + math.Abs(lhi) + TINY)
		if rtol < ds.Ftol || (math.IsInf(lhi, -1) && math.IsInf(llo, -1)) {
			switch {
			case ds.repeat && math.IsInf(lhi, -1):
				log.Warning("No finite likelihood in the simplex")
				break Iter
			case ds.repeat && math.Abs(ds.oldL-lhi) < SMALL:
				ds.converged = true
				break Iter
			default:
				ds.repeat = true
				ds.oldL = lhi
				log.Debugf("converged, retrying")
				ds.createSimplex(ds.points[ihi], ds.Delta)
				continue
			}
		}
		l := ds.amotry(ilo, -1)
		switch {
		case l >= lhi:
			ds.amotry(ilo, 2)
		case l <= lnlo:
			lsave := llo
			l := ds.amotry(ilo, 0.5)
			if l <= lsave {
				for i, point := range ds.points {
					if i != ihi {
						for j := range ds.parameters[i] {
							ds.parameters[i][j].Set(0.5 * (ds.parameters[i][j].Get() + ds.parameters[ihi][j].Get()))
						}
						ds.ls[i] = ds.likelihood(point, ds.parameters[i])
					}
				}
			}
		}
		if ds.signaled() {
			break Iter
		}
	}
	if ds.i > iterations {
		ds.i = iterations
		log.Warningf("Iterations exceeded (%d)", iterations)
	}
	for i, l := range ds.ls {
		ds.update(ds.parameters[i], l)
	}
	ds.report(ds.parameters[ihi], lhi)

	log.Info("Finished downhill simplex")
	log.Infof("Maximum likelihood: %v", ds.maxL)
	log.Debugf("Parameter  names: %v", ds.parameters[ihi].NamesString())
	log.Debugf("Parameter values: %v", ds.parameters[ihi].ValuesString())
	ds.PrintFinal(ds.parameters[ihi])
}
