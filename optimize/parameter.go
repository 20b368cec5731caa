package optimize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
)

// FloatParameter is a bounded parameter backed by a model variable.
type FloatParameter interface {
	Name() string
	String() string
	SetMin(float64)
	SetMax(float64)
	GetMin() float64
	GetMax() float64
	SetOnChange(func())
	Get() float64
	Set(float64)
	InRange() bool
	ValueInRange(float64) bool
}

type FloatParameters []FloatParameter

func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

func (p FloatParameters) Names(is []string) (s []string) {
	if is == nil {
		s = make([]string, len(p))
	} else {
		s = is
	}
	for i, par := range p {
		s[i] = par.Name()
	}
	return
}

func (p FloatParameters) Values(iv []float64) (v []float64) {
	if iv == nil {
		v = make([]float64, len(p))
	} else {
		v = iv
	}
	for i, par := range p {
		v[i] = par.Get()
	}
	return
}

func (p FloatParameters) ValuesInRange(vals []float64) bool {
	if len(vals) != len(p) {
		panic("Incorrect number of parameters")
	}
	for i, par := range p {
		if !par.ValueInRange(vals[i]) {
			return false
		}
	}
	return true
}

func (p FloatParameters) SetValues(v []float64) error {
	if len(v) != len(p) {
		return fmt.Errorf("incorrect number of parameters: %d, expected %d", len(v), len(p))
	}
	for i, par := range p {
		par.Set(v[i])
	}
	return nil
}

// Update copies values from another set of parameters.
func (p FloatParameters) Update(src FloatParameters) {
	for i := range p {
		p[i].Set(src[i].Get())
	}
}

// Randomize sets uniform random values within the bounds, infinite
// bounds are replaced by lim.
func (p FloatParameters) Randomize(rng *rand.Rand, lim float64) {
	for _, par := range p {
		min := math.Max(-lim, par.GetMin())
		max := math.Min(lim, par.GetMax())
		par.Set(min + rng.Float64()*(max-min))
	}
}

func (p FloatParameters) InRange() bool {
	for _, par := range p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

func (p FloatParameters) NamesString() (s string) {
	for i, par := range p {
		if i != 0 {
			s += "\t"
		}
		s += par.Name()
	}
	return
}

func (p FloatParameters) ValuesString() (s string) {
	for i, par := range p {
		if i != 0 {
			s += "\t"
		}
		s += par.String()
	}
	return
}

// MarshalJSON encodes parameters as an object preserving the order.
func (p FloatParameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, par := range p {
		if i != 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(par.Name())
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(par.Get(), 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON sets values of the existing parameters by name.
func (p *FloatParameters) UnmarshalJSON(data []byte) error {
	var values map[string]float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	for _, par := range *p {
		v, ok := values[par.Name()]
		if !ok {
			return fmt.Errorf("parameter %s is missing", par.Name())
		}
		par.Set(v)
	}
	return nil
}

type BasicFloatParameter struct {
	*float64
	name     string
	min      float64
	max      float64
	onChange func()
}

func NewBasicFloatParameter(par *float64, name string) *BasicFloatParameter {
	return &BasicFloatParameter{
		float64: par,
		name:    name,
		min:     math.Inf(-1),
		max:     math.Inf(+1),
	}
}

func (p *BasicFloatParameter) SetMin(min float64) {
	p.min = min
}

func (p *BasicFloatParameter) SetMax(max float64) {
	p.max = max
}

func (p *BasicFloatParameter) SetOnChange(f func()) {
	p.onChange = f
}

func (p *BasicFloatParameter) Get() float64 {
	return *p.float64
}

func (p *BasicFloatParameter) Set(v float64) {
	if *p.float64 == v {
		// do nothing if value has not changed
		return
	}
	*p.float64 = v
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *BasicFloatParameter) GetMin() float64 {
	return p.min
}

func (p *BasicFloatParameter) GetMax() float64 {
	return p.max
}

func (p *BasicFloatParameter) ValueInRange(v float64) bool {
	if v < p.min || v > p.max {
		return false
	}
	return true
}

func (p *BasicFloatParameter) InRange() bool {
	return p.ValueInRange(*p.float64)
}

func (p *BasicFloatParameter) Name() string {
	return p.name
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.float64, 'f', 6, 64)
}
