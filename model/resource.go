package model

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Epsilon is the absolute tolerance below which a component counts as zero.
const Epsilon = 1e-6

// Resource is an immutable vector holding one quantity per CommodityType.
//
// Every operation returns a fresh value; the receiver is never modified.
// The zero value is the zero vector.
type Resource struct {
	q [NumCommodities]float64
}

// NewResource builds a Resource from the given quantities. Unknown
// commodity types are ignored.
func NewResource(quantities map[CommodityType]float64) Resource {
	var r Resource
	for t, v := range quantities {
		if t.Valid() {
			r.q[t] = v
		}
	}
	return r
}

// Of returns a Resource with a single nonzero component.
func Of(t CommodityType, quantity float64) Resource {
	return Resource{}.With(t, quantity)
}

// Quantity returns the component for t, or zero for an invalid type.
func (r Resource) Quantity(t CommodityType) float64 {
	if !t.Valid() {
		return 0
	}
	return r.q[t]
}

// With returns a copy of r with component t replaced.
func (r Resource) With(t CommodityType, quantity float64) Resource {
	if t.Valid() {
		r.q[t] = quantity
	}
	return r
}

// Values returns a copy of the underlying components in commodity order.
func (r Resource) Values() []float64 {
	out := make([]float64, NumCommodities)
	copy(out, r.q[:])
	return out
}

func (r Resource) Add(o Resource) Resource {
	floats.Add(r.q[:], o.q[:])
	return r
}

func (r Resource) Subtract(o Resource) Resource {
	floats.Sub(r.q[:], o.q[:])
	return r
}

func (r Resource) Negate() Resource {
	floats.Scale(-1, r.q[:])
	return r
}

// Multiply scales every component by s.
func (r Resource) Multiply(s float64) Resource {
	floats.Scale(s, r.q[:])
	return r
}

// MultiplyResource multiplies component-wise.
func (r Resource) MultiplyResource(o Resource) Resource {
	floats.Mul(r.q[:], o.q[:])
	return r
}

// SafeDivide divides every component by s, returning the zero vector when
// |s| is below Epsilon.
func (r Resource) SafeDivide(s float64) Resource {
	if math.Abs(s) < Epsilon {
		return Resource{}
	}
	return r.Multiply(1 / s)
}

// SafeDivideResource divides component-wise. Components whose divisor is
// near zero yield zero rather than Inf or NaN.
func (r Resource) SafeDivideResource(o Resource) Resource {
	for i := range r.q {
		if math.Abs(o.q[i]) < Epsilon {
			r.q[i] = 0
			continue
		}
		r.q[i] /= o.q[i]
	}
	return r
}

// IsZero reports whether every component is within Epsilon of zero.
func (r Resource) IsZero() bool {
	return r.MaxAbs() < Epsilon
}

// Equal reports approximate equality: the difference IsZero.
func (r Resource) Equal(o Resource) bool {
	return r.Subtract(o).IsZero()
}

// TruncatePositive zeroes every negative component.
func (r Resource) TruncatePositive() Resource {
	for i, v := range r.q {
		if v < 0 {
			r.q[i] = 0
		}
	}
	return r
}

// TruncateNegative zeroes every positive component.
func (r Resource) TruncateNegative() Resource {
	for i, v := range r.q {
		if v > 0 {
			r.q[i] = 0
		}
	}
	return r
}

// Abs returns the component-wise absolute value.
func (r Resource) Abs() Resource {
	for i, v := range r.q {
		r.q[i] = math.Abs(v)
	}
	return r
}

// Min returns the component-wise minimum of r and o.
func (r Resource) Min(o Resource) Resource {
	for i := range r.q {
		r.q[i] = math.Min(r.q[i], o.q[i])
	}
	return r
}

// Max returns the component-wise maximum of r and o.
func (r Resource) Max(o Resource) Resource {
	for i := range r.q {
		r.q[i] = math.Max(r.q[i], o.q[i])
	}
	return r
}

// Only keeps the listed components and zeroes the rest.
func (r Resource) Only(types ...CommodityType) Resource {
	var out Resource
	for _, t := range types {
		if t.Valid() {
			out.q[t] = r.q[t]
		}
	}
	return out
}

// MaxAbs returns the largest absolute component (the infinity norm).
func (r Resource) MaxAbs() float64 {
	return floats.Norm(r.q[:], math.Inf(1))
}

// Total returns the sum of all components.
func (r Resource) Total() float64 {
	return floats.Sum(r.q[:])
}

// Support lists the commodity types whose magnitude is at least Epsilon.
func (r Resource) Support() []CommodityType {
	var out []CommodityType
	for i, v := range r.q {
		if math.Abs(v) >= Epsilon {
			out = append(out, CommodityType(i))
		}
	}
	return out
}

// String renders the nonzero components, e.g. "{electricity: 10, oil: 5}".
func (r Resource) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for i, v := range r.q {
		if math.Abs(v) < Epsilon {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(CommodityType(i).String())
		b.WriteString(": ")
		b.WriteString(strconv.FormatFloat(v, 'g', 6, 64))
	}
	b.WriteByte('}')
	return b.String()
}
