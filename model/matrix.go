package model

import "gonum.org/v1/gonum/mat"

// ResourceMatrix is a linear map between Resources: row t holds the vector
// required (or yielded) per unit of commodity t. Like Resource it is a value
// type and never changes after construction.
type ResourceMatrix struct {
	rows [NumCommodities]Resource
}

// NewResourceMatrix builds a matrix from per-commodity rows.
func NewResourceMatrix(rows map[CommodityType]Resource) ResourceMatrix {
	var m ResourceMatrix
	for t, row := range rows {
		if t.Valid() {
			m.rows[t] = row
		}
	}
	return m
}

// Row returns the vector associated with one unit of t.
func (m ResourceMatrix) Row(t CommodityType) Resource {
	if !t.Valid() {
		return Resource{}
	}
	return m.rows[t]
}

// WithRow returns a copy of m with row t replaced.
func (m ResourceMatrix) WithRow(t CommodityType, row Resource) ResourceMatrix {
	if t.Valid() {
		m.rows[t] = row
	}
	return m
}

// IsZero reports whether every row is zero.
func (m ResourceMatrix) IsZero() bool {
	for _, row := range m.rows {
		if !row.IsZero() {
			return false
		}
	}
	return true
}

// Multiply returns Σ_t row(t) * r.Quantity(t).
func (m ResourceMatrix) Multiply(r Resource) Resource {
	data := make([]float64, 0, NumCommodities*NumCommodities)
	for _, row := range m.rows {
		data = append(data, row.q[:]...)
	}
	dense := mat.NewDense(NumCommodities, NumCommodities, data)

	out := mat.NewVecDense(NumCommodities, nil)
	out.MulVec(dense.T(), mat.NewVecDense(NumCommodities, r.Values()))

	var res Resource
	for i := range res.q {
		res.q[i] = out.AtVec(i)
	}
	return res
}
