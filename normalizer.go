package anyppo

import (
	"encoding/json"
	"math"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const normalizerEpsilon = 1e-2

func init() {
	serializer.RegisterTypedDeserializer((&EmpiricalNormalizer{}).SerializerType(),
		DeserializeEmpiricalNormalizer)
}

// An EmpiricalNormalizer maintains running mean and
// variance estimates over batches of vectors and whitens
// vectors against them.
//
// A zero-dimensional normalizer is a no-op, so it can
// stand in wherever normalization is disabled.
type EmpiricalNormalizer struct {
	dim   int
	mean  []float64
	varr  []float64
	count float64
}

// NewEmpiricalNormalizer creates a normalizer for rows of
// the given width.
// The variance estimate starts at one so that early
// batches are passed through nearly unchanged.
func NewEmpiricalNormalizer(dim int) *EmpiricalNormalizer {
	res := &EmpiricalNormalizer{
		dim:  dim,
		mean: make([]float64, dim),
		varr: make([]float64, dim),
	}
	for i := range res.varr {
		res.varr[i] = 1
	}
	return res
}

type normalizerState struct {
	Dim   int       `json:"dim"`
	Mean  []float64 `json:"mean"`
	Var   []float64 `json:"var"`
	Count float64   `json:"count"`
}

// DeserializeEmpiricalNormalizer deserializes an
// EmpiricalNormalizer.
func DeserializeEmpiricalNormalizer(d []byte) (norm *EmpiricalNormalizer, err error) {
	defer essentials.AddCtxTo("deserialize EmpiricalNormalizer", &err)
	var state normalizerState
	if err := json.Unmarshal(d, &state); err != nil {
		return nil, err
	}
	res := NewEmpiricalNormalizer(state.Dim)
	copy(res.mean, state.Mean)
	copy(res.varr, state.Var)
	res.count = state.Count
	return res, nil
}

// Dim returns the row width, which is 0 for a no-op
// normalizer.
func (e *EmpiricalNormalizer) Dim() int {
	return e.dim
}

// Count returns the number of rows folded in so far.
func (e *EmpiricalNormalizer) Count() float64 {
	return e.count
}

// Update folds a packed batch of rows into the running
// statistics.
func (e *EmpiricalNormalizer) Update(batch []float64) {
	if e.dim == 0 {
		return
	}
	if len(batch)%e.dim != 0 {
		panic("batch size must divide value count")
	}
	n := len(batch) / e.dim
	if n == 0 {
		return
	}
	e.count += float64(n)
	rate := float64(n) / e.count
	for j := 0; j < e.dim; j++ {
		var meanX float64
		for i := 0; i < n; i++ {
			meanX += batch[i*e.dim+j]
		}
		meanX /= float64(n)
		var varX float64
		for i := 0; i < n; i++ {
			d := batch[i*e.dim+j] - meanX
			varX += d * d
		}
		varX /= float64(n)

		deltaMean := meanX - e.mean[j]
		e.mean[j] += rate * deltaMean
		e.varr[j] += rate * (varX - e.varr[j] + deltaMean*(meanX-e.mean[j]))
	}
}

// Normalize whitens a packed batch of rows against the
// running statistics, returning a new slice.
func (e *EmpiricalNormalizer) Normalize(batch []float64) []float64 {
	out := make([]float64, len(batch))
	if e.dim == 0 {
		copy(out, batch)
		return out
	}
	if len(batch)%e.dim != 0 {
		panic("batch size must divide value count")
	}
	for i := range batch {
		j := i % e.dim
		out[i] = (batch[i] - e.mean[j]) / (math.Sqrt(e.varr[j]) + normalizerEpsilon)
	}
	return out
}

// UpdateVec is Update for packed vectors.
func (e *EmpiricalNormalizer) UpdateVec(v anyvec.Vector) {
	if e.dim == 0 {
		return
	}
	e.Update(v.Creator().Float64Slice(v.Data()))
}

// NormalizeVec is Normalize for packed vectors.
// It returns its argument when normalization is disabled.
func (e *EmpiricalNormalizer) NormalizeVec(v anyvec.Vector) anyvec.Vector {
	if e.dim == 0 {
		return v
	}
	c := v.Creator()
	return anyvec.Make(c, e.Normalize(c.Float64Slice(v.Data())))
}

// SerializerType returns the unique ID used to serialize
// an EmpiricalNormalizer.
func (e *EmpiricalNormalizer) SerializerType() string {
	return "github.com/unixpickle/anyppo.EmpiricalNormalizer"
}

// Serialize serializes the normalizer.
func (e *EmpiricalNormalizer) Serialize() ([]byte, error) {
	return json.Marshal(&normalizerState{
		Dim:   e.dim,
		Mean:  e.mean,
		Var:   e.varr,
		Count: e.count,
	})
}
