package anyppo

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Supported noise standard deviation parameterizations.
const (
	NoiseStdScalar = "scalar"
	NoiseStdLog    = "log"
)

// Standard deviations in the scalar parameterization are
// kept above this value so the density stays defined even
// if the raw parameter drifts to zero.
const minScalarStd = 1e-4

func init() {
	serializer.RegisterTypedDeserializer((&NoiseStd{}).SerializerType(),
		DeserializeNoiseStd)
}

// NoiseStd is the trainable exploration noise of a
// Gaussian policy, shared across the batch dimension.
//
// The "scalar" parameterization stores the standard
// deviation directly; "log" stores its logarithm.
type NoiseStd struct {
	Type  string
	Param *anydiff.Var
}

// NewNoiseStd creates a noise parameter of the given
// parameterization, initialized to initStd in every action
// dimension.
func NewNoiseStd(c anyvec.Creator, typ string, initStd float64, dim int) (*NoiseStd, error) {
	if initStd <= 0 {
		return nil, configErrorf("init_noise_std", "must be positive, got %v", initStd)
	}
	vals := make([]float64, dim)
	switch typ {
	case NoiseStdScalar:
		for i := range vals {
			vals[i] = initStd
		}
	case NoiseStdLog:
		for i := range vals {
			vals[i] = math.Log(initStd)
		}
	default:
		return nil, configErrorf("noise_std_type", "unknown type %q", typ)
	}
	return &NoiseStd{
		Type:  typ,
		Param: anydiff.NewVar(anyvec.Make(c, vals)),
	}, nil
}

// DeserializeNoiseStd deserializes a NoiseStd.
func DeserializeNoiseStd(d []byte) (noise *NoiseStd, err error) {
	defer essentials.AddCtxTo("deserialize NoiseStd", &err)
	var typ string
	var vec *anyvecsave.S
	if err := serializer.DeserializeAny(d, &typ, &vec); err != nil {
		return nil, err
	}
	return &NoiseStd{Type: typ, Param: anydiff.NewVar(vec.Vector)}, nil
}

// Dim returns the number of action dimensions.
func (n *NoiseStd) Dim() int {
	return n.Param.Vector.Len()
}

// Std returns the standard deviation as a differentiable
// result of length Dim.
func (n *NoiseStd) Std() anydiff.Res {
	switch n.Type {
	case NoiseStdScalar:
		return clampMin(n.Param, minScalarStd)
	case NoiseStdLog:
		return anydiff.Exp(n.Param)
	}
	panic("unknown noise std type: " + n.Type)
}

// LogStd returns the log standard deviation as a
// differentiable result of length Dim.
func (n *NoiseStd) LogStd() anydiff.Res {
	if n.Type == NoiseStdLog {
		return n.Param
	}
	return anydiffLog(n.Std())
}

// StdVals returns a host copy of the effective standard
// deviations.
func (n *NoiseStd) StdVals() []float64 {
	out := n.Std().Output()
	return out.Creator().Float64Slice(out.Data())
}

// SerializerType returns the unique ID used to serialize
// a NoiseStd.
func (n *NoiseStd) SerializerType() string {
	return "github.com/unixpickle/anyppo.NoiseStd"
}

// Serialize serializes the NoiseStd.
func (n *NoiseStd) Serialize() ([]byte, error) {
	return serializer.SerializeAny(n.Type, &anyvecsave.S{Vector: n.Param.Vector})
}

// Gaussian is a diagonal Gaussian action distribution over
// batches of action means with a shared NoiseStd.
type Gaussian struct {
	Noise *NoiseStd
	Dim   int
}

// Sample draws one action per mean row.
//
// If rng is nil, the global generator is used.
func (g *Gaussian) Sample(means anyvec.Vector, batch int, rng *rand.Rand) anyvec.Vector {
	if means.Len() != batch*g.Dim {
		panic("mean count must match batch size")
	}
	c := means.Creator()
	noise := c.MakeVector(batch * g.Dim)
	anyvec.Rand(noise, anyvec.Normal, rng)
	noise.Mul(anyvec.Make(c, tileFloats(g.Noise.StdVals(), batch)))
	out := means.Copy()
	out.Add(noise)
	return out
}

// LogProb computes one log density per row for a batch of
// actions under the current means.
func (g *Gaussian) LogProb(means anydiff.Res, actions anyvec.Vector, batch int) anydiff.Res {
	if means.Output().Len() != batch*g.Dim || actions.Len() != batch*g.Dim {
		panic("batch size must divide value count")
	}
	c := means.Output().Creator()
	invStd := anydiff.Pow(tileRows(g.Noise.Std(), batch), c.MakeNumeric(-1.0))
	diff := anydiff.Sub(anydiff.NewConst(actions), means)
	z := anydiff.Mul(diff, invStd)
	rowSq := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Square(z),
		Rows: batch,
		Cols: g.Dim,
	})
	res := anydiff.Scale(rowSq, c.MakeNumeric(-0.5))
	res = anydiff.Sub(res, tileRows(anydiff.Sum(g.Noise.LogStd()), batch))
	offset := c.MakeVector(batch)
	offset.AddScalar(c.MakeNumeric(-0.5 * float64(g.Dim) * math.Log(2*math.Pi)))
	return anydiff.Add(res, anydiff.NewConst(offset))
}

// Entropy returns the per-row differential entropy, which
// the whole batch shares.
func (g *Gaussian) Entropy() anydiff.Res {
	logStd := g.Noise.LogStd()
	c := logStd.Output().Creator()
	offset := c.MakeVector(1)
	offset.AddScalar(c.MakeNumeric(0.5 * float64(g.Dim) * (1 + math.Log(2*math.Pi))))
	return anydiff.Add(anydiff.Sum(logStd), anydiff.NewConst(offset))
}

// HostLogProbs computes per-row log densities on the host,
// without building a graph.
// The stds slice holds one shared row of length Dim.
func (g *Gaussian) HostLogProbs(means, stds, actions []float64, batch int) []float64 {
	if len(means) != batch*g.Dim || len(actions) != batch*g.Dim || len(stds) != g.Dim {
		panic("batch size must divide value count")
	}
	out := make([]float64, batch)
	constant := -0.5 * float64(g.Dim) * math.Log(2*math.Pi)
	var sumLog float64
	for _, s := range stds {
		sumLog += math.Log(s)
	}
	for i := 0; i < batch; i++ {
		var sq float64
		for j := 0; j < g.Dim; j++ {
			z := (actions[i*g.Dim+j] - means[i*g.Dim+j]) / stds[j]
			sq += z * z
		}
		out[i] = -0.5*sq - sumLog + constant
	}
	return out
}

// tileRows concatenates n copies of a result, so a shared
// row can line up with a packed batch.
func tileRows(res anydiff.Res, n int) anydiff.Res {
	if n == 1 {
		return res
	}
	return anydiff.Pool(res, func(r anydiff.Res) anydiff.Res {
		reps := make([]anydiff.Res, n)
		for i := range reps {
			reps[i] = r
		}
		return anydiff.Concat(reps...)
	})
}

// tileFloats appends n copies of a row into one slice.
func tileFloats(row []float64, n int) []float64 {
	out := make([]float64, 0, len(row)*n)
	for i := 0; i < n; i++ {
		out = append(out, row...)
	}
	return out
}

// clampMin bounds every component below by min.
func clampMin(in anydiff.Res, min float64) anydiff.Res {
	c := in.Output().Creator()
	neg := c.MakeNumeric(-1.0)
	bound := c.MakeVector(in.Output().Len())
	bound.AddScalar(c.MakeNumeric(-min))
	return anydiff.Scale(
		anydiff.ElemMin(anydiff.Scale(in, neg), anydiff.NewConst(bound)),
		neg,
	)
}
