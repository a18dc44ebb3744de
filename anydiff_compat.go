package anyppo

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// The pinned anydiff revision predates anydiff.Log, so an
// equivalent op lives here, following the same structure as
// anydiff's other unary ops (e.g. anydiff.Exp).
type logRes struct {
	OutVec anyvec.Vector
	In     anydiff.Res
}

// anydiffLog takes the component-wise natural log.
func anydiffLog(in anydiff.Res) anydiff.Res {
	out := in.Output().Copy()
	anyvec.Log(out)
	return &logRes{OutVec: out, In: in}
}

func (l *logRes) Output() anyvec.Vector {
	return l.OutVec
}

func (l *logRes) Vars() anydiff.VarSet {
	return l.In.Vars()
}

func (l *logRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Div(l.In.Output())
	l.In.Propagate(u, g)
}
