package anyppo

import (
	"fmt"
	"sort"

	"github.com/unixpickle/anyvec"
)

// Names of the consumer groups recognized by the training
// loop.
const (
	GroupPolicy  = "policy"
	GroupCritic  = "critic"
	GroupRND     = "rnd"
	GroupTeacher = "teacher"
)

// ObsGroups maps a consumer group name, such as "policy"
// or "critic", to the ordered list of observation
// components that are concatenated to form the consumer's
// input.
type ObsGroups map[string][]string

// A GroupSpec is an ObsGroups mapping resolved against an
// actual batch of observations.
// It knows the dimensionality of every component and of
// every consumer's concatenated input.
type GroupSpec struct {
	creator    anyvec.Creator
	groups     ObsGroups
	dims       map[string]int
	components []string
}

// ResolveGroups validates groups against a sample batch of
// observations and records per-component dimensions.
//
// The "policy" group is mandatory; missing groups other
// than "policy" fall back to the policy component list.
// A nil or empty mapping produces a policy group with
// every sampled component in name order.
func ResolveGroups(groups ObsGroups, sample Observations, numEnvs int) (*GroupSpec, error) {
	if numEnvs <= 0 {
		return nil, configErrorf("num_envs", "must be positive, got %d", numEnvs)
	}
	if len(sample) == 0 {
		return nil, configErrorf("obs_groups", "environment produced no observations")
	}
	if len(groups) == 0 {
		var all []string
		for name := range sample {
			all = append(all, name)
		}
		sort.Strings(all)
		groups = ObsGroups{GroupPolicy: all}
	}
	if len(groups[GroupPolicy]) == 0 {
		return nil, configErrorf("obs_groups", "missing %q group", GroupPolicy)
	}

	spec := &GroupSpec{
		groups: groups,
		dims:   map[string]int{},
	}
	for consumer, comps := range groups {
		if len(comps) == 0 {
			return nil, configErrorf("obs_groups", "group %q is empty", consumer)
		}
		for _, name := range comps {
			vec, ok := sample[name]
			if !ok {
				return nil, configErrorf("obs_groups",
					"group %q references unknown component %q", consumer, name)
			}
			if vec.Len() == 0 || vec.Len()%numEnvs != 0 {
				return nil, configErrorf("obs_groups",
					"component %q has length %d, not a multiple of %d environments",
					name, vec.Len(), numEnvs)
			}
			if spec.creator == nil {
				spec.creator = vec.Creator()
			}
			dim := vec.Len() / numEnvs
			if old, ok := spec.dims[name]; ok && old != dim {
				return nil, configErrorf("obs_groups",
					"component %q has inconsistent dimension", name)
			}
			spec.dims[name] = dim
		}
	}
	for name := range spec.dims {
		spec.components = append(spec.components, name)
	}
	sort.Strings(spec.components)
	return spec, nil
}

// Components returns the ordered component list for a
// consumer, falling back to the policy group when the
// consumer has no entry of its own.
func (g *GroupSpec) Components(consumer string) []string {
	if comps, ok := g.groups[consumer]; ok {
		return comps
	}
	return g.groups[GroupPolicy]
}

// Dim returns the per-row width of a consumer's
// concatenated input.
func (g *GroupSpec) Dim(consumer string) int {
	var total int
	for _, name := range g.Components(consumer) {
		total += g.dims[name]
	}
	return total
}

// ComponentDim returns the per-row width of a single
// observation component.
func (g *GroupSpec) ComponentDim(name string) int {
	return g.dims[name]
}

// Concat builds a consumer's packed input batch by
// concatenating its components row by row.
func (g *GroupSpec) Concat(consumer string, obs Observations, batch int) anyvec.Vector {
	cols := g.Dim(consumer)
	out := make([]float64, batch*cols)
	var off int
	for _, name := range g.Components(consumer) {
		vec, ok := obs[name]
		if !ok {
			panic(fmt.Sprintf("missing observation component: %q", name))
		}
		dim := g.dims[name]
		if vec.Len() != batch*dim {
			panic(fmt.Sprintf("component %q: length %d does not match batch %d",
				name, vec.Len(), batch))
		}
		data := g.creator.Float64Slice(vec.Data())
		for i := 0; i < batch; i++ {
			copy(out[i*cols+off:i*cols+off+dim], data[i*dim:(i+1)*dim])
		}
		off += dim
	}
	return anyvec.Make(g.creator, out)
}

// TransitionObs extracts one environment's row of every
// referenced component as host slices, suitable for
// storing in a Transition.
func (g *GroupSpec) TransitionObs(obs Observations, env int) map[string][]float64 {
	res := make(map[string][]float64, len(g.components))
	for _, name := range g.components {
		vec, ok := obs[name]
		if !ok {
			panic(fmt.Sprintf("missing observation component: %q", name))
		}
		dim := g.dims[name]
		data := g.creator.Float64Slice(vec.Data())
		row := make([]float64, dim)
		copy(row, data[env*dim:(env+1)*dim])
		res[name] = row
	}
	return res
}
