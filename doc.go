// Package anyppo implements Proximal Policy Optimization
// for vectorized environments, including generalized
// advantage estimation, random network distillation, and
// mirror-symmetry augmentation.
// See https://arxiv.org/abs/1707.06347.
package anyppo
