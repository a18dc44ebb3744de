package anyppo

import "fmt"

// A ConfigError describes an invalid or unsupported
// configuration value.
// It is always detected at construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Error generates a message containing the field name.
func (c *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %s", c.Field, c.Reason)
}

// A CapacityError describes a rollout buffer indexing
// violation, such as an out-of-range timestep or a slot
// that was recorded twice in one iteration.
type CapacityError struct {
	Timestep int
	Env      int
	Reason   string
}

// Error generates a message containing the indices, when
// they are known.
func (c *CapacityError) Error() string {
	if c.Timestep < 0 && c.Env < 0 {
		return "rollout buffer: " + c.Reason
	}
	return fmt.Sprintf("rollout buffer timestep %d env %d: %s", c.Timestep,
		c.Env, c.Reason)
}

// A NumericInstabilityError describes a NaN or Inf value
// in a training loss or gradient.
// The offending minibatch is skipped; an iteration's worth
// of them aborts the iteration but not the run.
type NumericInstabilityError struct {
	Iteration int
	Term      string
}

// Error generates a message naming the unstable term.
func (n *NumericInstabilityError) Error() string {
	return fmt.Sprintf("iteration %d: non-finite %s", n.Iteration, n.Term)
}
