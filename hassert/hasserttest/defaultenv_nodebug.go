//go:build !debug

package hasserttest

import "github.com/harbor-bft/harbor/hassert"

// DefaultEnv returns the no-op Env, in non-debug builds.
func DefaultEnv() hassert.Env {
	return hassert.Env{}
}

// NopEnv returns the no-op Env.
func NopEnv() hassert.Env {
	return hassert.Env{}
}
