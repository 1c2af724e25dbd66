//go:build debug

package hasserttest

import "github.com/harbor-bft/harbor/hassert"

// DefaultEnv returns an assertion environment with every check enabled.
func DefaultEnv() hassert.Env {
	env, err := hassert.EnvironmentFromString("*")
	if err != nil {
		panic(err)
	}
	env.UseCaching()
	return env
}

// NopEnv returns an assertion environment with every check disabled.
// Generally prefer DefaultEnv; NopEnv is for already expensive tests.
func NopEnv() hassert.Env {
	env, err := hassert.EnvironmentFromString("")
	if err != nil {
		panic(err)
	}
	env.UseCaching()
	return env
}
