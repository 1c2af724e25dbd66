//go:build !debug

package hassert

// Env is the assertion environment, indicating which assertions are enabled.
//
// Core engine types that support assertions always accept an hassert.Env.
// In non-debug builds, Env is an empty struct consuming no memory,
// and it deliberately has no methods;
// code depending on the environment must itself be guarded
// behind the "debug" build tag.
type Env struct{}
