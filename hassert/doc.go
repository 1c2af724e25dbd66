// Package hassert provides opt-in runtime invariant assertions.
//
// Validating every invariant at every entrypoint is prohibitively expensive
// in production, but when unexpected behavior is observed,
// enabling invariant checks may immediately reveal the problem.
//
// Assertions are a two-step opt-in.
// First, the assertion machinery is only compiled under the "debug" build tag.
// Second, some set of assertions must be enabled by producing an [Env]
// through [EnvironmentFromString] (only available in debug builds).
//
// Rule behavior:
//   - Components call [*Environment.Enabled] with a dot-separated path
//     naming the assertion they may make.
//   - No rules are enabled by default.
//   - A rule of "*" enables all assertions; "foo.*" enables the foo subtree.
//     The wildcard may only be the final segment.
//   - A leading "!" excludes an exact path from a wildcard match.
//   - Rules without wildcards are exact matches.
//   - [EnvironmentFromString] expects a comma-separated rule list.
package hassert
