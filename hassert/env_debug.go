//go:build debug

package hassert

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Env is what consumers embed to gate their assertions:
// under the debug build tag it aliases *Environment,
// and in regular builds it collapses to an empty struct.
type Env = *Environment

// Environment decides, rule by rule, which runtime assertions run.
//
// Once configured, an Environment is safe for concurrent use.
// UseCaching and OnlyLogFailures are configuration and must happen
// before any other method, if they happen at all.
type Environment struct {
	// Prefix rules, stored without the trailing wildcard segment.
	prefixes [][]string

	// Exclusions from prefix matches.
	excludes [][]string

	// Exact matches.
	exacts [][]string

	// Non-nil cache indicates caching is enabled.
	mu    sync.RWMutex
	cache map[string]bool

	// By default a failure panics; a non-nil log means only log instead.
	log *slog.Logger
}

// EnvironmentFromString builds an Environment from a comma-separated
// rule list, the format accepted on the command line.
// A dotted rule enables one assertion; a trailing .* enables a
// subtree; a leading ! carves an exact exclusion out of a subtree.
func EnvironmentFromString(in string) (*Environment, error) {
	var e Environment
	if in == "" {
		// Splitting the empty string would produce one empty rule,
		// which would be a parse error, so return early.
		return &e, nil
	}

	for _, r := range strings.Split(in, ",") {
		if err := e.parseRule(r); err != nil {
			return nil, err
		}
	}
	e.sort()

	return &e, nil
}

func (e *Environment) parseRule(r string) error {
	if len(r) == 0 {
		return errors.New("received empty rule")
	}

	if strings.Contains(r, "..") {
		return fmt.Errorf("invalid rule %q: dot-separated sections may not be empty", r)
	}

	if strings.Contains(r, "!") {
		exRule, wasPrefix := strings.CutPrefix(r, "!")
		if !wasPrefix {
			return fmt.Errorf("invalid rule %q: ! may only occur at the start of the rule, indicating an exclusion", r)
		}
		if strings.Contains(exRule, "*") {
			return fmt.Errorf("invalid rule %q: wildcards are not allowed with exclusion rules", r)
		}
		e.excludes = append(e.excludes, strings.Split(exRule, "."))
		return nil
	}

	nStars := strings.Count(r, "*")
	if nStars > 1 {
		return fmt.Errorf("invalid rule %q: may contain at most one *, and it must be at the end", r)
	}
	if nStars == 1 {
		if r == "*" {
			// Match-everything special case.
			e.prefixes = append(e.prefixes, []string{})
			return nil
		}

		p, isPrefix := strings.CutSuffix(r, ".*")
		if !isPrefix {
			return fmt.Errorf("invalid rule %q: * only allowed as last element of dot-separated rule", r)
		}
		e.prefixes = append(e.prefixes, strings.Split(p, "."))
		return nil
	}

	e.exacts = append(e.exacts, strings.Split(r, "."))
	return nil
}

// UseCaching makes Enabled memoize its results,
// worthwhile when the same rules are consulted on hot paths.
// Call it before any concurrent use; caching cannot be turned off again.
func (e *Environment) UseCaching() {
	if e.cache != nil {
		panic(errors.New("BUG: UseCaching called twice"))
	}

	e.cache = make(map[string]bool)
}

// OnlyLogFailures downgrades assertion failures from panics
// to Error-level log lines.
// Call it before any concurrent use of e.
func (e *Environment) OnlyLogFailures(log *slog.Logger) {
	e.log = log
}

// HandleAssertionFailure reports err as a failed assertion:
// a panic by default, or an Error log if OnlyLogFailures was set.
// Calling it with a nil error is itself a bug and always panics.
func (e *Environment) HandleAssertionFailure(err error) {
	if err == nil {
		panic(errors.New("BUG: HandleAssertionFailure called with nil error"))
	}

	if e.log == nil {
		panic(fmt.Errorf("assertion failure: %w", err))
	}

	e.log.Error("Assertion failure", "err", err)
}

// Enabled reports whether the given rule is switched on.
// Wildcard prefixes win first, unless an exclusion carves the rule
// back out; exact rules are the fallback.
func (e *Environment) Enabled(rule string) bool {
	if len(e.prefixes) == 0 && len(e.exacts) == 0 {
		return false
	}

	if e.cache == nil {
		return e.enabled(rule)
	}

	val, ok := e.tryCache(rule)
	if ok {
		return val
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Check again under the write lock, in case of a concurrent store.
	if val, ok := e.cache[rule]; ok {
		return val
	}

	val = e.enabled(rule)
	e.cache[rule] = val
	return val
}

// enabled evaluates rule without the mutex or the cache.
func (e *Environment) enabled(rule string) bool {
	ruleParts := strings.Split(rule, ".")

	isPrefixMatch := false
	for _, p := range e.prefixes {
		if len(p) > len(ruleParts)-1 {
			// Prefixes are sorted by length; we've advanced too far.
			break
		}

		if slices.Equal(p, ruleParts[:len(p)]) {
			isPrefixMatch = true
			break
		}
	}

	if isPrefixMatch {
		// Exclusions are negative exact matches.
		for _, exclude := range e.excludes {
			if len(exclude) < len(ruleParts) {
				continue
			}

			if len(exclude) > len(ruleParts) {
				// Sorted; too far, so the wildcard match stands.
				return true
			}

			if slices.Equal(exclude, ruleParts) {
				return false
			}
		}

		return true
	}

	for _, exact := range e.exacts {
		if len(exact) < len(ruleParts) {
			continue
		}

		if len(exact) > len(ruleParts) {
			return false
		}

		if slices.Equal(exact, ruleParts) {
			return true
		}
	}

	return false
}

func (e *Environment) tryCache(rule string) (val, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	val, ok = e.cache[rule]
	return val, ok
}

// sort puts the shortest rules first in each set;
// the match loops in enabled exit early on that ordering.
func (e *Environment) sort() {
	slices.SortFunc(e.prefixes, byRuleLen)
	slices.SortFunc(e.excludes, byRuleLen)
	slices.SortFunc(e.exacts, byRuleLen)
}

func byRuleLen(a, b []string) int {
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}
