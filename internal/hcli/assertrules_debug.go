//go:build debug

package hcli

import (
	"github.com/spf13/pflag"

	"github.com/harbor-bft/harbor/bft/bftengine"
	"github.com/harbor-bft/harbor/hassert"
)

const assertRuleFlag = "assert-rules"

func addAssertRuleFlag(fs *pflag.FlagSet) {
	// Default to all rules.
	fs.String(assertRuleFlag, "*", "Comma-separated assertion rules. Only available in debug builds. See package docs for github.com/harbor-bft/harbor/hassert.")
}

func getAssertEngineOpt(fs *pflag.FlagSet) (bftengine.Opt, error) {
	rules, err := fs.GetString(assertRuleFlag)
	if err != nil {
		return nil, err
	}

	env, err := hassert.EnvironmentFromString(rules)
	if err != nil {
		return nil, err
	}
	env.UseCaching()

	return bftengine.WithAssertEnv(env), nil
}
