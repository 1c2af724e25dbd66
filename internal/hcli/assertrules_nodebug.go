//go:build !debug

package hcli

import (
	"github.com/spf13/pflag"

	"github.com/harbor-bft/harbor/bft/bftengine"
	"github.com/harbor-bft/harbor/hassert"
)

// No-op counterparts to match the debug build.

func addAssertRuleFlag(fs *pflag.FlagSet) {}

func getAssertEngineOpt(fs *pflag.FlagSet) (bftengine.Opt, error) {
	return bftengine.WithAssertEnv(hassert.Env{}), nil
}
