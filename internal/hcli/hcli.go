// Package hcli provides the harbor command tree.
package hcli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func NewRootCmd(log *slog.Logger, level *slog.LevelVar) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "harbor SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		Long: `harbor is a byzantine-fault-tolerant block consensus engine.

The harbor binary does not run a production node on its own;
it provides an in-process simulation of a validator network
and operational tooling around the consensus database.
`,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyLogLevel(cmd.Flags(), level)
		},
	}

	rootCmd.PersistentFlags().AddFlagSet(commonFlags())

	rootCmd.AddCommand(
		newSimCmd(log),
		newDebugServerCmd(log),
	)

	return rootCmd
}

func commonFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("harbor", pflag.ExitOnError)

	flags.String("log-level", "info", "Minimum log level: debug, info, warn, or error")

	return flags
}

func applyLogLevel(flags *pflag.FlagSet, level *slog.LevelVar) error {
	if level == nil {
		return nil
	}

	name, err := flags.GetString("log-level")
	if err != nil {
		return err
	}

	switch name {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q (want debug, info, warn, or error)", name)
	}

	return nil
}
