package hcli

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/harbor-bft/harbor/bft/bftdebug"
	"github.com/harbor-bft/harbor/bft/bftsqlite"
)

func newDebugServerCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "debug-server PATH_TO_DATABASE",

		Short: "Serve diagnostics HTTP endpoints over an existing consensus database",

		Long: `debug-server opens a consensus database and exposes its contents
over the diagnostics HTTP API: the network height, committed certificates
and validator sets. Live consensus endpoints are not available,
as no engine runs in this process.
`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}

			st, err := bftsqlite.NewOnDiskStore(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to open consensus database: %w", err)
			}
			defer st.Close()

			ln, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			log.Info("Diagnostics HTTP server listening", "addr", ln.Addr().String(), "db_build", st.BuildType)

			h := bftdebug.NewHTTPServer(ctx, log.With("sys", "http"), bftdebug.HTTPServerConfig{
				Listener: ln,

				CertificateStore: st,
				ValidatorStore:   st,
			})
			h.Wait()

			return nil
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:26600", "TCP address to listen on")

	return cmd
}
