package cli

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/matzehuels/storagex/pkg/app"
	"github.com/matzehuels/storagex/pkg/config"
	"github.com/matzehuels/storagex/pkg/diagram"
	"github.com/matzehuels/storagex/pkg/server"
)

// serveCommand creates the "serve" command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the storage API over HTTP",
		Long: `Serve the file API over HTTP until interrupted:

  GET    /api/v1/files                list files
  PUT    /api/v1/files/{name}         upload the request body
  GET    /api/v1/files/{name}         download
  DELETE /api/v1/files/{name}         delete
  GET    /api/v1/files/{name}/chunks  chunk placement
  GET    /api/v1/backends             backend status
  GET    /api/v1/diagram?format=svg   architecture diagram`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(cfg *config.Config, b *app.Bundle) error {
				if addr == "" {
					addr = cfg.Server.Addr
				}
				arch := func() *diagram.Diagram { return diagram.FromConfig(cfg) }
				srv := server.New(b.Storage, arch, c.Logger)

				printInfo("Serving %d backends on %s", len(b.Manager.Backends()), StyleHighlight.Render(addr))
				printNextStep("Try", "curl http://localhost"+localPort(addr)+"/api/v1/files")
				return srv.ListenAndServe(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

// localPort returns the ":port" suffix of addr, or "" when addr has none.
func localPort(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return ""
	}
	return ":" + port
}
