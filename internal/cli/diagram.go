package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/storagex/pkg/config"
	"github.com/matzehuels/storagex/pkg/diagram"
)

// diagramOpts holds the flags of the diagram command.
type diagramOpts struct {
	outDir     string
	format     string
	title      string
	direction  string
	fromConfig bool
}

// diagramCommand creates the "diagram" command.
func (c *CLI) diagramCommand() *cobra.Command {
	opts := diagramOpts{}

	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Render the system architecture diagram",
		Long: `Render the storagex architecture as an image. By default the diagram shows
the reference deployment with Dropbox and Google Drive; --from-config draws
the backends and metadata store of the loaded configuration instead.`,
		Example: `  storagex diagram
  storagex diagram -f svg -o docs
  storagex diagram --from-config -f dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			applyDiagramDefaults(&opts, cfg.Diagram)

			format, err := diagram.ParseFormat(opts.format)
			if err != nil {
				return err
			}
			d := buildDiagram(cfg, opts)

			spinner := newSpinnerWithContext(ctx, "Rendering diagram...")
			spinner.Start()
			path, err := diagram.Write(ctx, d, opts.outDir, format)
			if err != nil {
				spinner.Stop()
				return err
			}
			spinner.StopWithSuccess("Rendered " + d.Title)
			printFile(path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "output", "o", "", "output directory (default: diagram.out_dir or .)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: png, svg, jpg or dot (default: diagram.format)")
	cmd.Flags().StringVar(&opts.title, "title", "", "diagram title (default: diagram.title)")
	cmd.Flags().StringVar(&opts.direction, "direction", "", "layout direction: LR, RL, TB or BT (default: diagram.direction)")
	cmd.Flags().BoolVar(&opts.fromConfig, "from-config", false, "draw the configured backends")

	return cmd
}

// applyDiagramDefaults fills unset flags from the configuration.
func applyDiagramDefaults(opts *diagramOpts, cfg config.DiagramConfig) {
	if opts.outDir == "" {
		opts.outDir = cfg.OutDir
	}
	if opts.outDir == "" {
		opts.outDir = "."
	}
	if opts.format == "" {
		opts.format = cfg.Format
	}
	if opts.title == "" {
		opts.title = cfg.Title
	}
	if opts.direction == "" {
		opts.direction = cfg.Direction
	}
}

// buildDiagram returns the reference or configured architecture with the
// title and direction overrides applied.
func buildDiagram(cfg *config.Config, opts diagramOpts) *diagram.Diagram {
	d := diagram.Architecture()
	if opts.fromConfig {
		d = diagram.FromConfig(cfg)
	}
	if opts.title != "" {
		d.Title = opts.title
	}
	if opts.direction != "" {
		d.Direction = strings.ToUpper(opts.direction)
	}
	return d
}
