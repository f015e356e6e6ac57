package cli

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/storagex/pkg/app"
	"github.com/matzehuels/storagex/pkg/buildinfo"
	"github.com/matzehuels/storagex/pkg/config"
	"github.com/matzehuels/storagex/pkg/observability"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for display.
const appName = "storagex"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is the --config flag; empty means config.DefaultPath().
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "storagex spreads files across cloud storage backends",
		Long: `storagex splits files into checksummed chunks and distributes them over
Dropbox, Google Drive, S3, Redis, MongoDB and local directories, tracking
placement in a SQLite or PostgreSQL catalogue.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")

	root.AddCommand(c.uploadCommand())
	root.AddCommand(c.downloadCommand())
	root.AddCommand(c.rmCommand())
	root.AddCommand(c.lsCommand())
	root.AddCommand(c.infoCommand())
	root.AddCommand(c.verifyCommand())
	root.AddCommand(c.backendsCommand())
	root.AddCommand(c.diagramCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.browseCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Configuration
// =============================================================================

// configFile returns the config path in effect and whether it was given
// explicitly.
func (c *CLI) configFile() (string, bool) {
	if c.configPath != "" {
		return c.configPath, true
	}
	return config.DefaultPath(), false
}

// readConfig loads the configuration file without resolving secrets. A
// missing file yields the defaults.
func (c *CLI) readConfig() (*config.Config, error) {
	path, explicit := c.configFile()
	cfg, err := config.Load(path)
	if cfg == nil {
		return nil, err
	}
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			c.Logger.Warn("using default configuration", "err", err)
		} else {
			c.Logger.Debug("no config file, using defaults", "path", path)
		}
	}
	return cfg, nil
}

// loadConfig reads the configuration and resolves secret references.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := c.readConfig()
	if err != nil {
		return nil, err
	}
	for _, w := range config.LookupSecrets(cfg) {
		printWarning("%s", w)
	}
	if cfg.Log.Debug {
		c.SetLogLevel(LogDebug)
	}
	return cfg, nil
}

// =============================================================================
// Bundle Factory
// =============================================================================

// withBundle loads the configuration, assembles the storage stack and runs
// fn with it. The bundle is closed when fn returns.
func (c *CLI) withBundle(ctx context.Context, fn func(*config.Config, *app.Bundle) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	observability.NewLogHooks(c.Logger).Register()

	b, err := app.NewBundle(ctx, cfg, c.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			c.Logger.Warn("close", "err", err)
		}
	}()
	return fn(cfg, b)
}
