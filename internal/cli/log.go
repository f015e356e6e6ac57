// Package cli implements the storagex command-line interface.
//
// The commands move files in and out of the configured backends (upload,
// download, rm, ls, info, verify), inspect the deployment (backends,
// diagram, browse), run the HTTP service (serve) and manage local state
// (config, cache). The CLI is built using cobra and logs through
// charmbracelet/log.
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging, as does
// log.debug in the config file. Loggers are passed through context.Context
// to allow structured progress tracking.
//
// # Example
//
//	c := cli.New(os.Stderr, cli.LogInfo)
//	if err := c.RootCommand().ExecuteContext(ctx); err != nil {
//	    os.Exit(1)
//	}
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// newLogger creates a logger writing to w at level, with timestamps like
// "14:32:01.45".
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress measures one transfer and logs its duration and throughput.
// It is not safe for concurrent use.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg with the elapsed time, rounded to the millisecond, and the
// transfer rate when size is known.
// Example output: "Verified report.pdf (1.234s)" rate="850 KiB/s"
func (p *progress) done(msg string, size int64) {
	elapsed := time.Since(p.start)
	line := fmt.Sprintf("%s (%s)", msg, elapsed.Round(time.Millisecond))
	if size <= 0 || elapsed <= 0 {
		p.logger.Info(line)
		return
	}
	rate := uint64(float64(size) / elapsed.Seconds())
	p.logger.Info(line, "rate", humanize.IBytes(rate)+"/s")
}

type loggerKey struct{}

// withLogger returns a new context with the given logger attached.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// loggerFromContext retrieves the logger from ctx, or log.Default() when
// none is attached.
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
