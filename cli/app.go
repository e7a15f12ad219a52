// Package cli contains the armarker command, which plays scripted marker tracking scenarios.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/armarker/logging"
)

const (
	// Flags.
	flagDebug     = "debug"
	flagScenario  = "scenario"
	flagWatch     = "watch"
	flagRealtime  = "realtime"
	flagQuietTime = "watch-quiet-time"
)

var app = &cli.App{
	Name:            "armarker",
	Usage:           "play scripted marker tracking scenarios",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "play a scenario through a tracking session and report marker visibility",
			UsageText: "armarker run --scenario <file> [--watch] [--realtime]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagScenario,
					Aliases:  []string{"s"},
					Required: true,
					Usage:    "load the scenario from `FILE`",
				},
				&cli.BoolFlag{
					Name:  flagWatch,
					Usage: "replay the scenario whenever its calibration file changes",
				},
				&cli.BoolFlag{
					Name:  flagRealtime,
					Usage: "pace frames by the scenario's tick interval instead of simulating time",
				},
				&cli.DurationFlag{
					Name:  flagQuietTime,
					Value: DefaultWatchDebounce,
					Usage: "how long the calibration file must stay unchanged before replaying",
				},
			},
			Action: RunAction,
		},
	},
}

// NewApp returns the armarker app writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("armarker")
	}
	return logging.NewLogger("armarker")
}

// RunAction is the corresponding Action for 'run'.
func RunAction(c *cli.Context) error {
	logger := newLogger(c)
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()

	sc, err := LoadScenario(c.Path(flagScenario))
	if err != nil {
		return err
	}
	clk := clock.Clock(clock.NewMock())
	if c.Bool(flagRealtime) {
		clk = clock.New()
	}
	runner, err := NewRunner(sc, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warnw("error shutting down", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		return errors.Wrap(err, "scenario failed")
	}
	printSummary(c.App.Writer, runner)
	if !c.Bool(flagWatch) {
		return nil
	}
	return watchAndReplay(ctx, c, runner, sc.Calibration, logger)
}

func watchAndReplay(ctx context.Context, c *cli.Context, runner *Runner, calibration string, logger logging.Logger) error {
	changed, err := watchFile(ctx, calibration, c.Duration(flagQuietTime), logger)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "watching %s for changes, press Ctrl+C to stop", calibration)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
		logger.Infow("calibration changed, replaying scenario", "calibration", calibration)
		if err := runner.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A half-written calibration is expected while it is being edited.
			warningf(c.App.ErrWriter, "replay failed: %v", err)
			continue
		}
		printSummary(c.App.Writer, runner)
	}
}

func printSummary(w io.Writer, runner *Runner) {
	printf(w, "%s", summaryTable(runner))
}

// summaryTable renders one row per marker with its visibility, detection count and last pose.
func summaryTable(runner *Runner) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Marker", "Layers", "Visible", "Detections", "Position", "Rotation"})
	for _, b := range runner.Bindings() {
		pose := b.Pose()
		roll, pitch, yaw := pose.Rotation.Degrees()
		t.AppendRow(table.Row{
			b.Name(),
			fmt.Sprintf("%#x", uint32(b.Layers())),
			b.Active(),
			b.Detections(),
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", pose.Position.X, pose.Position.Y, pose.Position.Z),
			fmt.Sprintf("Roll:%.2f, Pitch:%.2f, Yaw:%.2f", roll, pitch, yaw),
		})
	}
	return t.Render()
}

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, color.New(color.Bold, color.FgYellow).Sprint("Warning: ")+format+"\n", a...)
}
