package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"docket/internal/events"
	"docket/internal/logging"
	"docket/internal/pipeline"
	"docket/internal/processor"
	"docket/internal/processors"
	"docket/internal/system"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var resumeID string
	var quiet bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run the configured pipeline over one document",
		Long: "Runs the pipeline declared in the [pipeline] config section over a " +
			"single document and prints per-stage results. With --resume, continues " +
			"a checkpointed pipeline instead of starting a new one.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			resumeID = strings.TrimSpace(resumeID)
			if resumeID == "" && len(args) == 0 {
				return errors.New("a document path or --resume is required")
			}

			logger := logging.NewNop()
			if verbose {
				logger, err = logging.NewFromConfig(cfg)
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}

			registry := processor.NewRegistry()
			if err := processors.RegisterBuiltins(registry); err != nil {
				return fmt.Errorf("register processors: %w", err)
			}

			sys, err := system.New(cfg, logger, system.Options{Registry: registry, SkipLock: true})
			if err != nil {
				return err
			}
			defer sys.Close()

			runCtx := cmd.Context()
			if err := sys.Start(runCtx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			waitRender := func() {}
			if !quiet {
				sub := sys.Bus().Subscribe(256,
					events.TopicStageStarted,
					events.TopicStageCompleted,
					events.TopicStageFailed,
					events.TopicStageSkipped,
					events.TopicTaskRetrying,
					events.TopicTaskProgress,
				)
				done := make(chan struct{})
				go func() {
					defer close(done)
					renderEvents(out, sub)
				}()
				waitRender = func() {
					sub.Close()
					<-done
				}
			}

			pcfg := system.PipelineFromConfig(cfg)
			var p *pipeline.Pipeline
			if resumeID != "" {
				p, err = sys.Manager().Resume(runCtx, pcfg, resumeID)
			} else {
				p, err = createDocumentPipeline(runCtx, sys, pcfg, args[0])
			}
			if err != nil {
				waitRender()
				return err
			}

			execErr := sys.Manager().Execute(runCtx, p)
			waitRender()

			printSummary(out, p)
			if execErr != nil {
				return execErr
			}
			fmt.Fprintf(out, "pipeline %s %s in %s\n", p.ID, p.Status(), formatDuration(runDuration(p)))
			return nil
		},
	}

	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume a checkpointed pipeline by ID")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress stage progress output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Emit structured logs while running")
	return cmd
}

func createDocumentPipeline(ctx context.Context, sys *system.System, pcfg pipeline.Config, arg string) (*pipeline.Pipeline, error) {
	path, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("document %s is a directory", path)
	}

	doc := pipeline.Document{
		Path: path,
		Metadata: map[string]string{
			"source":   "cli",
			"filename": filepath.Base(path),
		},
	}
	return sys.Manager().Create(ctx, pcfg, doc)
}

// renderEvents prints stage lifecycle lines as the run progresses. Percent
// updates repaint in place and only on a terminal; plain output keeps one
// line per stage transition.
func renderEvents(out io.Writer, sub *events.Subscription) {
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	inProgress := false
	endProgress := func() {
		if inProgress {
			fmt.Fprintln(out)
			inProgress = false
		}
	}

	for evt := range sub.C() {
		stage := payloadString(evt.Payload, events.KeyStage)
		switch evt.Topic {
		case events.TopicStageStarted:
			endProgress()
			fmt.Fprintf(out, "  RUN   %s (%s)\n", stage, payloadString(evt.Payload, events.KeyLane))
		case events.TopicStageCompleted:
			endProgress()
			fmt.Fprintf(out, "  OK    %s (%s)\n", stage, payloadString(evt.Payload, events.KeyDuration))
		case events.TopicStageFailed:
			endProgress()
			fmt.Fprintf(out, "  FAIL  %s: %s\n", stage, payloadString(evt.Payload, events.KeyError))
		case events.TopicStageSkipped:
			endProgress()
			fmt.Fprintf(out, "  SKIP  %s: %s\n", stage, payloadString(evt.Payload, events.KeyReason))
		case events.TopicTaskRetrying:
			endProgress()
			fmt.Fprintf(out, "  RETRY %s (attempt %v)\n", stage, evt.Payload[events.KeyAttempt])
		case events.TopicTaskProgress:
			if !interactive {
				continue
			}
			percent, _ := evt.Payload[events.KeyPercent].(float64)
			fmt.Fprintf(out, "\r  ...   %s %3.0f%% %s", stage, percent, payloadString(evt.Payload, events.KeyMessage))
			inProgress = true
		}
	}
	endProgress()
}

func printSummary(out io.Writer, p *pipeline.Pipeline) {
	snapshot := p.StageSnapshot()
	rows := make([][]string, 0, len(p.Config.Stages))
	for _, stage := range p.Config.Stages {
		result, ok := snapshot[stage.Name]
		if !ok {
			rows = append(rows, []string{stage.Name, string(pipeline.StagePending), "", "", ""})
			continue
		}
		rows = append(rows, []string{
			stage.Name,
			string(result.Status),
			formatDuration(result.Duration()),
			strconv.Itoa(result.Attempts),
			result.Error,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Duration", "Attempts", "Error"}, rows, 3, 4))
}

func payloadString(payload events.Payload, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func runDuration(p *pipeline.Pipeline) time.Duration {
	started, finished := p.StartedAt(), p.FinishedAt()
	if started.IsZero() || finished.IsZero() {
		return 0
	}
	return finished.Sub(started)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Millisecond).String()
}
