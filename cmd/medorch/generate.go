package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/medorch/pkg/archive"
	"github.com/zen-systems/medorch/pkg/artifact"
	"github.com/zen-systems/medorch/pkg/orchestrator"
)

type requestFlags struct {
	taskTag   string
	providers []string
	timeout   time.Duration
	output    string

	archive    bool
	archiveDir string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.taskTag, "task", "", "task tag (inferred from the prompt when empty)")
	cmd.Flags().StringSliceVar(&f.providers, "provider", nil, "pin candidate providers in order (repeatable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "overall request deadline")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "keep the answer in the local archive")
	cmd.Flags().StringVar(&f.archiveDir, "archive-dir", "", "archive directory (default ~/.medorch/archive)")
}

// keep writes the answer artifacts and the request record to the archive.
func (f *requestFlags) keep(logger *zap.Logger, kind, id string, arts []*artifact.Artifact, record any) {
	if !f.archive {
		return
	}
	store, err := archive.NewStore(f.archiveDir)
	if err != nil {
		logger.Warn("archive unavailable", zap.Error(err))
		return
	}
	for _, a := range arts {
		if _, err := store.StoreObject(a, "artifact"); err != nil {
			logger.Warn("failed to archive artifact", zap.String("artifact_id", a.ID), zap.Error(err))
		}
	}
	path, err := store.StoreRecord(kind, id, record)
	if err != nil {
		logger.Warn("failed to archive record", zap.Error(err))
		return
	}
	logger.Info("archived", zap.String("path", path))
}

func (f *requestFlags) request(prompt string) orchestrator.Request {
	req := orchestrator.Request{
		TaskTag:   f.taskTag,
		Prompt:    prompt,
		Providers: f.providers,
	}
	if f.timeout > 0 {
		req.Deadline = time.Now().Add(f.timeout)
	}
	return req
}

// setup loads config, logger and orchestrator for one command run.
func setup() (*orchestrator.Orchestrator, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	orch, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}
	return orch, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func generateCmd() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Answer a prompt from the best available provider",
		Long: `Routes the prompt to the highest-priority provider that supports the task
	tag and is admissible, falling back through the remaining candidates on failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalContext()
			defer cancel()

			out, err := orch.Generate(ctx, flags.request(args[0]))
			if err != nil {
				return err
			}
			flags.keep(logger, "generate", out.RequestID, []*artifact.Artifact{out.Artifact}, out)

			w := cmd.OutOrStdout()
			switch flags.output {
			case "json":
				return writeJSONTo(w, out)
			case "yaml":
				return writeYAMLTo(w, out)
			}
			fmt.Fprintln(w, out.Artifact.Content)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s/%s task=%s attempts=%d fallback=%t cost=$%s latency=%s]\n",
				out.Provider, out.Model, out.TaskTag, out.Attempts, out.Fallback, out.Cost.StringFixed(4), out.Latency)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func synthesizeCmd() *cobra.Command {
	var flags requestFlags
	var count int

	cmd := &cobra.Command{
		Use:   "synthesize [prompt]",
		Short: "Fan a prompt out to several providers and merge the answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalContext()
			defer cancel()

			req := flags.request(args[0])
			req.SynthesizeCount = count
			res, err := orch.Synthesize(ctx, req)
			if err != nil {
				return err
			}
			flags.keep(logger, "synthesize", res.RequestID, nil, res)

			w := cmd.OutOrStdout()
			switch flags.output {
			case "json":
				return writeJSONTo(w, res)
			case "yaml":
				return writeYAMLTo(w, res)
			}
			fmt.Fprint(w, res.Markdown())
			if res.Partial() {
				fmt.Fprintf(cmd.ErrOrStderr(), "partial synthesis: %d of %d providers answered\n", res.Available, res.Requested)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", orchestrator.DefaultSynthesizeCount, "number of providers to query")
	return cmd
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAMLTo(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
