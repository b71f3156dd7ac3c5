// Command turnroomd runs the turn-room orchestration daemon: a shared
// chat room driven by a round-robin TurnManager, each agent exchanging
// turns under a single ChannelLock and a single-flight TransportGate.
// Grounded on the teacher's cmd/ binaries (plain main wiring) and
// goclaw's cmd/copilot/commands/serve.go for the cobra command shape and
// the config → logger → run ordering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loopwire/turnroom/agent"
	"github.com/loopwire/turnroom/chatlock"
	"github.com/loopwire/turnroom/chatroom"
	"github.com/loopwire/turnroom/config"
	"github.com/loopwire/turnroom/control"
	"github.com/loopwire/turnroom/guardrail"
	"github.com/loopwire/turnroom/llm"
	"github.com/loopwire/turnroom/runtime"
	"github.com/loopwire/turnroom/scheduler"
	"github.com/loopwire/turnroom/toolexec"
	"github.com/loopwire/turnroom/turnengine"
	"github.com/loopwire/turnroom/transportgate"
	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "turnroomd",
		Short: "Multi-agent turn-room orchestration daemon",
		Long: `turnroomd runs a shared chat room of LLM agents that take turns under a
round-robin scheduler, a single channel lock, and a single-flight transport
gate to the configured provider.

Examples:
  turnroomd serve
  turnroomd serve --config ./turnroom.yaml`,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the YAML config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration daemon",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if len(opts.Agents) == 0 {
		return fmt.Errorf("turnroomd: no agents configured; add at least one entry under agents:")
	}

	lock := chatlock.New(opts.LockMaxMs, func(holder string, heldFor time.Duration) {
		logger.Warn("channel lock: forced release", "holder", holder, "held_for", heldFor)
	})
	defer lock.Stop()

	gate := transportgate.New(1, opts.TransportCooldownMs)
	room := chatroom.New(time.Duration(opts.FreshWindowMs) * time.Millisecond)
	ctrl := control.New()
	// rtCtx carries the shared logger and lock/gate handles for components
	// that accept runtime.Context instead of concrete types; engines and the
	// scheduler here use the concrete types directly since they need methods
	// (Touch, Cooling, AtCapacity) the narrow Locker/Gate interfaces don't
	// expose.
	rtCtx := runtime.New(lock, gate, logger)
	logger = rtCtx.Logger

	transport := llm.NewTransport(opts.BaseURL, opts.Fallback)
	summarizer, err := llm.NewSummarizer(opts.Model, opts.APIKey, opts.BaseURL)
	if err != nil {
		logger.Warn("summarizer unavailable, compaction summaries disabled", "err", err)
		summarizer = nil
	}

	dispatcher := toolexec.NewDispatcher(
		toolexec.NewShellTool(opts.WorkspaceRoot),
		toolexec.NewWriteTool(opts.WorkspaceRoot),
		toolexec.NewFetchTool(5*1024*1024),
	)

	turnCfg := turnengine.Config{
		MaxHops:             opts.MaxHops,
		MaxToolCallsPerTurn: opts.MaxToolCallsPerTurn,
		IdleTimeout:         time.Duration(opts.IdleStreamMs) * time.Millisecond,
		HardStop:            time.Duration(opts.HardStopMs) * time.Millisecond,
	}

	mgr := scheduler.New(scheduler.Config{
		TickMs:        opts.TickMs,
		TurnTimeoutMs: opts.TurnTimeoutMs,
		IdleBackoffMs: opts.IdleBackoffMs,
		ProactiveMs:   opts.ProactiveMs,
		PokeAfterMs:   opts.PokeAfterMs,
	}, gate, room, ctrl)

	for _, spec := range opts.Agents {
		ag := agent.New(spec.ID, firstNonEmpty(spec.Model, opts.Model), spec.SystemPrompt)
		if err := room.AddModel(ag); err != nil {
			return fmt.Errorf("turnroomd: registering agent %s: %w", spec.ID, err)
		}
		eng := &turnengine.Engine{
			Self:       ag,
			Room:       room,
			Lock:       lock,
			Gate:       gate,
			Transport:  transport,
			Summarizer: summarizer,
			Detectors:  guardrail.Default(),
			Dispatcher: dispatcher,
			Ctrl:       ctrl,
			Cfg:        turnCfg,
		}
		mgr.AddAgent(eng)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("turnroomd: starting", "agents", len(opts.Agents))
	mgr.Run(ctx)
	logger.Info("turnroomd: shut down")
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
