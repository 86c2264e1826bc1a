package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentkit/pkg/agent"
	"agentkit/pkg/agent/middleware/metrics"
	"agentkit/pkg/eventlog"
	"agentkit/pkg/history"
	"agentkit/pkg/logx"
	"agentkit/pkg/persistence"
	"agentkit/pkg/schema"
)

const agentName = "agentchat"

//nolint:gochecknoglobals // cobra command tree
var (
	sessionFlag  string
	streamFlag   bool
	metricsFlag  bool
	keepSnapshot int
	eventLogDir  string
)

//nolint:gochecknoglobals // cobra command tree
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat with the configured model.

Each line read from stdin is one user turn. Lines starting with '/' are
commands:
  /exit, /quit   end the session
  /reset         drop the conversation and start over
  /tokens        print the token count of the next request
  /history       print the conversation so far

With --db (or persistence.db_path) the history is saved after every turn
and can be resumed with --session.

Examples:
  agentchat chat -m gpt-4o-mini
  agentchat chat --db history.db --stream
  agentchat chat --db history.db --session 5f0c...`,
	Args: cobra.NoArgs,
	RunE: runChatCommand,
}

func init() { //nolint:gochecknoinits // cobra wiring
	chatCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "resume a persisted session")
	chatCmd.Flags().BoolVar(&streamFlag, "stream", false, "print replies as they are generated")
	chatCmd.Flags().BoolVar(&metricsFlag, "metrics", false, "print Prometheus metrics on exit")
	chatCmd.Flags().IntVar(&keepSnapshot, "keep-snapshots", 20, "history snapshots kept per session")
	chatCmd.Flags().StringVar(&eventLogDir, "event-log", "", "directory for JSONL lifecycle event logs")
}

func runChatCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := unlockSecrets(); err != nil {
		return err
	}

	var registry *prometheus.Registry
	if metricsFlag {
		cfg.Metrics.Enabled = true
		registry = prometheus.NewRegistry()
	}
	factory := agent.NewLLMClientFactory(cfg, registry)
	client, err := factory.CreateClient(cfg.Agent.Model)
	if err != nil {
		return err //nolint:wrapcheck // factory errors name the model
	}

	ops, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx = logx.WithAgentID(ctx, agentName)

	agentCfg := agent.NewConfig(cfg, client)
	session, err := newChatSession(ctx, agentCfg, ops, sessionFlag)
	if err != nil {
		return err
	}
	session.stream = streamFlag
	session.keep = keepSnapshot
	session.interactive = term.IsTerminal(int(os.Stdin.Fd()))

	if eventLogDir != "" {
		w, err := eventlog.NewWriter(eventLogDir)
		if err != nil {
			_ = session.close(nil)
			return err //nolint:wrapcheck // already descriptive
		}
		defer func() { _ = w.Close() }()
		session.agent.RegisterEventLog(w, session.id)
	}

	runErr := session.loop(ctx, os.Stdin, cmd.OutOrStdout())

	var usage *metrics.UsageTotals
	if cfg.Metrics.Enabled {
		usage = factory.Usage(agentName)
	}
	if err := session.close(usage); err != nil {
		logger.Warn("Failed to finalize session %s: %v", session.id, err)
	}

	if registry != nil {
		if err := metrics.WriteText(cmd.ErrOrStderr(), registry); err != nil {
			logger.Warn("Failed to write metrics: %v", err)
		}
	}
	return runErr
}

// chatSession drives one agent over a line-oriented reader.
type chatSession struct {
	agent       *agent.BasicAgent
	ops         *persistence.DatabaseOperations
	requests    chan *persistence.Request
	workerDone  chan struct{}
	closeOnce   sync.Once
	id          string
	keep        int
	stream      bool
	interactive bool
}

// newChatSession builds the agent and, when ops is set, creates or resumes the persisted session.
func newChatSession(ctx context.Context, cfg agent.Config, ops *persistence.DatabaseOperations, resumeID string) (*chatSession, error) {
	s := &chatSession{ops: ops, id: resumeID}

	if ops == nil {
		if resumeID != "" {
			return nil, errors.New("--session needs a history database")
		}
		s.id = uuid.NewString()
	} else {
		if resumeID != "" {
			h, err := ops.LoadHistory(ctx, resumeID)
			switch {
			case errors.Is(err, persistence.ErrNoSnapshot):
				if _, err := ops.GetSession(ctx, resumeID); err != nil {
					return nil, err //nolint:wrapcheck // carries the session id
				}
			case err != nil:
				return nil, err //nolint:wrapcheck // carries the session id
			default:
				cfg.History = h
			}
			if err := ops.UpdateSessionStatus(ctx, resumeID, persistence.SessionStatusActive); err != nil {
				return nil, err //nolint:wrapcheck // carries the session id
			}
		} else {
			s.id = uuid.NewString()
			if _, err := ops.CreateSession(ctx, s.id, agentName, cfg.Model); err != nil {
				return nil, err //nolint:wrapcheck // carries the session id
			}
		}
	}

	a, err := agent.NewBasic(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	s.agent = a

	if ops != nil {
		s.requests = make(chan *persistence.Request, 16)
		s.workerDone = make(chan struct{})
		go func() {
			defer close(s.workerDone)
			// Queued writes must land even after the chat context is cancelled.
			persistence.NewWorker(ops).Run(context.WithoutCancel(ctx), s.requests)
		}()
	}
	logger.Info("Session %s started with model %s (%d messages restored)", s.id, a.Model(), a.History().MessageCount())
	return s, nil
}

// loop reads user turns until EOF, /exit or cancellation.
func (s *chatSession) loop(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if s.interactive {
			fmt.Fprint(out, "you> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := s.turn(ctx, line, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A failed turn keeps the session alive; the user can retry.
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		persistence.PersistHistory(s.id, s.agent.History(), s.requests)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

func (s *chatSession) turn(ctx context.Context, line string, out io.Writer) error {
	input := schema.BasicChatInput{ChatMessage: line}

	if !s.stream {
		reply, err := s.agent.Run(ctx, input)
		if err != nil {
			return err //nolint:wrapcheck // upstream errors are shown as-is
		}
		fmt.Fprintf(out, "assistant> %s\n", reply.ChatMessage)
		return nil
	}

	fmt.Fprint(out, "assistant> ")
	printed := ""
	for partial, err := range s.agent.RunStream(ctx, input) {
		if err != nil {
			fmt.Fprintln(out)
			return err //nolint:wrapcheck // upstream errors are shown as-is
		}
		printed = printDelta(out, printed, partial.ChatMessage)
	}
	fmt.Fprintln(out)
	return nil
}

// printDelta writes the part of next not yet shown. Partial JSON repair can
// rewrite earlier text, in which case the whole message is printed again.
func printDelta(out io.Writer, printed, next string) string {
	if suffix, ok := strings.CutPrefix(next, printed); ok {
		fmt.Fprint(out, suffix)
		return next
	}
	fmt.Fprintf(out, "\n%s", next)
	return next
}

func (s *chatSession) command(line string, out io.Writer) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/exit", "/quit":
		return true, nil
	case "/reset":
		s.agent.ResetHistory()
		persistence.PersistHistory(s.id, s.agent.History(), s.requests)
		fmt.Fprintln(out, "history cleared")
	case "/tokens":
		n, err := s.agent.ContextTokenCount()
		if err != nil {
			return false, err //nolint:wrapcheck // shown to the user
		}
		fmt.Fprintf(out, "%d tokens in context\n", n)
	case "/history":
		printHistory(out, s.agent.History())
	default:
		return false, fmt.Errorf("unknown command %s", line)
	}
	return false, nil
}

func printHistory(out io.Writer, h *history.History) {
	if h.MessageCount() == 0 {
		fmt.Fprintln(out, "(empty)")
		return
	}
	for m := range h.All() {
		var body any = string(m.Content)
		if msg, err := history.Decode[schema.BasicChatOutput](m); err == nil {
			body = msg
		}
		fmt.Fprintf(out, "%s\n%s\n", m.Role, schema.Render(body))
	}
}

// close drains pending writes, records usage and marks the session closed.
func (s *chatSession) close(usage *metrics.UsageTotals) error {
	var err error
	s.closeOnce.Do(func() {
		if s.ops == nil {
			return
		}
		close(s.requests)
		<-s.workerDone

		ctx := context.Background()
		if s.keep > 0 {
			if _, pruneErr := s.ops.PruneSnapshots(ctx, s.id, s.keep); pruneErr != nil {
				logger.Warn("Failed to prune snapshots for %s: %v", s.id, pruneErr)
			}
		}
		if usage != nil {
			if err = s.ops.AddUsage(ctx, s.id, usage.PromptTokens, usage.CompletionTokens); err != nil {
				return
			}
		}
		err = s.ops.UpdateSessionStatus(ctx, s.id, persistence.SessionStatusClosed)
		logger.Info("Session %s saved; resume with --session %s", s.id, s.id)
	})
	return err
}
