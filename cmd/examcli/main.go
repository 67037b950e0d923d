package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/engine"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/remote"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// Logs go to stderr so the exam display on stdout stays readable.
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("examcli failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, in io.Reader, out *os.File) error {
	// ─── Remote Authority ──────────────────────────────────────────────
	client := remote.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.HTTPTimeout)
	if cfg.APIToken == "" {
		guestCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
		guest, err := client.Guest(guestCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("obtain guest identity: %w", err)
		}
		log.Info().Str("user_id", guest.UserID).Msg("Using guest identity")
		cfg.APIToken = guest.Token
		client = client.WithToken(guest.Token)
	}

	var authority remote.Authority = client
	if cfg.AnswerTransport == "ws" {
		answers := remote.NewWSAnswers(cfg.WSBaseURL, cfg.APIToken, log)
		defer answers.Close()
		authority = remote.WithAnswerTransport(client, answers)
	}

	// ─── Snapshot Slot ─────────────────────────────────────────────────
	store, closeStore, err := snapshot.Open(ctx, cfg, log)
	if err != nil {
		// The engine runs without a slot; the view reports it.
		log.Warn().Err(err).Str("driver", cfg.SnapshotDriver).Msg("Snapshot store unavailable, falling back to memory")
		store, closeStore = snapshot.NewMemoryStore(), func() {}
	}
	defer closeStore()

	// ─── Engine ────────────────────────────────────────────────────────
	eng := engine.New(authority, store,
		engine.WithLogger(log),
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithRetryPolicy(engine.RetryPolicy{
			Attempts:   cfg.FinishRetryAttempts,
			Backoff:    cfg.FinishRetryBackoff,
			MaxBackoff: cfg.FinishRetryMaxBackoff,
		}),
		engine.WithMetrics(metrics.NewEngine(prometheus.NewRegistry())),
	)

	engCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()
	engDone := make(chan error, 1)
	go func() { engDone <- eng.Run(engCtx) }()

	if err := eng.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not restore previous exam")
	}

	// ─── Display ───────────────────────────────────────────────────────
	d := &display{out: out, tty: term.IsTerminal(int(out.Fd()))}
	views, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	go d.follow(views)

	cmd := &commander{
		sess:         eng,
		out:          d,
		defaultCount: cfg.DefaultQuestionCount,
		defaultDur:   cfg.DefaultDurationSec,
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	d.prompt(eng.View())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-engDone:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			d.release()
			err := cmd.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(d, "error: %v\n", err)
			}
			d.prompt(eng.View())
		}
	}
}

// display serializes writes to the terminal. On a terminal every view is
// redrawn in place; otherwise a view is printed only after a command, so
// piped output is not flooded by clock ticks.
type display struct {
	mu  sync.Mutex
	out io.Writer
	tty bool
	// held stops redraws while command output is on screen, until the next
	// input line.
	held bool
}

func (d *display) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = true
	return d.out.Write(p)
}

func (d *display) release() {
	d.mu.Lock()
	d.held = false
	d.mu.Unlock()
}

func (d *display) follow(views <-chan engine.View) {
	if !d.tty {
		for range views {
		}
		return
	}
	for v := range views {
		d.mu.Lock()
		if d.held {
			d.mu.Unlock()
			continue
		}
		io.WriteString(d.out, clearScreen)
		render(d.out, v)
		io.WriteString(d.out, "> ")
		d.mu.Unlock()
	}
}

func (d *display) prompt(v engine.View) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.tty {
		render(d.out, v)
	}
	io.WriteString(d.out, "> ")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
