// Command jasselo-admin operates on the rating store directly: it imports
// historical sessions, runs rebuilds and checks ledger consistency.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	app "github.com/okian/jasselo/internal/app"
	"github.com/okian/jasselo/internal/config"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rebuild"
	"github.com/okian/jasselo/pkg/logger"
)

// errFailed marks a command that ran but reported a failure; its JSON output
// has already been written.
var errFailed = errors.New("command failed")

// CLI is the command line of jasselo-admin.
var CLI struct {
	Config   string `help:"YAML config file; overrides JASSELO_CONFIG." type:"existingfile"`
	LogLevel string `help:"Log level override." name:"log-level"`
	Offline  bool   `help:"No server shares the store; allow a process-local lock."`

	Rebuild rebuildCmd `cmd:"" help:"Reset ratings and replay archived sessions."`
	Import  importCmd  `cmd:"" help:"Archive sessions from a JSON corpus file."`
	Correct correctCmd `cmd:"" help:"Replace archived sessions with corrected data."`
	Verify  verifyCmd  `cmd:"" help:"Check history continuity and zero-sum per game."`
	Show    showCmd    `cmd:"" help:"Print a player's rating and history."`
}

type rebuildCmd struct {
	Scope string `help:"all or group:<id>." default:"all"`
}

type importCmd struct {
	Corpus  string `arg:"" help:"JSON array of sessions." type:"existingfile"`
	Rebuild bool   `help:"Run a full rebuild after importing."`
}

type correctCmd struct {
	Corpus  string `arg:"" help:"JSON array of corrected sessions." type:"existingfile"`
	Rebuild bool   `help:"Run a full rebuild after correcting."`
}

type verifyCmd struct{}

type showCmd struct {
	Player string `arg:"" help:"Player id."`
	Limit  int    `help:"Most recent history entries to print; 0 prints all." default:"0"`
}

// adminEnv is bound into every command.
type adminEnv struct {
	ctx context.Context
	svc *app.Service
	out io.Writer
}

func (r *adminEnv) print(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Run resets and replays; it fails unless the run ends DONE.
func (c *rebuildCmd) Run(rt *adminEnv) error {
	scope, err := rebuild.ParseScope(c.Scope)
	if err != nil {
		return err
	}
	sum, runErr := rt.svc.Rebuild(rt.ctx, scope)
	if err := rt.print(sum); err != nil {
		return err
	}
	if runErr != nil || sum.State != rebuild.StateDone {
		return errFailed
	}
	return nil
}

type importResult struct {
	Total   int              `json:"total"`
	Added   int              `json:"added"`
	Rebuild *rebuild.Summary `json:"rebuild,omitempty"`
}

// Run archives every session of the corpus. Sessions already archived are
// left untouched.
func (c *importCmd) Run(rt *adminEnv) error {
	sessions, err := readCorpus(c.Corpus)
	if err != nil {
		return err
	}
	added, err := rt.svc.Import(rt.ctx, sessions)
	if err != nil {
		return err
	}
	res := importResult{Total: len(sessions), Added: added}
	var runErr error
	if c.Rebuild {
		var sum rebuild.Summary
		sum, runErr = rt.svc.Rebuild(rt.ctx, rebuild.ScopeAll)
		res.Rebuild = &sum
	}
	if err := rt.print(res); err != nil {
		return err
	}
	if runErr != nil || (res.Rebuild != nil && res.Rebuild.State != rebuild.StateDone) {
		return errFailed
	}
	return nil
}

type correctResult struct {
	Corrected []string         `json:"corrected"`
	Rebuild   *rebuild.Summary `json:"rebuild,omitempty"`
}

// Run replaces every listed session in the archive. A session that was
// never archived fails the command before anything is rebuilt.
func (c *correctCmd) Run(rt *adminEnv) error {
	sessions, err := readCorpus(c.Corpus)
	if err != nil {
		return err
	}
	res := correctResult{Corrected: make([]string, 0, len(sessions))}
	for i := range sessions {
		if err := rt.svc.CorrectSession(rt.ctx, sessions[i]); err != nil {
			return err
		}
		res.Corrected = append(res.Corrected, sessions[i].ID)
	}
	var runErr error
	if c.Rebuild {
		var sum rebuild.Summary
		sum, runErr = rt.svc.Rebuild(rt.ctx, rebuild.ScopeAll)
		res.Rebuild = &sum
	}
	if err := rt.print(res); err != nil {
		return err
	}
	if runErr != nil || (res.Rebuild != nil && res.Rebuild.State != rebuild.StateDone) {
		return errFailed
	}
	return nil
}

// Run prints the consistency report; problems make the command fail.
func (c *verifyCmd) Run(rt *adminEnv) error {
	rep, err := rt.svc.Verify(rt.ctx)
	if err != nil && !errors.Is(err, rebuild.ErrInconsistent) {
		return err
	}
	if err := rt.print(rep); err != nil {
		return err
	}
	if !rep.OK() {
		return errFailed
	}
	return nil
}

type showResult struct {
	Rating  any `json:"rating"`
	History any `json:"history"`
}

// Run prints the rating view and history of one player.
func (c *showCmd) Run(rt *adminEnv) error {
	view, err := rt.svc.Rating(rt.ctx, c.Player)
	if err != nil {
		return fmt.Errorf("player %s: %w", c.Player, err)
	}
	hist, err := rt.svc.PlayerHistory(rt.ctx, c.Player, c.Limit)
	if err != nil {
		return fmt.Errorf("player %s: %w", c.Player, err)
	}
	return rt.print(showResult{Rating: view, History: hist})
}

// readCorpus decodes a JSON array of session payloads. Every session must
// carry completed_at; it fixes the session's place in the replay.
func readCorpus(path string) ([]model.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var payloads []model.SessionPayload
	if err := json.NewDecoder(f).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	sessions := make([]model.Session, 0, len(payloads))
	for i, p := range payloads {
		s, err := p.ToSession()
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		if s.CompletedAt.IsZero() {
			return nil, fmt.Errorf("session %d (%s): %w", i, s.ID, app.ErrUndated)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func main() {
	_ = godotenv.Load()

	kctx := kong.Parse(&CLI,
		kong.Name("jasselo-admin"),
		kong.Description("Jass Elo rating store administration"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if err := logger.InitWithWriter(os.Stderr, false); err != nil {
		kctx.FatalIfErrorf(err)
	}
	if CLI.Config != "" {
		kctx.FatalIfErrorf(os.Setenv(config.EnvConfig, CLI.Config))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	if err := execute(ctx, kctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "jasselo-admin: %s\n", err)
		}
		code = 1
	}
	stop()
	os.Exit(code)
}

// execute opens the configured store and runs the selected command.
func execute(ctx context.Context, kctx *kong.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if CLI.LogLevel != "" {
		level = CLI.LogLevel
	}
	if err := logger.SetLevelString(level); err != nil {
		return err
	}
	if !CLI.Offline {
		if err := cfg.ValidateShared(); err != nil {
			return fmt.Errorf("%w (pass --offline when no server is running)", err)
		}
	}

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	gate, closeGate, err := app.OpenGate(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeGate() }()

	svc, err := app.NewFromConfig(cfg, backend, gate, app.WithLogger(logger.Named("admin")))
	if err != nil {
		return err
	}
	return kctx.Run(&adminEnv{ctx: ctx, svc: svc, out: os.Stdout})
}
