// Command jasselo-sim generates Jass sessions, submits them to a running
// service and checks the resulting ledger over the read API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/okian/jasselo/internal/simulate"
	"github.com/okian/jasselo/pkg/logger"
)

// defaultRunTimeout bounds a whole run.
const defaultRunTimeout = 10 * time.Minute

// CLI is the command line of jasselo-sim.
var CLI struct {
	URL             string        `help:"Base URL of the service." default:"http://localhost:9080"`
	Players         int           `help:"Size of the player pool." default:"${players}"`
	Sessions        int           `help:"Number of sessions to submit." default:"${sessions}"`
	GamesPerSession int           `help:"Upper bound of games per session." default:"${games}"`
	Groups          int           `help:"Number of groups." default:"${groups}"`
	Malformed       float64       `help:"Share of games generated malformed." default:"${malformed}"`
	Workers         int           `help:"Concurrent submitters; 1 keeps completion order." default:"${workers}"`
	Timeout         time.Duration `help:"HTTP request timeout." default:"${timeout}"`
	Settle          time.Duration `help:"How long to wait for sessions to be rated." default:"${settle}"`
	RunTimeout      time.Duration `help:"Upper bound of the whole run." default:"${run_timeout}"`
	Seed            int64         `help:"Generator seed; 0 uses the clock."`
	Rebuild         bool          `help:"Rebuild after submitting and verify again."`
	Output          string        `help:"Write the generated corpus to this file." type:"path"`
	Verbose         bool          `help:"Log every failed submission."`
	JSON            bool          `help:"Print the statistics as JSON." name:"json"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("jasselo-sim"),
		kong.Description("Jass Elo load and consistency simulator"),
		kong.UsageOnError(),
		kong.Vars{
			"players":     fmt.Sprint(simulate.DefaultPlayers),
			"sessions":    fmt.Sprint(simulate.DefaultSessions),
			"games":       fmt.Sprint(simulate.DefaultGamesPerSession),
			"groups":      fmt.Sprint(simulate.DefaultGroups),
			"malformed":   fmt.Sprint(simulate.DefaultMalformedRate),
			"workers":     fmt.Sprint(runtime.NumCPU()),
			"timeout":     simulate.DefaultTimeout.String(),
			"settle":      simulate.DefaultSettleTimeout.String(),
			"run_timeout": defaultRunTimeout.String(),
		})

	if err := logger.InitWithWriter(os.Stderr, CLI.JSON); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, CLI.RunTimeout)
	code := run(ctx)
	cancel()
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	seed := CLI.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cfg := &simulate.Config{
		BaseURL:         CLI.URL,
		Players:         CLI.Players,
		Sessions:        CLI.Sessions,
		GamesPerSession: CLI.GamesPerSession,
		Groups:          CLI.Groups,
		MalformedRate:   CLI.Malformed,
		Workers:         CLI.Workers,
		Timeout:         CLI.Timeout,
		SettleTimeout:   CLI.Settle,
		Seed:            seed,
		Rebuild:         CLI.Rebuild,
		OutputFile:      CLI.Output,
		Verbose:         CLI.Verbose,
	}

	stats, err := simulate.Run(ctx, cfg)
	if CLI.JSON && stats != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, simulate.ErrInconsistent) {
		for _, r := range []*simulate.Report{stats.Live, stats.Rebuilt} {
			if r == nil {
				continue
			}
			for _, p := range r.Problems {
				fmt.Fprintln(os.Stderr, p)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "jasselo-sim: %s\n", err)
	return 1
}
