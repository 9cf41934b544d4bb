// Package simulate drives a running rating service over HTTP with generated
// Jass sessions and checks the ledger it builds through the read API.
package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL         string        // Base URL of the service
	Players         int           // Size of the player pool
	Sessions        int           // Number of sessions to generate
	GamesPerSession int           // Upper bound of games per session
	Groups          int           // Number of groups sessions are spread over
	MalformedRate   float64       // Share of games generated malformed
	Workers         int           // Concurrent submitters
	Timeout         time.Duration // HTTP request timeout
	SettleTimeout   time.Duration // How long to wait for sessions to be rated
	Seed            int64         // Generator seed
	Rebuild         bool          // Run a rebuild after submitting and verify again
	OutputFile      string        // Corpus file; empty skips writing it
	Verbose         bool          // Log every failed request
}

// Defaults for a simulation run.
const (
	DefaultPlayers         = 24
	DefaultSessions        = 200
	DefaultGamesPerSession = 8
	DefaultGroups          = 3
	DefaultMalformedRate   = 0.05
	DefaultTimeout         = 10 * time.Second
	DefaultSettleTimeout   = time.Minute
)

// Stats holds run statistics.
type Stats struct {
	SessionsGenerated int           `json:"sessionsGenerated"`
	GamesGenerated    int           `json:"gamesGenerated"`
	GamesMalformed    int           `json:"gamesMalformed"`
	Accepted          int           `json:"accepted"`
	Duplicate         int           `json:"duplicate"`
	Retried           int           `json:"retried"`
	OutOfOrder        int           `json:"outOfOrder"`
	Failed            int           `json:"failed"`
	Duration          time.Duration `json:"duration"`
	Live              *Report       `json:"live,omitempty"`
	Rebuilt           *Report       `json:"rebuilt,omitempty"`
}
