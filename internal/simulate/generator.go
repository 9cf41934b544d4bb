package simulate

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/okian/jasselo/internal/domain/model"
)

// maxStriche bounds generated per-game results.
const maxStriche = 9

// Plan is a generated session together with what the generator knows about
// it.
type Plan struct {
	Payload model.SessionPayload
	// Rated is false when every game of the session is malformed.
	Rated bool
}

// Generate builds cfg.Sessions sessions over a pool of cfg.Players players.
// Completion times increase with the session index. The same seed yields
// the same games; session ids are fresh UUIDs per run.
func Generate(cfg *Config, start time.Time) []Plan {
	r := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // deterministic test data
	players := make([]string, max(cfg.Players, 4))
	for i := range players {
		players[i] = fmt.Sprintf("player-%03d", i+1)
	}
	groups := max(cfg.Groups, 1)
	perSession := max(cfg.GamesPerSession, 1)

	plans := make([]Plan, 0, cfg.Sessions)
	for i := 0; i < cfg.Sessions; i++ {
		p := model.SessionPayload{
			SessionID:   uuid.NewString(),
			GroupID:     fmt.Sprintf("group-%d", i%groups+1),
			CompletedAt: start.Add(time.Duration(i) * time.Minute).UTC().Format(time.RFC3339Nano),
		}
		four := pick(r, players, 4)
		games := 1 + r.Intn(perSession)
		rated := false
		for n := 1; n <= games; n++ {
			g := game(r, n, four)
			if r.Float64() < cfg.MalformedRate {
				corrupt(r, &g)
			} else {
				rated = true
			}
			p.Games = append(p.Games, g)
		}
		plans = append(plans, Plan{Payload: p, Rated: rated})
	}
	return plans
}

// pick returns n distinct players.
func pick(r *rand.Rand, players []string, n int) []string {
	idx := r.Perm(len(players))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = players[j]
	}
	return out
}

// game seats the four players in a random pairing and draws a result,
// either as a plain total or as a tally.
func game(r *rand.Rand, number int, four []string) model.GamePayload {
	seats := pick(r, four, 4)
	g := model.GamePayload{
		GameNumber: number,
		TeamA:      seats[:2],
		TeamB:      seats[2:],
	}
	if r.Intn(2) == 0 {
		a, b := r.Intn(maxStriche+1), r.Intn(maxStriche+1)
		g.StricheA, g.StricheB = &a, &b
		return g
	}
	g.TallyA = tally(r)
	g.TallyB = tally(r)
	return g
}

func tally(r *rand.Rand) *model.StrichTally {
	return &model.StrichTally{
		Berg:   r.Intn(2),
		Sieg:   r.Intn(3),
		Matsch: r.Intn(2),
	}
}

// corrupt makes g a game the rating engine skips.
func corrupt(r *rand.Rand, g *model.GamePayload) {
	switch r.Intn(3) {
	case 0:
		g.TeamB = []string{g.TeamA[0], g.TeamB[1]}
	case 1:
		g.StricheA, g.StricheB, g.TallyA = nil, nil, nil
	default:
		g.TeamA = g.TeamA[:1]
	}
}
