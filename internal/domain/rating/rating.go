// Package rating implements the team-based, zero-sum Jass-Elo match rating.
//
// A game between two 2-player teams yields one team delta
//
//	teamDeltaA = K * (actual(stricheA, stricheB) - expected(teamA, teamB))
//
// with teamDeltaB = -teamDeltaA, split equally between the team's members.
// A team can win on Striche and still lose rating when its expected score
// exceeded its actual share; that is how the formula is meant to behave.
package rating

import (
	"fmt"
	"math"
)

// Defaults of the production rating scale.
const (
	DefaultScale         = 1000.0
	DefaultK             = 15.0
	DefaultBaseline      = 100.0
	DefaultRampMaxGames  = 50
	DefaultRampMinFactor = 0.1
	drawScore            = 0.5
	playersPerTeam       = 2.0
	logisticBase         = 10.0
	sidesPerGame         = 2.0
)

// Mode selects how the processor treats bad numbers.
type Mode int

const (
	// ModeStrict rejects negative or non-finite Strich counts with
	// ErrInvalidInput. Live processing uses it.
	ModeStrict Mode = iota
	// ModeClamp treats negative or non-finite Strich counts as zero.
	// Rebuilds use it because historical data contains such records.
	ModeClamp
)

func (m Mode) String() string {
	if m == ModeClamp {
		return "clamp"
	}
	return "strict"
}

// Match is the input of one game: both teams' current ratings, the Strich
// totals and each side's effective K-factor.
type Match struct {
	TeamA    [2]float64
	TeamB    [2]float64
	StricheA float64
	StricheB float64
	KA       float64
	KB       float64
}

// Outcome is the result of one game. PlayerDeltaA applies to both members
// of team A, PlayerDeltaB to both members of team B.
type Outcome struct {
	TeamRatingA  float64
	TeamRatingB  float64
	Expected     float64
	Actual       float64
	K            float64
	TeamDeltaA   float64
	TeamDeltaB   float64
	PlayerDeltaA float64
	PlayerDeltaB float64
}

// Processor computes match outcomes. It holds no state besides its
// parameters and is safe for concurrent use.
type Processor struct {
	scale float64
	mode  Mode
}

// NewProcessor creates a processor with the default scale in strict mode.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		scale: DefaultScale,
		mode:  ModeStrict,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scale returns the logistic divisor.
func (p *Processor) Scale() float64 { return p.scale }

// Mode returns the input handling mode.
func (p *Processor) Mode() Mode { return p.mode }

// Process computes the zero-sum outcome of one game.
func (p *Processor) Process(m Match) (Outcome, error) {
	for _, r := range [...]float64{m.TeamA[0], m.TeamA[1], m.TeamB[0], m.TeamB[1]} {
		if !finite(r) {
			return Outcome{}, fmt.Errorf("%w: rating %v", ErrInvalidInput, r)
		}
	}
	if !finite(m.KA) || !finite(m.KB) || m.KA < 0 || m.KB < 0 {
		return Outcome{}, fmt.Errorf("%w: k-factor %v/%v", ErrInvalidInput, m.KA, m.KB)
	}

	sa, sb := m.StricheA, m.StricheB
	switch p.mode {
	case ModeClamp:
		sa, sb = sanitizeCount(sa), sanitizeCount(sb)
	default:
		if !finite(sa) || !finite(sb) || sa < 0 || sb < 0 {
			return Outcome{}, fmt.Errorf("%w: striche %v:%v", ErrInvalidInput, sa, sb)
		}
	}

	out := Outcome{
		TeamRatingA: TeamRating(m.TeamA[0], m.TeamA[1]),
		TeamRatingB: TeamRating(m.TeamB[0], m.TeamB[1]),
		Actual:      ActualScore(sa, sb),
		K:           MatchK(m.KA, m.KB),
	}
	out.Expected = Expected(out.TeamRatingA, out.TeamRatingB, p.scale)
	out.TeamDeltaA = out.K * (out.Actual - out.Expected)
	out.TeamDeltaB = -out.TeamDeltaA
	out.PlayerDeltaA = out.TeamDeltaA / playersPerTeam
	out.PlayerDeltaB = -out.PlayerDeltaA
	return out, nil
}

// TeamRating is the mean of the two members' ratings.
func TeamRating(a, b float64) float64 {
	return (a + b) / playersPerTeam
}

// Expected is the logistic win expectation of x against y.
func Expected(x, y, scale float64) float64 {
	return 1 / (1 + math.Pow(logisticBase, (y-x)/scale))
}

// ActualScore is team A's share of all Striche; a game without any Striche
// counts as a draw.
func ActualScore(stricheA, stricheB float64) float64 {
	total := stricheA + stricheB
	if total <= 0 {
		return drawScore
	}
	return clamp(stricheA/total, 0, 1)
}

// MatchK averages the two sides' effective K so both teams move by the same
// magnitude.
func MatchK(kA, kB float64) float64 {
	return (kA + kB) / sidesPerGame
}
