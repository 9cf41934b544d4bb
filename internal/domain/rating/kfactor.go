package rating

import (
	"fmt"
	"strings"
)

// Names of the supported K-factor policies.
const (
	PolicyFlat = "flat"
	PolicyRamp = "ramp"
)

// KPolicy yields a player's effective K-factor from the number of games
// the player has played before the current one.
type KPolicy interface {
	K(gamesPlayed int) float64
	Name() string
}

// FlatK gives every player the same K regardless of experience.
type FlatK struct {
	Base float64
}

// K returns the constant base.
func (f FlatK) K(int) float64 { return f.Base }

// Name returns "flat".
func (f FlatK) Name() string { return PolicyFlat }

// RampK scales the base K linearly from MinFactor at zero games played to
// the full base at MaxGames and beyond.
type RampK struct {
	Base      float64
	MaxGames  int
	MinFactor float64
}

// Factor returns the ramp multiplier for the given experience.
func (r RampK) Factor(gamesPlayed int) float64 {
	if r.MaxGames <= 0 || gamesPlayed >= r.MaxGames {
		return 1
	}
	if gamesPlayed < 0 {
		gamesPlayed = 0
	}
	progress := float64(gamesPlayed) / float64(r.MaxGames)
	return r.MinFactor + (1-r.MinFactor)*progress
}

// K returns the ramped K.
func (r RampK) K(gamesPlayed int) float64 { return r.Base * r.Factor(gamesPlayed) }

// Name returns "ramp".
func (r RampK) Name() string { return PolicyRamp }

// NewKPolicy builds a policy by name.
func NewKPolicy(name string, base float64, rampMaxGames int, rampMinFactor float64) (KPolicy, error) {
	if base <= 0 || !finite(base) {
		return nil, fmt.Errorf("%w: k-factor must be positive, got %v", ErrInvalidInput, base)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyFlat:
		return FlatK{Base: base}, nil
	case PolicyRamp:
		if rampMaxGames <= 0 {
			return nil, fmt.Errorf("%w: ramp_max_games must be positive, got %d", ErrInvalidInput, rampMaxGames)
		}
		if rampMinFactor <= 0 || rampMinFactor > 1 {
			return nil, fmt.Errorf("%w: ramp_min_factor must be in (0,1], got %v", ErrInvalidInput, rampMinFactor)
		}
		return RampK{Base: base, MaxGames: rampMaxGames, MinFactor: rampMinFactor}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// SideK is a team's effective K: the mean of its two members' K.
func SideK(p KPolicy, gamesPlayed1, gamesPlayed2 int) float64 {
	return (p.K(gamesPlayed1) + p.K(gamesPlayed2)) / playersPerTeam
}
