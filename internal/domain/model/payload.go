package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StrichTally counts Striche per category for one team in one game.
type StrichTally struct {
	Berg         int `json:"berg"`
	Sieg         int `json:"sieg"`
	Matsch       int `json:"matsch"`
	Schneider    int `json:"schneider"`
	Kontermatsch int `json:"kontermatsch"`
}

// Total is the plain sum over all categories.
func (t StrichTally) Total() int {
	return t.Berg + t.Sieg + t.Matsch + t.Schneider + t.Kontermatsch
}

// GamePayload is the wire shape of a completed game. A team's result is
// either an explicit total or a tally; the total wins when both are set.
type GamePayload struct {
	GameNumber int          `json:"game_number"`
	TeamA      []string     `json:"team_a"`
	TeamB      []string     `json:"team_b"`
	StricheA   *int         `json:"striche_a,omitempty"`
	StricheB   *int         `json:"striche_b,omitempty"`
	TallyA     *StrichTally `json:"tally_a,omitempty"`
	TallyB     *StrichTally `json:"tally_b,omitempty"`
}

// SessionPayload is the wire shape of a "session completed" event, shared by
// the HTTP trigger and corpus imports.
type SessionPayload struct {
	SessionID   string        `json:"session_id"`
	GroupID     string        `json:"group_id"`
	CompletedAt string        `json:"completed_at,omitempty"`
	Games       []GamePayload `json:"games"`
}

// ToSession converts the payload. Only the envelope is validated here;
// malformed games are carried through and skipped by the sequencer.
func (p SessionPayload) ToSession() (Session, error) {
	if strings.TrimSpace(p.SessionID) == "" {
		return Session{}, errors.New("missing session_id")
	}
	if len(p.Games) == 0 {
		return Session{}, errors.New("session has no games")
	}
	s := Session{
		ID:      strings.TrimSpace(p.SessionID),
		GroupID: strings.TrimSpace(p.GroupID),
		Games:   make([]Game, 0, len(p.Games)),
	}
	if p.CompletedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.CompletedAt)
		if err != nil {
			return Session{}, fmt.Errorf("invalid completed_at; must be RFC3339: %w", err)
		}
		s.CompletedAt = ts.UTC()
	}
	for _, gp := range p.Games {
		s.Games = append(s.Games, gp.toGame())
	}
	return s, nil
}

func (gp GamePayload) toGame() Game {
	return Game{
		Number:   gp.GameNumber,
		TeamA:    toTeam(gp.TeamA),
		TeamB:    toTeam(gp.TeamB),
		StricheA: resolveStriche(gp.StricheA, gp.TallyA),
		StricheB: resolveStriche(gp.StricheB, gp.TallyB),
	}
}

// toTeam keeps at most two ids; a short list leaves blanks that the
// sequencer rejects as a malformed team.
func toTeam(ids []string) Team {
	var t Team
	if len(ids) != 2 {
		return t
	}
	t.Players[0] = strings.TrimSpace(ids[0])
	t.Players[1] = strings.TrimSpace(ids[1])
	return t
}

func resolveStriche(total *int, tally *StrichTally) *int {
	if total != nil {
		return Striche(*total)
	}
	if tally != nil {
		return Striche(tally.Total())
	}
	return nil
}

// FromSession renders a session back into its wire shape.
func FromSession(s Session) SessionPayload {
	p := SessionPayload{
		SessionID: s.ID,
		GroupID:   s.GroupID,
		Games:     make([]GamePayload, 0, len(s.Games)),
	}
	if !s.CompletedAt.IsZero() {
		p.CompletedAt = s.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, g := range s.Games {
		p.Games = append(p.Games, GamePayload{
			GameNumber: g.Number,
			TeamA:      []string{g.TeamA.Players[0], g.TeamA.Players[1]},
			TeamB:      []string{g.TeamB.Players[0], g.TeamB.Players[1]},
			StricheA:   g.StricheA,
			StricheB:   g.StricheB,
		})
	}
	return p
}
