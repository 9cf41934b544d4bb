// Package model contains domain models passed between layers.
package model

import (
	"sort"
	"strings"
	"time"
)

// Team is one side of a game: exactly two players.
type Team struct {
	Players [2]string `json:"players"`
}

// Has reports whether playerID plays for the team.
func (t Team) Has(playerID string) bool {
	return t.Players[0] == playerID || t.Players[1] == playerID
}

// Game is one completed game of a session. StricheA and StricheB are the
// per-team Strich totals; nil means the Scoring Source did not record one.
type Game struct {
	Number   int  `json:"game_number"`
	TeamA    Team `json:"team_a"`
	TeamB    Team `json:"team_b"`
	StricheA *int `json:"striche_a,omitempty"`
	StricheB *int `json:"striche_b,omitempty"`
}

// Players returns the four player ids in team order (A1, A2, B1, B2).
func (g Game) Players() []string {
	return []string{g.TeamA.Players[0], g.TeamA.Players[1], g.TeamB.Players[0], g.TeamB.Players[1]}
}

// Session is an ordered set of games finished together. CompletedAt defines
// the global replay order across sessions.
type Session struct {
	ID          string    `json:"session_id"`
	GroupID     string    `json:"group_id"`
	CompletedAt time.Time `json:"completed_at"`
	Games       []Game    `json:"games"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.Games == nil {
		return out
	}
	out.Games = make([]Game, len(s.Games))
	for i, g := range s.Games {
		out.Games[i] = g
		if g.StricheA != nil {
			out.Games[i].StricheA = Striche(*g.StricheA)
		}
		if g.StricheB != nil {
			out.Games[i].StricheB = Striche(*g.StricheB)
		}
	}
	return out
}

// Participants returns the distinct non-empty player ids referenced by the
// session's games, sorted.
func (s Session) Participants() []string {
	seen := make(map[string]struct{})
	for _, g := range s.Games {
		for _, p := range g.Players() {
			p = strings.TrimSpace(p)
			if p != "" {
				seen[p] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SortSessions orders sessions by completion time, then by id.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CompletedAt.Equal(b.CompletedAt) {
			return a.CompletedAt.Before(b.CompletedAt)
		}
		return a.ID < b.ID
	})
}

// Striche returns a pointer to n, for building games in code.
func Striche(n int) *int { return &n }
