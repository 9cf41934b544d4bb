package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/jasselo/internal/app"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var epoch = time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)

func game(n int, a1, a2, b1, b2 string, sa, sb int) model.Game {
	return model.Game{
		Number:   n,
		TeamA:    model.Team{Players: [2]string{a1, a2}},
		TeamB:    model.Team{Players: [2]string{b1, b2}},
		StricheA: model.Striche(sa),
		StricheB: model.Striche(sb),
	}
}

func sessionAt(id, group string, minutes int, games ...model.Game) model.Session {
	return model.Session{
		ID:          id,
		GroupID:     group,
		CompletedAt: epoch.Add(time.Duration(minutes) * time.Minute),
		Games:       games,
	}
}

// settled collects sessions the live worker finished.
type settled chan string

func (s settled) record(id string, _ error) { s <- id }

func (s settled) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d sessions settled", i, n)
		}
	}
}

func submit(ctx context.Context, svc *service.Service, s model.Session) error {
	_, err := svc.SubmitSession(ctx, s)
	return err
}
