package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/adapters/repository/sqlstore"
	"github.com/okian/jasselo/internal/adapters/repository/storetest"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func memoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.DriverSQLite, memoryDSN())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.Run(t, func() repository.Backend { return openSQLite(t) })
}

func TestOpen_Errors(t *testing.T) {
	Convey("Given bad connection settings", t, func() {
		_, err := sqlstore.Open("postgres", "host=db")
		So(errors.Is(err, sqlstore.ErrUnknownDriver), ShouldBeTrue)

		_, err = sqlstore.Open(sqlstore.DriverSQLite, " ")
		So(err, ShouldEqual, sqlstore.ErrMissingDSN)
	})
}

func TestSQLiteStore_FileDatabaseSurvivesReopen(t *testing.T) {
	Convey("Given a file-backed sqlite store with one committed session", t, func() {
		ctx := context.Background()
		dsn := fmt.Sprintf("file:%s/ratings.db", t.TempDir())
		s, err := sqlstore.Open(sqlstore.DriverSQLite, dsn)
		So(err, ShouldBeNil)

		p := model.NewPlayerRating("a", 100)
		p.Rating = 101.125
		p.GamesPlayed = 1
		err = s.Commit(ctx, model.Batch{
			SessionID: "s1",
			Players:   []model.PlayerRating{p},
			Entries:   []model.HistoryEntry{{PlayerID: "a", SessionID: "s1", GameNumber: 1, RatingBefore: 100, RatingAfter: 101.125, Delta: 1.125}},
		})
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When it is opened again", func() {
			again, err := sqlstore.Open(sqlstore.DriverSQLite, dsn)
			So(err, ShouldBeNil)
			Reset(func() { _ = again.Close() })

			Convey("Then the rating and its history are still there", func() {
				got, err := again.Get(ctx, "a")
				So(err, ShouldBeNil)
				So(got.Rating, ShouldEqual, 101.125)
				So(got.Version, ShouldEqual, 1)

				h, err := again.PlayerHistory(ctx, "a", 0)
				So(err, ShouldBeNil)
				So(h, ShouldHaveLength, 1)
				So(h[0].Seq, ShouldEqual, 1)
			})
		})
	})
}
