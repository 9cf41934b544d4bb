package types_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/jasselo/internal/domain/model"
	types "github.com/okian/jasselo/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEntry(t *testing.T) {
	Convey("Given a player rating record", t, func() {
		r := model.NewPlayerRating("p1", 100)
		r.Rating = 112.5
		r.GamesPlayed = 40

		Convey("When it becomes a leaderboard row", func() {
			e := types.NewEntry(3, r)

			Convey("Then it carries rank, rating and tier", func() {
				So(e.Rank, ShouldEqual, 3)
				So(e.PlayerID, ShouldEqual, "p1")
				So(e.Rating, ShouldEqual, 112.5)
				So(e.GamesPlayed, ShouldEqual, 40)
				So(e.Tier, ShouldEqual, "Silberjasser")
			})
		})

		Convey("When it becomes a rating view", func() {
			v := types.NewRatingView(r, 1)
			raw, err := json.Marshal(v)
			So(err, ShouldBeNil)

			var decoded map[string]any
			So(json.Unmarshal(raw, &decoded), ShouldBeNil)

			Convey("Then the record fields are flattened next to rank and tier", func() {
				So(decoded["player_id"], ShouldEqual, "p1")
				So(decoded["rank"], ShouldEqual, 1)
				So(decoded["tier"].(map[string]any)["name"], ShouldEqual, "Silberjasser")
			})
		})
	})
}

func TestHistory(t *testing.T) {
	Convey("Given no entries", t, func() {
		h := types.NewHistory("p1", nil)

		Convey("Then the page renders an empty list", func() {
			raw, err := json.Marshal(h)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `"entries":[]`)
			So(h.Count, ShouldEqual, 0)
		})
	})

	Convey("Given some entries", t, func() {
		h := types.NewHistory("s1", []model.HistoryEntry{{PlayerID: "a"}, {PlayerID: "b"}})

		Convey("Then the count matches", func() {
			So(h.Count, ShouldEqual, 2)
			So(h.Subject, ShouldEqual, "s1")
		})
	})
}
