package rating_test

import (
	"errors"
	"testing"

	"github.com/okian/jasselo/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func TestKPolicies(t *testing.T) {
	Convey("Given the flat policy", t, func() {
		p, err := rating.NewKPolicy("flat", 15, 0, 0)
		So(err, ShouldBeNil)

		Convey("Then every player gets the same K", func() {
			So(p.Name(), ShouldEqual, rating.PolicyFlat)
			So(p.K(0), ShouldEqual, 15)
			So(p.K(500), ShouldEqual, 15)
			So(rating.SideK(p, 0, 80), ShouldEqual, 15)
		})
	})

	Convey("Given the ramp policy from 10% to 100% over 50 games", t, func() {
		p, err := rating.NewKPolicy("ramp", 20, 50, 0.1)
		So(err, ShouldBeNil)

		Convey("Then newcomers start at 10% of the base", func() {
			So(p.K(0), ShouldAlmostEqual, 2, 1e-12)
		})

		Convey("Then K grows linearly", func() {
			So(p.K(25), ShouldAlmostEqual, 11, 1e-12)
		})

		Convey("Then veterans get the full base", func() {
			So(p.K(50), ShouldEqual, 20)
			So(p.K(400), ShouldEqual, 20)
		})

		Convey("Then a side's K averages its members", func() {
			So(rating.SideK(p, 0, 50), ShouldAlmostEqual, 11, 1e-12)
		})
	})

	Convey("Given invalid policy settings", t, func() {
		_, err := rating.NewKPolicy("elastic", 15, 50, 0.1)
		So(errors.Is(err, rating.ErrUnknownPolicy), ShouldBeTrue)

		_, err = rating.NewKPolicy("flat", 0, 50, 0.1)
		So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)

		_, err = rating.NewKPolicy("ramp", 15, 0, 0.1)
		So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)

		_, err = rating.NewKPolicy("ramp", 15, 50, 1.5)
		So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)
	})
}

func TestTierFor(t *testing.T) {
	Convey("Given ratings around the baseline", t, func() {
		So(rating.TierFor(100).Name, ShouldEqual, "Jassstudent")
		So(rating.TierFor(99.99).Name, ShouldEqual, "Kleeblatt vierblättrig")
		So(rating.TierFor(152).Name, ShouldEqual, "Göpf Egg")
		So(rating.TierFor(12).Name, ShouldEqual, "Just Egg")
	})
}
