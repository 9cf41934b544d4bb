package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/jasselo/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.KFactor, convey.ShouldEqual, 15)
				convey.So(cfg.RatingScale, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("JASSELO_ADDR", ":8080")
			_ = os.Setenv("JASSELO_K_FACTOR", "20")
			_ = os.Setenv("JASSELO_K_POLICY", "Ramp")
			_ = os.Setenv("JASSELO_RAMP_MAX_GAMES", "25")
			_ = os.Setenv("JASSELO_BASELINE_RATING", "1500")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.KFactor, convey.ShouldEqual, 20)
				convey.So(cfg.KPolicy, convey.ShouldEqual, config.KPolicyRamp)
				convey.So(cfg.RampMaxGames, convey.ShouldEqual, 25)
				convey.So(cfg.BaselineRating, convey.ShouldEqual, 1500)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
rating_scale: 400
store_driver: sqlite
store_dsn: "file:ratings.db"
lock_driver: redis
redis_addr: "redis:6379"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("JASSELO_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.RatingScale, convey.ShouldEqual, 400)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
				convey.So(cfg.StoreDSN, convey.ShouldEqual, "file:ratings.db")
				convey.So(cfg.LockDriver, convey.ShouldEqual, config.LockRedis)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "redis:6379")
			})

			convey.Convey("Then defaults fill the missing keys", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.KFactor, convey.ShouldEqual, 15)
				convey.So(cfg.BaselineRating, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile("addr: \":9090\"\nk_factor: 10\n")
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("JASSELO_CONFIG", tmpFile)
			_ = os.Setenv("JASSELO_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.KFactor, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("JASSELO_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("JASSELO_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a bad K policy", func() {
			_ = os.Setenv("JASSELO_K_POLICY", "glicko")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "k_policy")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"JASSELO_CONFIG", "JASSELO_ADDR", "JASSELO_K_FACTOR", "JASSELO_K_POLICY",
		"JASSELO_RAMP_MAX_GAMES", "JASSELO_BASELINE_RATING",
	} {
		_ = os.Unsetenv(k)
	}
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "jasselo-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}
