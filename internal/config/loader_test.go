package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skolnik/skolnik/internal/config"
	. "github.com/smartystreets/goconvey/convey"
)

const validYAML = `
log_level: debug
addr: ":8088"
grades_interval: 120
persons:
  - server: https://school.example.cz
    user_id: student-1
    username: user
    password: pass
    name: Student One
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	Convey("Given a valid config file", t, func() {
		t.Setenv("SKOLNIK_CONFIG", writeConfig(t, validYAML))

		Convey("When loading", func() {
			cfg, err := config.Load(ctx)

			Convey("Then file values override defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.LogLevel, ShouldEqual, "debug")
				So(cfg.Addr, ShouldEqual, ":8088")
				So(cfg.GradesInterval(), ShouldEqual, 2*time.Minute)
				So(cfg.Persons, ShouldHaveLength, 1)
				So(cfg.Persons[0].UserID, ShouldEqual, "student-1")
			})

			Convey("And untouched keys keep their defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.MessagesInterval(), ShouldEqual, time.Hour)
				So(cfg.TimetableInterval(), ShouldEqual, 6*time.Hour)
				So(cfg.FetchTimeout(), ShouldEqual, time.Minute)
				So(cfg.EventWorkers, ShouldEqual, 4)
			})
		})

		Convey("When an environment variable overrides the file", func() {
			t.Setenv("SKOLNIK_ADDR", ":7070")
			t.Setenv("SKOLNIK_LOG_LEVEL", "warn")

			cfg, err := config.Load(ctx)

			Convey("Then env wins over both file and defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":7070")
				So(cfg.LogLevel, ShouldEqual, "warn")
				So(cfg.GradesInterval(), ShouldEqual, 2*time.Minute)
			})
		})
	})

	Convey("Given no config file", t, func() {
		t.Setenv("SKOLNIK_CONFIG", "")

		Convey("Then loading fails validation for the missing persons", func() {
			_, err := config.Load(ctx)
			So(err, ShouldWrap, config.ErrInvalidConfig)
		})
	})

	Convey("Given a config file that is not valid YAML", t, func() {
		t.Setenv("SKOLNIK_CONFIG", writeConfig(t, "persons: ["))

		Convey("Then loading reports a load error", func() {
			_, err := config.Load(ctx)
			So(err, ShouldWrap, config.ErrLoadConfig)
		})
	})

	Convey("Given a person without a user id", t, func() {
		t.Setenv("SKOLNIK_CONFIG", writeConfig(t, `
persons:
  - server: https://school.example.cz
    username: user
`))

		Convey("Then validation rejects it", func() {
			_, err := config.Load(ctx)
			So(err, ShouldWrap, config.ErrInvalidConfig)
		})
	})

	Convey("Given a server containing the key separator", t, func() {
		t.Setenv("SKOLNIK_CONFIG", writeConfig(t, `
persons:
  - server: bad|server
    user_id: student-1
`))

		Convey("Then validation rejects it", func() {
			_, err := config.Load(ctx)
			So(err, ShouldWrap, config.ErrInvalidConfig)
		})
	})
}
