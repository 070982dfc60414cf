package engine

import (
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"bookline/internal/config"
	"bookline/internal/events"
	"bookline/internal/logging"
	"bookline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time
	Validate *validator.Validate
	Log      *logrus.Entry
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{Repo: r},
		Config:   cfg,
		Now:      time.Now,
		Validate: validator.New(validator.WithRequiredStructEnabled()),
		Log:      logging.Nop(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// journal returns the event writer on the engine clock.
func (e Engine) journal() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) policy() config.Policy {
	if e.Config == nil {
		return config.Default().Policy
	}
	return e.Config.Policy
}

func (e Engine) logger() *logrus.Entry {
	return logging.OrNop(e.Log)
}

func (e Engine) check(opts any) error {
	v := e.Validate
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	if err := v.Struct(opts); err != nil {
		return fromValidator(err)
	}
	return nil
}

// normalizeTime parses an RFC3339 timestamp and re-renders it in UTC so that
// stored values compare correctly as strings.
func normalizeTime(field, v string) (*string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, ValidationError{Field: field, Reason: "must be an RFC3339 timestamp"}
	}
	s := t.UTC().Format(time.RFC3339)
	return &s, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
