// Package engine holds the transactional business core. Every mutation runs
// inside one database transaction together with its audit row and any outbox
// events, so a committed change is always fully recorded.
package engine

import (
	"database/sql"
	"time"

	"intentbid/internal/audit"
	"intentbid/internal/config"
	"intentbid/internal/repo"
	"intentbid/internal/scoring"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	now := time.Now
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db, Now: now},
		Config: cfg,
		Now:    now,
	}
}

func (e Engine) nowString() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// monthStart is the quota window boundary for usage counting.
func (e Engine) monthStart() string {
	now := e.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

// profileTable converts configured scoring profiles to the scoring package's
// weight type. Falls back to the built-in presets when nothing is configured.
func (e Engine) profileTable() map[string]scoring.Weights {
	if e.Config == nil || len(e.Config.Scoring.Profiles) == 0 {
		return scoring.DefaultProfiles
	}
	table := make(map[string]scoring.Weights, len(e.Config.Scoring.Profiles))
	for name, p := range e.Config.Scoring.Profiles {
		table[name] = scoring.Weights{
			Price:        p.Price,
			Delivery:     p.Delivery,
			Warranty:     p.Warranty,
			Traceability: p.Traceability,
		}
	}
	return table
}

func (e Engine) isHardwareCategory(category string) bool {
	if e.Config == nil {
		return false
	}
	for _, c := range e.Config.HardwareCategories {
		if c == category {
			return true
		}
	}
	return false
}
