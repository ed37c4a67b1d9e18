package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/chatbridge/internal/profile"
	"github.com/hrygo/chatbridge/store"
	"github.com/hrygo/chatbridge/store/db/postgres"
	"github.com/hrygo/chatbridge/store/db/sqlite"
)

// NewDBDriver creates a new durable store driver based on the profile.
// PostgreSQL is the production driver; SQLite serves development and tests.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
