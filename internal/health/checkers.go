package health

import (
	"context"
	"fmt"
)

// Pinger is the probe surface of the directory datastore. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Directory returns a readiness checker for the caller directory. A nil pool
// (directory lookups disabled) always reports healthy: the bridge can still
// take calls with anonymous caller contexts.
func Directory(db Pinger) Checker {
	return Checker{
		Name: "directory",
		Check: func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}
