// Package store persists canonical tickets, messages and per-connector sync
// cursors. Every backend upserts by (source, external id), so replaying a
// page never duplicates records.
package store

import (
	"context"
	"strings"

	"github.com/discordwell/cliaas/pkg/compression"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/models"
)

// Store is the persistence port used by the sync engine
type Store interface {
	// LoadCursor returns the saved cursor for connector, or the zero cursor
	LoadCursor(ctx context.Context, connector string) (models.Cursor, error)
	SaveCursor(ctx context.Context, connector string, cursor models.Cursor) error
	UpsertTickets(ctx context.Context, tickets []models.Ticket) error
	UpsertMessages(ctx context.Context, messages []models.Message) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config selects and configures a backend
type Config struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	Dir         string `mapstructure:"dir" yaml:"dir,omitempty"`
	Compression string `mapstructure:"compression" yaml:"compression,omitempty"`
	DSN         string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Database    string `mapstructure:"database" yaml:"database,omitempty"`
}

// DefaultConfig writes JSONL files under ./data
func DefaultConfig() Config {
	return Config{Driver: DriverFile, Dir: "data"}
}

// Open builds the configured backend
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", DriverFile:
		codec, perr := compression.Parse(cfg.Compression)
		if perr != nil {
			return nil, perr
		}
		s, err = asStore(NewFileStore(cfg.Dir, codec))
	case DriverMemory:
		s = NewMemoryStore()
	case DriverPostgres:
		s, err = asStore(NewPostgresStore(ctx, cfg.DSN))
	case DriverMongo:
		s, err = asStore(NewMongoStore(ctx, cfg.DSN, cfg.Database))
	default:
		err = errors.Newf(errors.ErrorTypeConfig, "store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// asStore keeps a failed constructor's typed nil out of the interface
func asStore[T Store](s T, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
