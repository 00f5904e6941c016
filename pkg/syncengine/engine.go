// Package syncengine runs one incremental sync cycle for a connector: it
// pages through the vendor API, persists normalized records and advances the
// connector's cursor.
package syncengine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/compression"
	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/registry"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/connector/vendors"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/events"
	"github.com/discordwell/cliaas/pkg/logger"
	"github.com/discordwell/cliaas/pkg/metrics"
	"github.com/discordwell/cliaas/pkg/observability"
	"github.com/discordwell/cliaas/pkg/store"
)

// Options tune a single cycle
type Options struct {
	// OutDir selects a file store rooted there. Empty uses the engine's
	// configured store.
	OutDir string

	// MaxPages stops the cycle after this many pages; zero means no limit.
	// The cursor reflects whatever was stored.
	MaxPages int
}

// Counts are the records persisted during a cycle
type Counts struct {
	Tickets  int `json:"tickets"`
	Messages int `json:"messages"`
}

// SyncStats summarizes one cycle. Error is set for soft failures.
type SyncStats struct {
	CycleID    string    `json:"cycle_id"`
	Connector  string    `json:"connector"`
	Counts     Counts    `json:"counts"`
	Pages      int       `json:"pages"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	Error      string    `json:"error,omitempty"`

	// Err is the failure behind Error
	Err error `json:"-"`
}

// Failed reports whether the cycle ended with a soft failure
func (s *SyncStats) Failed() bool { return s.Err != nil || s.Error != "" }

// CredentialSource supplies connector credentials
type CredentialSource interface {
	Credentials(connector string) (map[string]string, error)
}

// CredentialsFunc adapts a function to CredentialSource
type CredentialsFunc func(connector string) (map[string]string, error)

// Credentials implements CredentialSource
func (f CredentialsFunc) Credentials(connector string) (map[string]string, error) { return f(connector) }

// Resolver builds the client and adapter for a cycle
type Resolver interface {
	Resolve(name string, creds registry.Credentials) (*client.Client, vendors.Adapter, error)
}

// StoreFactory opens the store for a cycle. outDir is Options.OutDir.
type StoreFactory func(ctx context.Context, outDir string) (store.Store, error)

// FileStores opens a file store in outDir, falling back to dir
func FileStores(dir string, codec compression.Algorithm) StoreFactory {
	return func(_ context.Context, outDir string) (store.Store, error) {
		if outDir == "" {
			outDir = dir
		}
		s, err := store.NewFileStore(outDir, codec)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// SharedStore reuses one store for every cycle without OutDir. The engine
// never closes it.
func SharedStore(s store.Store) StoreFactory {
	return func(_ context.Context, outDir string) (store.Store, error) {
		if outDir != "" {
			fs, err := store.NewFileStore(outDir, compression.None)
			if err != nil {
				return nil, err
			}
			return fs, nil
		}
		return nopCloser{s}, nil
	}
}

type nopCloser struct{ store.Store }

func (nopCloser) Close() error { return nil }

// Engine runs sync cycles. It holds no per-cycle state and may run cycles
// for different connectors concurrently.
type Engine struct {
	resolver  Resolver
	creds     CredentialSource
	openStore StoreFactory
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
}

// Option customizes an Engine
type Option func(*Engine)

// WithStoreFactory sets how stores are opened
func WithStoreFactory(f StoreFactory) Option { return func(e *Engine) { e.openStore = f } }

// WithPublisher sets where cycle events go
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithClock sets the clock used for timing
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an Engine
func New(resolver Resolver, creds CredentialSource, opts ...Option) *Engine {
	e := &Engine{
		resolver:  resolver,
		creds:     creds,
		openStore: FileStores(store.DefaultConfig().Dir, compression.None),
		publisher: events.Nop{},
		clock:     clock.Real(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get()
	}
	e.logger = e.logger.With(zap.String("component", "sync_engine"))
	return e
}

// RunSyncCycle runs one cycle for connector. Configuration problems
// (unknown connector, missing credentials) are returned as errors; every
// other failure is reported through SyncStats.Error.
func (e *Engine) RunSyncCycle(ctx context.Context, connector string, opts Options) (*SyncStats, error) {
	start := e.clock.Now()

	name, c, adapter, err := e.prepare(connector)
	if err != nil {
		return nil, err
	}

	stats := &SyncStats{
		CycleID:   uuid.NewString(),
		Connector: name,
		StartedAt: start.UTC(),
	}
	ctx = context.WithValue(ctx, logger.ConnectorKey, name)
	ctx = context.WithValue(ctx, logger.CycleIDKey, stats.CycleID)
	log := e.logger.With(zap.String("connector", name), zap.String("cycle_id", stats.CycleID))

	ctx, span := observability.StartSpan(ctx, "sync.cycle",
		attribute.String("connector", name),
		attribute.String("cycle_id", stats.CycleID))

	log.Info("sync cycle started", zap.String("out_dir", opts.OutDir), zap.Int("max_pages", opts.MaxPages))

	st, err := e.openStore(ctx, opts.OutDir)
	if err != nil {
		observability.EndSpan(span, err)
		if errors.IsConfigError(err) {
			return nil, err
		}
		e.finish(ctx, log, stats, start, err)
		return stats, nil
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn("failed to close store", zap.Error(cerr))
		}
	}()

	err = e.runPages(ctx, log, c, adapter, st, name, opts, stats)
	observability.EndSpan(span, err)
	e.finish(ctx, log, stats, start, err)
	return stats, nil
}

// Validate checks that connector is known and its credentials are complete
// without contacting the vendor. It returns the canonical connector name.
func (e *Engine) Validate(connector string) (string, error) {
	name, _, _, err := e.prepare(connector)
	return name, err
}

func (e *Engine) prepare(connector string) (string, *client.Client, vendors.Adapter, error) {
	src, err := source.Parse(connector)
	if err != nil {
		return "", nil, nil, err
	}
	name := src.String()

	creds, err := e.creds.Credentials(name)
	if err != nil {
		if errors.IsConfigError(err) {
			return "", nil, nil, err
		}
		return "", nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load credentials for "+name)
	}
	c, adapter, err := e.resolver.Resolve(name, creds)
	if err != nil {
		return "", nil, nil, err
	}
	return name, c, adapter, nil
}

// runPages drives the adapter until the stream ends. Panics inside adapters
// or stores become errors.
func (e *Engine) runPages(ctx context.Context, log *zap.Logger, r vendors.Requester, adapter vendors.Adapter,
	st store.Store, name string, opts Options, stats *SyncStats) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("sync cycle panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = errors.Newf(errors.ErrorTypeInternal, "sync cycle panicked: %v", p)
		}
	}()

	cursor, err := st.LoadCursor(ctx, name)
	if err != nil {
		return err
	}
	log.Debug("loaded cursor", zap.String("cursor", string(cursor)))

	seen := make(map[string]struct{})
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.MaxPages > 0 && stats.Pages >= opts.MaxPages {
			log.Info("page limit reached", zap.Int("pages", stats.Pages))
			return nil
		}

		page, err := adapter.FetchPage(ctx, r, cursor, token)
		if err != nil {
			return err
		}
		if page == nil {
			page = &vendors.Page{}
		}
		stats.Pages++

		if err := st.UpsertTickets(ctx, page.Tickets); err != nil {
			return err
		}
		if err := st.UpsertMessages(ctx, page.Messages); err != nil {
			return err
		}
		stats.Counts.Tickets += len(page.Tickets)
		stats.Counts.Messages += len(page.Messages)
		metrics.SyncRecords.WithLabelValues(name, "ticket").Add(float64(len(page.Tickets)))
		metrics.SyncRecords.WithLabelValues(name, "message").Add(float64(len(page.Messages)))

		// Checkpoint only once the page is durable
		if !page.Cursor.IsZero() {
			if err := st.SaveCursor(ctx, name, page.Cursor); err != nil {
				return err
			}
		}

		log.Debug("page stored",
			zap.Int("page", stats.Pages),
			zap.Int("tickets", len(page.Tickets)),
			zap.Int("messages", len(page.Messages)))

		if page.Next == "" {
			return nil
		}
		if _, dup := seen[page.Next]; dup {
			return errors.Newf(errors.ErrorTypeData, "%s returned pagination token %q twice", name, page.Next)
		}
		seen[page.Next] = struct{}{}
		token = page.Next
	}
}

func (e *Engine) finish(ctx context.Context, log *zap.Logger, stats *SyncStats, start time.Time, err error) {
	elapsed := e.clock.Now().Sub(start)
	stats.DurationMs = ceilMillis(elapsed)

	outcome := metrics.OutcomeSuccess
	eventType := events.CycleCompleted
	if err != nil {
		stats.Err = err
		stats.Error = err.Error()
		outcome = metrics.OutcomeSoftFailure
		eventType = events.CycleFailed
		log.Warn("sync cycle failed",
			zap.Error(err),
			zap.Int("tickets", stats.Counts.Tickets),
			zap.Int("messages", stats.Counts.Messages),
			zap.Int64("duration_ms", stats.DurationMs))
	} else {
		log.Info("sync cycle completed",
			zap.Int("pages", stats.Pages),
			zap.Int("tickets", stats.Counts.Tickets),
			zap.Int("messages", stats.Counts.Messages),
			zap.Int64("duration_ms", stats.DurationMs))
	}
	metrics.ObserveCycle(stats.Connector, outcome, elapsed)

	// Events must not be lost to a cancelled cycle context
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if perr := e.publisher.Publish(pubCtx, events.New(eventType, stats.Connector, stats)); perr != nil {
		log.Warn("failed to publish cycle event", zap.Error(perr))
	}
}

// ceilMillis rounds d up to whole milliseconds
func ceilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

func (s *SyncStats) String() string {
	if s.Failed() {
		return fmt.Sprintf("%s cycle %s failed after %dms: %s", s.Connector, s.CycleID, s.DurationMs, s.Error)
	}
	return fmt.Sprintf("%s cycle %s: %d tickets, %d messages in %dms",
		s.Connector, s.CycleID, s.Counts.Tickets, s.Counts.Messages, s.DurationMs)
}
