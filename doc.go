// Package cliaas keeps a local copy of helpdesk data in sync with the
// vendor APIs it came from. It pulls tickets and their conversations from
// ten helpdesk products, normalizes them into one ticket/message model and
// persists them incrementally, resuming each connector from its last cursor.
//
// # Architecture
//
// A sync is built from four layers:
//
// 1. Connector client (pkg/connector/client): an authenticated HTTP client
// per vendor that retries 429s and 5xx responses with backoff and honors
// Retry-After.
//
// 2. Connector registry (pkg/connector/registry): the catalog of supported
// helpdesks. It validates credentials, fills base URL templates and builds
// a fresh client and adapter for each cycle.
//
// 3. Sync engine (pkg/syncengine): one cycle loads the cursor, pages
// through the vendor, upserts tickets and messages and saves the new
// cursor only once a page is durable. Vendor failures are reported in
// SyncStats rather than returned.
//
// 4. Sync worker (pkg/syncworker): runs cycles on an interval, one
// goroutine per connector, so cycles for a connector never overlap.
//
// # Quick Start
//
//	cfg, err := config.Load("cliaas.yaml")
//	if err != nil {
//	    return err
//	}
//	engine := syncengine.New(registry.Default(), cfg)
//	stats, err := engine.RunSyncCycle(ctx, "zendesk", syncengine.Options{OutDir: "./data"})
//	if err != nil {
//	    return err // unknown connector or missing credentials
//	}
//	fmt.Println(stats)
//
// Or from the command line:
//
//	cliaas config init
//	cliaas connectors check zendesk
//	cliaas sync run zendesk --out-dir ./data
//	cliaas sync worker zendesk freshdesk --interval 5m
//
// # Key Packages
//
//	pkg/connector    - Vendor clients, registry and pagination adapters
//	pkg/syncengine   - Incremental sync cycles
//	pkg/syncworker   - Interval scheduling
//	pkg/store        - File, memory, Postgres and MongoDB persistence
//	pkg/events       - Cycle events over AMQP or Kafka
//	pkg/export       - Snapshot upload to S3
//	pkg/config       - YAML configuration with environment overrides
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//
// # Configuration
//
// Configuration is YAML with ${VAR_NAME} and ${VAR_NAME:-default}
// substitution. Any key can be overridden with a CLIAAS_ environment
// variable, and connector credentials with CLIAAS_<CONNECTOR>_<KEY>.
package cliaas
