package server

import (
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/runtime"
	"github.com/tangramdotdev/tangram/internal/runtime/native"
)

func openStore(cfg config.Store) (objectstore.Store, error) {
	switch cfg.Kind {
	case config.StoreMemory:
		return objectstore.NewMemory(), nil
	case config.StoreFS, config.StoreLMDB, config.StoreFDB, "":
		// StoreLMDB/StoreFDB fall through to the FS backend: no grounded
		// lmdb/fdb driver exists anywhere in the retrieval pack (DESIGN.md
		// Open Question #4), so the local content-addressed directory
		// tree stands in for both.
		path := cfg.Path
		if path == "" {
			path = "store"
		}
		return objectstore.NewFS(path)
	default:
		return nil, fmt.Errorf("server: unknown store.kind %q", cfg.Kind)
	}
}

func sandboxFor(kind config.SandboxKind) (native.SandboxFunc, error) {
	switch kind {
	case config.SandboxNone, "":
		return native.NoSandbox(), nil
	case config.SandboxLinuxNative, config.SandboxDarwinNative:
		return native.DefaultSandbox(false), nil
	default:
		return nil, fmt.Errorf("server: unknown runtime.sandbox %q", kind)
	}
}

func runtimeResolver(store objectstore.Store) *runtime.ArtifactResolver {
	return runtime.NewArtifactResolver(store, "")
}

func (s *Server) startGC(opts Options) error {
	expr := opts.GCCronExpr
	if expr == "" {
		expr = "@every 10m"
	}
	maxAgeStr := opts.GCMaxAge
	if maxAgeStr == "" {
		maxAgeStr = "24h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("server: parse gc max age %q: %w", maxAgeStr, err)
	}
	batchSize := opts.GCBatchSize
	if batchSize == 0 {
		batchSize = 1000
	}
	sched, err := index.StartGCScheduler(s.Index, expr, maxAge, batchSize, s.Log)
	if err != nil {
		return err
	}
	s.GC = sched
	return nil
}
