package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/recarr/internal/database"
	"github.com/jmylchreest/recarr/internal/downloader"
	"github.com/jmylchreest/recarr/internal/recorder"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/store"
	"github.com/jmylchreest/recarr/internal/transport"
)

// app bundles the wired components a subcommand needs.
type app struct {
	db         *database.DB
	blobs      *store.BlobStore
	store      *store.Store
	controller *recorder.Controller
}

// newApp wires the catalog database, segment store, transport, and recording
// controller from the loaded configuration.
func newApp() (*app, error) {
	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbCfg := cfg.Database
	if !filepath.IsAbs(dbCfg.DSN) && !strings.HasPrefix(dbCfg.DSN, ":memory:") {
		dbCfg.DSN = filepath.Join(cfg.Storage.BaseDir, dbCfg.DSN)
	}

	db, err := database.New(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	segDir := cfg.Storage.SegmentPath()
	if cfg.Storage.InMemory {
		segDir = ""
	}
	blobs, err := store.OpenBlobStore(segDir, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	st := store.New(repository.NewRecordingRepository(db.DB), blobs, logger)

	clientCfg := transport.DefaultConfig()
	clientCfg.Timeout = cfg.Download.HTTPTimeout
	clientCfg.RetryDelay = cfg.Download.RetryDelay
	clientCfg.RetryMaxDelay = cfg.Download.RetryMaxDelay
	clientCfg.Logger = logger
	client := transport.New(clientCfg)

	ctrl := recorder.NewController(st, client, client, downloader.Config{
		RetryAttempts: cfg.Download.RetryAttempts,
		RetryDelay:    cfg.Download.RetryDelay,
	}, logger)

	return &app{db: db, blobs: blobs, store: st, controller: ctrl}, nil
}

// close releases the app's storage handles.
func (a *app) close() {
	if err := a.blobs.Close(); err != nil {
		logger.Warn("closing blob store", "error", err.Error())
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("closing catalog database", "error", err.Error())
	}
}
