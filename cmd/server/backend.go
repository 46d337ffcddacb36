package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/config"
	persistlog "github.com/itsthedevman/esm-arma/internal/persistence/log"
	"github.com/itsthedevman/esm-arma/internal/persistence/r2s3"
	"github.com/itsthedevman/esm-arma/internal/persistence/sqlitestore"
	"github.com/itsthedevman/esm-arma/internal/store"
)

// backend bundles the authoritative store with the session, executor and
// audit sinks it provides.
type backend struct {
	Store    store.Store
	Session  store.Session
	Executor store.Executor
	Sinks    []audit.Sink

	sqlite  *sqlitestore.Store
	mirror  *r2s3.Mirror
	closers []io.Closer
}

func (b *backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openBackend(cfg config.Config, logger *log.Logger) (*backend, error) {
	b := &backend{}
	switch cfg.Store {
	case config.StoreMemory:
		mem := store.NewMemory()
		b.Store, b.Session, b.Executor = mem, mem, mem
		logger.Printf("store: memory (state is lost on exit)")
	case config.StoreSQLite:
		db, err := sqlitestore.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		b.Store, b.Session, b.Executor = db, db, db
		b.sqlite = db
		b.Sinks = append(b.Sinks, db)
		b.closers = append(b.closers, db)
		logger.Printf("store: sqlite path=%s", cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}

	if cfg.Archive.Enabled() {
		cl, err := r2s3.New(r2s3.Config{
			Endpoint:        cfg.Archive.Endpoint,
			Bucket:          cfg.Archive.Bucket,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			Region:          cfg.Archive.Region,
		})
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		prefix := cfg.Archive.Prefix
		if prefix == "" {
			prefix = cfg.ServerID
		}
		b.mirror = r2s3.NewMirror(cl, r2s3.MirrorOptions{
			DataDir: cfg.DataDir,
			Prefix:  prefix,
			Workers: cfg.Archive.Workers,
			Logger:  logger,
		})
		b.closers = append(b.closers, b.mirror)
		logger.Printf("archive: mirroring audit files to bucket=%s prefix=%s", cfg.Archive.Bucket, prefix)
	}

	aw := persistlog.NewAuditWriter(cfg.DataDir)
	if b.mirror != nil {
		aw.OnFileClosed(b.mirror.Enqueue)
	}
	b.Sinks = append(b.Sinks, aw, audit.LoggerSink{Logger: logger})
	// Closed before the mirror so the last audit file is queued for upload.
	b.closers = append(b.closers, aw)
	return b, nil
}

// storeCounts reports table sizes when the backend is sqlite.
func (b *backend) storeCounts(ctx context.Context) (map[string]int64, sqlitestore.Stats, bool) {
	if b.sqlite == nil {
		return nil, sqlitestore.Stats{}, false
	}
	counts, err := b.sqlite.Counts(ctx)
	if err != nil {
		return nil, b.sqlite.Stats(), true
	}
	return counts, b.sqlite.Stats(), true
}
