package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/auth"
	"github.com/itsthedevman/esm-arma/internal/config"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/economy"
	"github.com/itsthedevman/esm-arma/internal/schema"
	"github.com/itsthedevman/esm-arma/internal/settings"
	"github.com/itsthedevman/esm-arma/internal/store"
	"github.com/itsthedevman/esm-arma/internal/transport/ws"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to server.yaml (optional; ESM_* env vars override it)")
		addr         = flag.String("addr", "", "http listen address (overrides config)")
		settingsPath = flag.String("settings", "", "settings blob path (overrides config)")
		storeKind    = flag.String("store", "", "sqlite|memory (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(*settingsPath); v != "" {
		cfg.SettingsPath = v
	}
	if v := strings.TrimSpace(*storeKind); v != "" {
		cfg.Store = v
		cfg.DBPath = ""
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			logger.Fatalf("config: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	if err := a.run(ctx); err != nil {
		logger.Fatalf("server: %v", err)
	}
	logger.Printf("stopped")
}

// app is one wired server process.
type app struct {
	cfg      config.Config
	log      *log.Logger
	settings *settings.Holder
	backend  *backend
	audit    *audit.Logger
	dispatch *dispatch.Dispatcher
	ws       *ws.Server
}

func newApp(cfg config.Config, logger *log.Logger) (*app, error) {
	holder := settings.NewHolder()
	a := &app{cfg: cfg, log: logger, settings: holder}
	if err := a.reloadSettings(); err != nil {
		return nil, err
	}

	b, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.backend = b
	a.audit = audit.New(holder, audit.Options{
		QueueSize:   cfg.AuditQueue,
		SinkTimeout: cfg.AuditSinkTimeout,
		Logger:      logger,
	}, b.Sinks...)

	a.dispatch = dispatch.New(schema.Default(), dispatch.Options{
		Retries:  cfg.Retries,
		Backoff:  cfg.RetryBackoff,
		Resolver: store.Resolver{Store: b.Store},
		Logger:   logger,
	})
	eng, err := economy.New(economy.Options{
		Store:        b.Store,
		Session:      b.Session,
		Executor:     b.Executor,
		Settings:     holder,
		Audit:        a.audit,
		Economy:      cfg.Economy,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if err := eng.Register(a.dispatch); err != nil {
		a.close()
		return nil, err
	}

	signer, err := auth.NewSigner(cfg.AuthSecret)
	if err != nil {
		a.close()
		return nil, err
	}
	a.ws, err = ws.NewServer(ws.Options{
		Dispatcher: a.dispatch,
		Signer:     signer,
		Logger:     logger,
		ServerInfo: func() (string, string) {
			st := holder.Current()
			id := st.ServerID
			if id == "" {
				id = cfg.ServerID
			}
			return id, st.CommunityID
		},
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// reloadSettings ingests the settings blob, or the defaults when no path
// is configured.
func (a *app) reloadSettings() error {
	blob := map[string]any{}
	if p := strings.TrimSpace(a.cfg.SettingsPath); p != "" {
		b, err := settings.ReadBlob(p)
		if err != nil {
			return err
		}
		blob = b
	}
	rep := a.settings.Ingest(blob)
	for _, k := range rep.Ignored {
		a.log.Printf("settings: ignored unknown key %q", k)
	}
	for _, w := range rep.Warnings {
		a.log.Printf("settings: %s", w)
	}
	a.log.Printf("settings: applied=%d ignored=%d warnings=%d", len(rep.Applied), len(rep.Ignored), len(rep.Warnings))
	return nil
}

func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Printf("listening on %s", a.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	err := g.Wait()

	// Hijacked websocket connections outlive Shutdown; let their requests
	// finish before the audit queue and store go away.
	a.ws.Wait()
	a.close()
	return err
}

func (a *app) close() {
	a.audit.Close()
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Printf("close backend: %v", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
