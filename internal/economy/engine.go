// Package economy implements the request handlers: territory payment and
// upgrade, roles, gambling, poptab transfers, rewards and exec.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/config"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
	"github.com/itsthedevman/esm-arma/internal/settings"
	"github.com/itsthedevman/esm-arma/internal/store"
)

// Random is a source of uniform draws in [0, 1).
type Random interface {
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

type Options struct {
	Store        store.Store
	Session      store.Session
	Executor     store.Executor
	Settings     *settings.Holder
	Audit        *audit.Logger
	Economy      config.EconomyConfig
	StoreTimeout time.Duration
	Random       Random
	Now          func() time.Time
	Logger       *log.Logger
}

type Engine struct {
	store    store.Store
	session  store.Session
	executor store.Executor
	settings *settings.Holder
	audit    *audit.Logger
	economy  config.EconomyConfig
	timeout  time.Duration
	random   Random
	now      func() time.Time
	logger   *log.Logger

	locks *Locks
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("economy: nil store")
	}
	if opts.Settings == nil {
		opts.Settings = settings.NewHolder()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Random == nil {
		opts.Random = globalRandom{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:    opts.Store,
		session:  opts.Session,
		executor: opts.Executor,
		settings: opts.Settings,
		audit:    opts.Audit,
		economy:  opts.Economy,
		timeout:  opts.StoreTimeout,
		random:   opts.Random,
		now:      opts.Now,
		logger:   opts.Logger,
		locks:    NewLocks(),
	}, nil
}

// Register binds every handler to its request name.
func (e *Engine) Register(d *dispatch.Dispatcher) error {
	handlers := map[string]dispatch.Handler{
		schema.PayTerritory:              e.PayTerritory,
		schema.UpgradeTerritory:          e.UpgradeTerritory,
		schema.PromotePlayer:             e.PromotePlayer,
		schema.DemotePlayer:              e.DemotePlayer,
		schema.AddPlayerToTerritory:      e.AddPlayerToTerritory,
		schema.RemovePlayerFromTerritory: e.RemovePlayerFromTerritory,
		schema.FlagStealStarted:          e.FlagStealStarted,
		schema.Gamble:                    e.Gamble,
		schema.TransferPoptabs:           e.TransferPoptabs,
		schema.ModifyPlayer:              e.ModifyPlayer,
		schema.RewardPlayer:              e.RewardPlayer,
		schema.RewardLoadAll:             e.RewardLoadAll,
		schema.RewardRedeemItem:          e.RewardRedeemItem,
		schema.RewardRedeemVehicle:       e.RewardRedeemVehicle,
		schema.Exec:                      e.Exec,
	}
	for _, name := range d.Registry().Requests() {
		h, ok := handlers[name]
		if !ok {
			continue
		}
		if err := d.Register(name, detached(h)); err != nil {
			return err
		}
	}
	return nil
}

// detached runs h without the caller's cancellation. Once a request reaches
// a handler it completes; every store step is still bounded by the store
// timeout.
func detached(h dispatch.Handler) dispatch.Handler {
	return func(ctx context.Context, c dispatch.Call) dispatch.Result {
		return h(context.WithoutCancel(ctx), c)
	}
}

func (e *Engine) state() *settings.State { return e.settings.Current() }

// readCtx bounds a store read by the store timeout.
func (e *Engine) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// lock takes the entity locks, bounded by the store timeout.
func (e *Engine) lock(ctx context.Context, keys ...string) (func(), protocol.Code) {
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	unlock, err := e.locks.Lock(lctx, keys...)
	if err != nil {
		return unlock, protocol.CodeTransient
	}
	return unlock, protocol.CodeOK
}

// apply commits m detached from the caller, so a client that goes away
// never abandons a mutation halfway.
func (e *Engine) apply(ctx context.Context, m store.Mutation) protocol.Code {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.store.Apply(actx, m); err != nil {
		e.logf("apply: %v", err)
		return backendCode(err)
	}
	return protocol.CodeOK
}

func backendCode(err error) protocol.Code {
	switch {
	case err == nil:
		return protocol.CodeOK
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return protocol.CodeTransient
	default:
		return protocol.CodeInternal
	}
}

// lookupCode maps a read error: missing rows become notFound, everything
// else is a backend failure.
func lookupCode(err error, notFound protocol.Code) protocol.Code {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return backendCode(err)
}

func (e *Engine) account(ctx context.Context, uid string) (store.Account, error) {
	rctx, cancel := e.readCtx(ctx)
	defer cancel()
	return e.store.Account(rctx, uid)
}

func (e *Engine) territory(ctx context.Context, id string) (store.Territory, error) {
	rctx, cancel := e.readCtx(ctx)
	defer cancel()
	return e.store.Territory(rctx, id)
}

func (e *Engine) reward(ctx context.Context, code string) (store.Reward, error) {
	rctx, cancel := e.readCtx(ctx)
	defer cancel()
	return e.store.Reward(rctx, code)
}

func (e *Engine) object(ctx context.Context, netID string) (store.Object, error) {
	rctx, cancel := e.readCtx(ctx)
	defer cancel()
	return e.store.Object(rctx, netID)
}

// territoryOverride reports whether the caller may act on any territory.
func (e *Engine) territoryOverride(c dispatch.Call) bool {
	return c.Identity.Admin || e.state().IsTerritoryAdmin(c.Identity.UID)
}

func (e *Engine) record(kind audit.Kind, actor string, detail map[string]any) {
	e.audit.Record(kind, actor, detail)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// positiveInt reads a SCALAR param that must be a whole number > 0.
func positiveInt(v protocol.Value) (int64, bool) {
	n, ok := v.Integer()
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}
