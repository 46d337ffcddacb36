// Package dispatch validates inbound requests against the message schema,
// routes them to handlers by exact name and frames the paired response.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
)

const tracerName = "github.com/itsthedevman/esm-arma/internal/dispatch"

type Identity struct {
	UID       string
	Admin     bool
	SessionID string
}

type Request struct {
	ID       string
	Name     string
	Identity Identity
	Params   []protocol.Value
}

type Response struct {
	ID     string
	Name   string
	Code   protocol.Code
	Params []protocol.Value
}

// Call is what a handler sees: a request whose params already match the
// declared kinds.
type Call struct {
	Name     string
	Identity Identity
	Params   []protocol.Value
}

// Result is a handler outcome. Values exclude the leading response code.
type Result struct {
	Code   protocol.Code
	Values []protocol.Value
}

func OK(values ...protocol.Value) Result { return Result{Code: protocol.CodeOK, Values: values} }

func Fail(code protocol.Code, values ...protocol.Value) Result {
	return Result{Code: code, Values: values}
}

type Handler func(ctx context.Context, c Call) Result

type Options struct {
	Retries  int
	Backoff  time.Duration
	Resolver schema.Resolver
	Logger   *log.Logger
	Tracer   trace.Tracer
}

type Stats struct {
	Dispatched     uint64
	Rejected       uint64
	NotImplemented uint64
	Retried        uint64
	Handled        uint64
	Internal       uint64
}

type Dispatcher struct {
	reg      *schema.Registry
	retries  int
	backoff  time.Duration
	resolver schema.Resolver
	logger   *log.Logger
	tracer   trace.Tracer

	mu       sync.RWMutex
	handlers map[string]Handler

	dispatched     atomic.Uint64
	rejected       atomic.Uint64
	notImplemented atomic.Uint64
	retried        atomic.Uint64
	handled        atomic.Uint64
	internal       atomic.Uint64
}

func New(reg *schema.Registry, opts Options) *Dispatcher {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		reg:      reg,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		resolver: opts.Resolver,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		handlers: map[string]Handler{},
	}
}

func (d *Dispatcher) Registry() *schema.Registry { return d.reg }

// Register binds h to a declared request name.
func (d *Dispatcher) Register(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %s", name)
	}
	if _, ok := d.reg.Response(name); !ok {
		return fmt.Errorf("dispatch: %s is not a declared request", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.handlers[name]; dup {
		return fmt.Errorf("dispatch: duplicate handler for %s", name)
	}
	d.handlers[name] = h
	return nil
}

func (d *Dispatcher) handler(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:     d.dispatched.Load(),
		Rejected:       d.rejected.Load(),
		NotImplemented: d.notImplemented.Load(),
		Retried:        d.retried.Load(),
		Handled:        d.handled.Load(),
		Internal:       d.internal.Load(),
	}
}

// Dispatch never fails: every outcome is a framed response whose params
// match the paired response schema.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	d.dispatched.Add(1)
	ctx, span := d.tracer.Start(ctx, "dispatch "+req.Name, trace.WithAttributes(
		attribute.String("esm.message", req.Name),
		attribute.String("esm.request_id", req.ID),
	))
	defer span.End()

	resp := d.dispatch(ctx, req)
	span.SetAttributes(attribute.Int("esm.response_code", int(resp.Code)))
	if resp.Code != protocol.CodeOK {
		span.SetStatus(codes.Error, resp.Code.String())
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	if err := d.reg.Validate(ctx, req.Name, req.Params, d.resolver); err != nil {
		se, ok := schema.AsError(err)
		if !ok {
			d.logf("resolve %s id=%s: %v", req.Name, req.ID, err)
			return d.frame(req, Fail(protocol.CodeTransient))
		}
		d.rejected.Add(1)
		return d.frame(req, Fail(se.Kind.Code()))
	}

	h, ok := d.handler(req.Name)
	if !ok {
		d.notImplemented.Add(1)
		return d.frame(req, Fail(protocol.CodeNotImplemented))
	}

	call := Call{Name: req.Name, Identity: req.Identity, Params: req.Params}
	res := d.invoke(ctx, h, call)
	for attempt := 1; attempt <= d.retries && res.Code.Retryable(); attempt++ {
		if !d.sleep(ctx, time.Duration(attempt)*d.backoff) {
			break
		}
		d.retried.Add(1)
		res = d.invoke(ctx, h, call)
	}
	d.handled.Add(1)
	return d.frame(req, res)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, c Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logf("handler %s panic: %v", c.Name, r)
			res = Fail(protocol.CodeInternal)
		}
	}()
	return h(ctx, c)
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// frame builds the paired response. On success the handler values must
// match the schema exactly or the response becomes E_INTERNAL. On failure
// values that do not fit are replaced by typed defaults.
func (d *Dispatcher) frame(req Request, res Result) Response {
	name := schema.ResponseName(req.Name)
	m, ok := d.reg.Lookup(name)
	if !ok {
		return Response{ID: req.ID, Name: name, Code: res.Code, Params: []protocol.Value{protocol.Int(int64(res.Code))}}
	}
	if !protocol.IsKnownCode(res.Code) {
		d.logf("handler %s returned unknown code %d", req.Name, int(res.Code))
		res = Fail(protocol.CodeInternal)
	}

	out := m.Defaults()
	out[0] = protocol.Int(int64(res.Code))
	body := m.Params[1:]
	if res.Code == protocol.CodeOK {
		if err := d.reg.ValidateResponse(name, append([]protocol.Value{out[0]}, res.Values...)); err != nil {
			d.internal.Add(1)
			d.logf("handler %s output rejected: %v", req.Name, err)
			out = m.Defaults()
			out[0] = protocol.Int(int64(protocol.CodeInternal))
			return Response{ID: req.ID, Name: name, Code: protocol.CodeInternal, Params: out}
		}
		copy(out[1:], res.Values)
		return Response{ID: req.ID, Name: name, Code: res.Code, Params: out}
	}
	for i, p := range body {
		if i < len(res.Values) && res.Values[i].Type == p.Type {
			out[i+1] = res.Values[i]
		}
	}
	return Response{ID: req.ID, Name: name, Code: res.Code, Params: out}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
