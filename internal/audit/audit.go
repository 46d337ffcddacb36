// Package audit records economic actions off the request path. Recording
// never fails the caller, and only security entries ever wait.
package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsthedevman/esm-arma/internal/settings"
)

type Kind string

const (
	KindPayTerritory              Kind = "pay_territory"
	KindUpgradeTerritory          Kind = "upgrade_territory"
	KindPromotePlayer             Kind = "promote_player"
	KindDemotePlayer              Kind = "demote_player"
	KindAddPlayerToTerritory      Kind = "add_player_to_territory"
	KindRemovePlayerFromTerritory Kind = "remove_player_from_territory"
	KindGamble                    Kind = "gamble"
	KindRewardPlayer              Kind = "reward_player"
	KindTransferPoptabs           Kind = "transfer_poptabs"
	KindModifyPlayer              Kind = "modify_player"
	KindExec                      Kind = "exec"
	KindExecDenied                Kind = "exec_denied"
)

// Enabled reports whether the settings gate for k is on. Kinds without a
// gate are always recorded.
func (k Kind) Enabled(s *settings.State) bool {
	if s == nil {
		return true
	}
	l := s.Logging
	switch k {
	case KindPayTerritory:
		return l.PayTerritory
	case KindUpgradeTerritory:
		return l.UpgradeTerritory
	case KindPromotePlayer:
		return l.PromotePlayer
	case KindDemotePlayer:
		return l.DemotePlayer
	case KindAddPlayerToTerritory:
		return l.AddPlayerToTerritory
	case KindRemovePlayerFromTerritory:
		return l.RemovePlayerFromTerritory
	case KindGamble:
		return l.Gamble
	case KindRewardPlayer:
		return l.RewardPlayer
	case KindTransferPoptabs:
		return l.TransferPoptabs
	case KindModifyPlayer:
		return l.ModifyPlayer
	case KindExec:
		return l.Exec
	default:
		return true
	}
}

type Entry struct {
	Time      time.Time      `json:"time"`
	Kind      Kind           `json:"kind"`
	Actor     string         `json:"actor"`
	ServerID  string         `json:"server_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Sink implementations must be safe for concurrent use.
type Sink interface {
	WriteAudit(ctx context.Context, e Entry) error
}

type Stats struct {
	Recorded uint64
	Dropped  uint64
	Failed   uint64
	Gated    uint64
}

type Options struct {
	QueueSize   int
	SinkTimeout time.Duration
	Logger      *log.Logger
	Now         func() time.Time

	// SecurityWait bounds how long Security waits for queue space before
	// writing the entry itself.
	SecurityWait time.Duration
}

// Logger gates entries by settings and fans them out to sinks on a
// single worker goroutine.
type Logger struct {
	settings *settings.Holder
	sinks    []Sink
	timeout  time.Duration
	secWait  time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu     sync.RWMutex
	ch     chan Entry
	wg     sync.WaitGroup
	once   sync.Once
	closed bool

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
	gated    atomic.Uint64
}

func New(h *settings.Holder, opts Options, sinks ...Sink) *Logger {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = time.Second
	}
	if opts.SecurityWait <= 0 {
		opts.SecurityWait = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Logger{
		settings: h,
		sinks:    sinks,
		timeout:  opts.SinkTimeout,
		secWait:  opts.SecurityWait,
		logger:   opts.Logger,
		now:      opts.Now,
		ch:       make(chan Entry, opts.QueueSize),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l
}

// Record enqueues an entry if its gate is on. A full queue drops it.
func (l *Logger) Record(kind Kind, actor string, detail map[string]any) {
	if l == nil {
		return
	}
	st := l.current()
	if !kind.Enabled(st) {
		l.gated.Add(1)
		return
	}
	if ok, _ := l.enqueue(l.entry(st, kind, actor, detail), 0); !ok {
		l.dropped.Add(1)
	}
}

// Security records a privilege failure regardless of any gate. It waits
// up to SecurityWait for queue space and otherwise writes the entry to the
// sinks on the calling goroutine, so a busy queue never loses it.
func (l *Logger) Security(actor string, detail map[string]any) {
	if l == nil {
		return
	}
	e := l.entry(l.current(), KindExecDenied, actor, detail)
	ok, closed := l.enqueue(e, l.secWait)
	switch {
	case ok:
	case closed:
		l.dropped.Add(1)
	default:
		l.deliver(e)
	}
}

func (l *Logger) current() *settings.State {
	if l.settings == nil {
		return nil
	}
	return l.settings.Current()
}

func (l *Logger) entry(st *settings.State, kind Kind, actor string, detail map[string]any) Entry {
	e := Entry{Time: l.now().UTC(), Kind: kind, Actor: actor, Detail: detail}
	if st != nil {
		e.ServerID = st.ServerID
		e.ChannelID = st.LoggingChannelID
	}
	return e
}

// enqueue hands e to the worker, waiting at most wait for space.
func (l *Logger) enqueue(e Entry, wait time.Duration) (ok, closed bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false, true
	}
	select {
	case l.ch <- e:
		return true, false
	default:
	}
	if wait <= 0 {
		return false, false
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case l.ch <- e:
		return true, false
	case <-t.C:
		return false, false
	}
}

func (l *Logger) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Recorded: l.recorded.Load(),
		Dropped:  l.dropped.Load(),
		Failed:   l.failed.Load(),
		Gated:    l.gated.Load(),
	}
}

// Close stops accepting entries and drains the queue.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
		l.wg.Wait()
	})
}

func (l *Logger) loop() {
	for e := range l.ch {
		l.deliver(e)
	}
}

func (l *Logger) deliver(e Entry) {
	ok := true
	for _, s := range l.sinks {
		if err := l.write(s, e); err != nil {
			ok = false
			l.failed.Add(1)
			if l.logger != nil {
				l.logger.Printf("audit sink %T: %v", s, err)
			}
		}
	}
	if ok {
		l.recorded.Add(1)
	}
}

func (l *Logger) write(s Sink, e Entry) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.WriteAudit(ctx, e)
}

// LoggerSink prints entries to a process logger, tagged with the channel id.
type LoggerSink struct{ Logger *log.Logger }

func (s LoggerSink) WriteAudit(_ context.Context, e Entry) error {
	if s.Logger == nil {
		return nil
	}
	ch := e.ChannelID
	if ch == "" {
		ch = "-"
	}
	s.Logger.Printf("audit channel=%s kind=%s actor=%s detail=%v", ch, e.Kind, e.Actor, e.Detail)
	return nil
}
