package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	Enqueued       uint64
	QueueSaturated uint64
	Dropped        uint64
	Uploaded       uint64
	UploadFailed   uint64
	LastSuccess    int64
	LastError      int64
}

type MirrorOptions struct {
	// DataDir is the root object keys are computed relative to.
	DataDir       string
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Attempts      int
	Backoff       time.Duration
	Logger        *log.Logger
}

// Mirror uploads files handed to Enqueue on a small worker pool. The local
// file stays authoritative; a failed upload is logged and counted only.
type Mirror struct {
	up   Uploader
	opts MirrorOptions

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued       atomic.Uint64
	queueSaturated atomic.Uint64
	dropped        atomic.Uint64
	uploaded       atomic.Uint64
	uploadFailed   atomic.Uint64
	lastSuccess    atomic.Int64
	lastError      atomic.Int64
}

func NewMirror(up Uploader, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")

	m := &Mirror{
		up:   up,
		opts: opts,
		jobs: make(chan string, opts.QueueCapacity),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.uploadOne(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// queue space and drops the file after that.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueued.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturated.Add(1)
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		n := m.dropped.Add(1)
		m.printf("archive drop local=%s reason=queue_saturated dropped_total=%d", localPath, n)
	}
}

// Close stops accepting files and waits for queued uploads to finish.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
	return nil
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(m.jobs),
		QueueCapacity:  cap(m.jobs),
		Enqueued:       m.enqueued.Load(),
		QueueSaturated: m.queueSaturated.Load(),
		Dropped:        m.dropped.Load(),
		Uploaded:       m.uploaded.Load(),
		UploadFailed:   m.uploadFailed.Load(),
		LastSuccess:    m.lastSuccess.Load(),
		LastError:      m.lastError.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.uploadFailed.Add(1)
		m.printf("archive skip local=%s err=%v", localPath, err)
		return
	}
	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailed.Add(1)
		m.lastError.Store(time.Now().UTC().Unix())
		m.printf("archive upload failed key=%s err=%v", key, err)
		return
	}
	m.uploaded.Add(1)
	m.lastSuccess.Store(time.Now().UTC().Unix())
	m.printf("archive uploaded key=%s", key)
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return lastErr
}

// objectKey maps a file under DataDir to Prefix/<relative path>.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.opts.DataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.opts.Prefix != "" {
		return path.Join(m.opts.Prefix, rel), nil
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
