package r2s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
	calls int
	block chan struct{}
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("503 slow down")
	}
	f.keys = append(f.keys, key)
	return nil
}

func writeFile(t *testing.T, p string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestMirror_UploadsWithPrefixAndRetries(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{fails: 2}
	m := NewMirror(up, MirrorOptions{DataDir: dir, Prefix: "/esm_malden/", Backoff: time.Millisecond})

	m.Enqueue(writeFile(t, filepath.Join(dir, "audit", "audit-2024-05-01-10.jsonl.zst")))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "esm_malden/audit/audit-2024-05-01-10.jsonl.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if up.calls != 3 || st.Uploaded != 1 || st.UploadFailed != 0 || st.LastSuccess == 0 {
		t.Fatalf("calls=%d stats=%+v", up.calls, st)
	}
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{fails: 10}
	m := NewMirror(up, MirrorOptions{DataDir: dir, Attempts: 3, Backoff: time.Millisecond})
	m.Enqueue(writeFile(t, filepath.Join(dir, "a.zst")))
	m.Close()

	if st := m.Stats(); up.calls != 3 || st.UploadFailed != 1 || st.Uploaded != 0 || st.LastError == 0 {
		t.Fatalf("calls=%d stats=%+v", up.calls, st)
	}
}

func TestMirror_SkipsFilesOutsideDataDir(t *testing.T) {
	dir := t.TempDir()
	other := writeFile(t, filepath.Join(t.TempDir(), "b.zst"))
	up := &fakeUploader{}
	m := NewMirror(up, MirrorOptions{DataDir: dir})
	m.Enqueue(other)
	m.Enqueue(filepath.Join(dir, "missing.zst"))
	m.Close()

	if up.calls != 0 || m.Stats().UploadFailed != 2 {
		t.Fatalf("calls=%d stats=%+v", up.calls, m.Stats())
	}
}

func TestMirror_DropsWhenSaturated(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{block: make(chan struct{})}
	m := NewMirror(up, MirrorOptions{DataDir: dir, QueueCapacity: 1, EnqueueWait: time.Millisecond})
	p := writeFile(t, filepath.Join(dir, "c.zst"))

	// One file held by the worker, one queued, the rest dropped.
	m.Enqueue(p)
	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().QueueDepth != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Enqueue(p)
	m.Enqueue(p)
	m.Enqueue(p)
	close(up.block)
	m.Close()

	st := m.Stats()
	if st.Enqueued != 4 || st.Dropped != 2 || st.Uploaded != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		host   string
		secure bool
		err    bool
	}{
		{"acct.r2.cloudflarestorage.com", "acct.r2.cloudflarestorage.com", true, false},
		{"https://acct.r2.cloudflarestorage.com/", "acct.r2.cloudflarestorage.com", true, false},
		{"http://127.0.0.1:9000", "127.0.0.1:9000", false, false},
		{"ftp://x", "", false, true},
		{"", "", false, true},
	}
	for _, tc := range cases {
		host, secure, err := parseEndpoint(tc.in)
		if (err != nil) != tc.err || host != tc.host || secure != tc.secure {
			t.Fatalf("parseEndpoint(%q)=%q,%v,%v", tc.in, host, secure, err)
		}
	}
}
