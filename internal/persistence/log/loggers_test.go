package log

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/itsthedevman/esm-arma/internal/audit"
)

func TestAuditWriter_RoundTripAndRotation(t *testing.T) {
	dir := t.TempDir()
	aw := NewAuditWriter(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	aw.w.now = func() time.Time { return clock }

	ctx := context.Background()
	if err := aw.WriteAudit(ctx, audit.Entry{Kind: audit.KindGamble, Actor: "u1", Detail: map[string]any{"wager": 10}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := aw.WriteAudit(ctx, audit.Entry{Kind: audit.KindExecDenied, Actor: "u2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := aw.WriteAudit(ctx, audit.Entry{Kind: audit.KindPayTerritory, Actor: "u3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := AuditFiles(filepath.Join(dir, "audit"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "audit-2024-05-01-10.jsonl.zst" {
		t.Fatalf("file name: %s", files[0])
	}

	var kinds []audit.Kind
	for _, f := range files {
		if err := ReadAudit(f, func(e audit.Entry) bool {
			kinds = append(kinds, e.Kind)
			return true
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(kinds) != 3 || kinds[0] != audit.KindGamble || kinds[2] != audit.KindPayTerritory {
		t.Fatalf("kinds=%v", kinds)
	}
}

func TestAuditWriter_OnFileClosed(t *testing.T) {
	dir := t.TempDir()
	aw := NewAuditWriter(dir)
	clock := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	aw.w.now = func() time.Time { return clock }

	var closed []string
	aw.OnFileClosed(func(p string) { closed = append(closed, filepath.Base(p)) })

	ctx := context.Background()
	_ = aw.WriteAudit(ctx, audit.Entry{Kind: audit.KindGamble, Actor: "u1"})
	_ = aw.WriteAudit(ctx, audit.Entry{Kind: audit.KindGamble, Actor: "u1"})
	if len(closed) != 0 {
		t.Fatalf("closed before rotation: %v", closed)
	}
	clock = clock.Add(time.Hour)
	_ = aw.WriteAudit(ctx, audit.Entry{Kind: audit.KindGamble, Actor: "u2"})
	if len(closed) != 1 || closed[0] != "audit-2024-05-01-23.jsonl.zst" {
		t.Fatalf("closed after rotation=%v", closed)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 2 || closed[1] != "audit-2024-05-02-00.jsonl.zst" {
		t.Fatalf("closed after Close=%v", closed)
	}
	// A second Close has nothing open and reports nothing.
	_ = aw.Close()
	if len(closed) != 2 {
		t.Fatalf("closed twice: %v", closed)
	}
}
