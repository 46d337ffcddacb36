package economy

import (
	"testing"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
)

func TestExec_NonAdminDeniedAndAlwaysAudited(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: map[string]any{"logging_exec": false}})

	resp := f.call("u1", false, schema.Exec, protocol.String("hint 'hi'"), protocol.String("server"))
	expectCode(t, resp, protocol.CodeSecurityDenied)
	if len(f.mem.Execs()) != 0 {
		t.Fatalf("denied exec reached the executor")
	}

	resp = f.call("admin", true, schema.Exec, protocol.String("hint 'hi'"), protocol.String("server"))
	expectCode(t, resp, protocol.CodeOK)
	if resp.Params[1].Str != "queued:1" {
		t.Fatalf("params=%v", resp.Params)
	}

	f.audit.Close()
	if n := f.sink.count(audit.KindExecDenied); n != 1 {
		t.Fatalf("exec_denied audits=%d want=1", n)
	}
	if n := f.sink.count(audit.KindExec); n != 0 {
		t.Fatalf("exec audits=%d with logging_exec off", n)
	}
}

func TestExec_AdminAuditedEvenWhenRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	expectCode(t, f.call("admin", true, schema.Exec, protocol.String(""), protocol.String("server")), protocol.CodeBadRequest)
	expectCode(t, f.call("admin", true, schema.Exec, protocol.String("x = 1"), protocol.String(" ")), protocol.CodeBadRequest)

	expectCode(t, f.call("admin", true, schema.Exec, protocol.String("x = 1"), protocol.String("76561198000000000")), protocol.CodeOK)
	execs := f.mem.Execs()
	if len(execs) != 1 || execs[0].Code != "x = 1" || execs[0].ExecuteOn != "76561198000000000" {
		t.Fatalf("execs=%+v", execs)
	}
	f.audit.Close()
	if n := f.sink.count(audit.KindExec); n != 3 {
		t.Fatalf("exec audits=%d want=3", n)
	}
	var oks []any
	for _, e := range f.sink.entries {
		oks = append(oks, e.Detail["ok"])
	}
	if oks[0] != false || oks[1] != false || oks[2] != true {
		t.Fatalf("ok flags=%v", oks)
	}
	if f.sink.entries[0].Detail["reason"] != "missing code or target" {
		t.Fatalf("detail=%v", f.sink.entries[0].Detail)
	}
}

func TestExec_NoExecutorStillAudited(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.engine.executor = nil

	expectCode(t, f.call("admin", true, schema.Exec, protocol.String("x = 1"), protocol.String("server")), protocol.CodeNotImplemented)
	f.audit.Close()
	if n := f.sink.count(audit.KindExec); n != 1 {
		t.Fatalf("exec audits=%d want=1", n)
	}
	if d := f.sink.entries[0].Detail; d["ok"] != false || d["reason"] != "no executor" || d["code"] != "x = 1" {
		t.Fatalf("detail=%v", d)
	}
}
