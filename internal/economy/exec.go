package economy

import (
	"context"
	"strings"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
)

// Exec hands an administrative code string to the executor. A caller
// without the admin claim is refused and the attempt is always audited.
// Admin calls are audited whether or not they run.
func (e *Engine) Exec(ctx context.Context, c dispatch.Call) dispatch.Result {
	code, target := c.Params[0].Str, strings.TrimSpace(c.Params[1].Str)
	if !c.Identity.Admin {
		e.audit.Security(c.Identity.UID, map[string]any{
			"session_id": c.Identity.SessionID,
			"execute_on": target,
			"code":       code,
		})
		return dispatch.Fail(protocol.CodeSecurityDenied)
	}
	rejected := func(reason string, fail protocol.Code) dispatch.Result {
		e.record(audit.KindExec, c.Identity.UID, map[string]any{
			"execute_on": target,
			"code":       code,
			"ok":         false,
			"reason":     reason,
		})
		return dispatch.Fail(fail)
	}
	if strings.TrimSpace(code) == "" || target == "" {
		return rejected("missing code or target", protocol.CodeBadRequest)
	}
	if e.executor == nil {
		return rejected("no executor", protocol.CodeNotImplemented)
	}

	xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	result, err := e.executor.Execute(xctx, code, target)
	e.record(audit.KindExec, c.Identity.UID, map[string]any{
		"execute_on": target,
		"code":       code,
		"ok":         err == nil,
	})
	if err != nil {
		e.logf("exec: %v", err)
		return dispatch.Fail(backendCode(err))
	}
	return dispatch.OK(protocol.String(result))
}
