package economy

import (
	"context"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/store"
)

// Gamble stakes wager poptabs from the caller's locker. The win draw and
// the payout magnitude draw are independent.
func (e *Engine) Gamble(ctx context.Context, c dispatch.Call) dispatch.Result {
	uid := c.Identity.UID
	fail := func(code protocol.Code, wager, locker int64) dispatch.Result {
		return dispatch.Fail(code, protocol.Bool(false), protocol.Int(wager), protocol.Int(0), protocol.Int(locker))
	}
	wager, ok := positiveInt(c.Params[0])
	if !ok {
		return fail(protocol.CodeBadRequest, 0, 0)
	}

	unlock, code := e.lock(ctx, AccountKey(uid))
	if code != protocol.CodeOK {
		return fail(code, wager, 0)
	}
	defer unlock()

	acct, err := e.account(ctx, uid)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), wager, 0)
	}
	if acct.Locker < wager {
		return fail(protocol.CodeInsufficientFunds, wager, acct.Locker)
	}

	st := e.state()
	g := GambleFromSettings(st)
	won := e.random.Float64() < g.WinProbability()
	var payout int64
	if won {
		payout = g.Payout(wager, g.Magnitude(e.random.Float64()))
		if st.Gambling.LockerLimitEnabled {
			payout = CapToLocker(payout, acct.Locker, e.economy.LockerLimit)
		}
		acct.Locker += payout
	} else {
		acct.Locker -= wager
	}
	if code := e.apply(ctx, store.Mutation{Accounts: []store.Account{acct}}); code != protocol.CodeOK {
		return fail(code, wager, 0)
	}
	unlock()

	e.record(audit.KindGamble, uid, map[string]any{
		"wager":  wager,
		"won":    won,
		"payout": payout,
		"locker": acct.Locker,
	})
	return dispatch.OK(protocol.Bool(won), protocol.Int(wager), protocol.Int(payout), protocol.Int(acct.Locker))
}

// TransferPoptabs moves poptabs from the caller's locker to another
// player's locker.
func (e *Engine) TransferPoptabs(ctx context.Context, c dispatch.Call) dispatch.Result {
	uid := c.Identity.UID
	target := c.Params[0].Str
	fail := func(code protocol.Code, amount, locker int64) dispatch.Result {
		return dispatch.Fail(code, protocol.String(target), protocol.Int(amount), protocol.Int(locker))
	}
	amount, ok := positiveInt(c.Params[1])
	if !ok {
		return fail(protocol.CodeBadRequest, 0, 0)
	}
	if target == uid {
		return fail(protocol.CodeInvalidTarget, amount, 0)
	}

	unlock, code := e.lock(ctx, AccountKey(uid), AccountKey(target))
	if code != protocol.CodeOK {
		return fail(code, amount, 0)
	}
	defer unlock()

	from, err := e.account(ctx, uid)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), amount, 0)
	}
	to, err := e.account(ctx, target)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), amount, from.Locker)
	}
	if from.Locker < amount {
		return fail(protocol.CodeInsufficientFunds, amount, from.Locker)
	}

	from.Locker -= amount
	to.Locker += amount
	if code := e.apply(ctx, store.Mutation{Accounts: []store.Account{from, to}}); code != protocol.CodeOK {
		return fail(code, amount, 0)
	}
	unlock()

	e.record(audit.KindTransferPoptabs, uid, map[string]any{
		"target_uid": target,
		"amount":     amount,
	})
	return dispatch.OK(protocol.String(target), protocol.Int(amount), protocol.Int(from.Locker))
}

// ModifyPlayer applies signed deltas to a player's money, locker and
// respect. Privileged callers only.
func (e *Engine) ModifyPlayer(ctx context.Context, c dispatch.Call) dispatch.Result {
	target := c.Params[0].Str
	fail := func(code protocol.Code, a store.Account) dispatch.Result {
		return dispatch.Fail(code, protocol.String(target), protocol.Int(a.Money), protocol.Int(a.Locker), protocol.Int(a.Respect))
	}
	if !c.Identity.Admin {
		return fail(protocol.CodeAccessDenied, store.Account{})
	}
	var deltas [3]int64
	for i := range deltas {
		n, ok := c.Params[i+1].Integer()
		if !ok {
			return fail(protocol.CodeBadRequest, store.Account{})
		}
		deltas[i] = n
	}

	unlock, code := e.lock(ctx, AccountKey(target))
	if code != protocol.CodeOK {
		return fail(code, store.Account{})
	}
	defer unlock()

	acct, err := e.account(ctx, target)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), store.Account{})
	}
	before := acct
	acct.Money += deltas[0]
	acct.Locker += deltas[1]
	acct.Respect += deltas[2]
	if acct.Money < 0 || acct.Locker < 0 || acct.Respect < 0 {
		return fail(protocol.CodeInsufficientFunds, before)
	}
	if code := e.apply(ctx, store.Mutation{Accounts: []store.Account{acct}}); code != protocol.CodeOK {
		return fail(code, before)
	}
	unlock()

	e.record(audit.KindModifyPlayer, c.Identity.UID, map[string]any{
		"target_uid":    target,
		"money_delta":   deltas[0],
		"locker_delta":  deltas[1],
		"respect_delta": deltas[2],
	})
	return dispatch.OK(protocol.String(target), protocol.Int(acct.Money), protocol.Int(acct.Locker), protocol.Int(acct.Respect))
}
