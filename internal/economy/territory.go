package economy

import (
	"context"
	"fmt"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/store"
)

// PayTerritory charges the caller the protection fee of a territory plus
// the payment tax and resets its payment counter.
func (e *Engine) PayTerritory(ctx context.Context, c dispatch.Call) dispatch.Result {
	tid := c.Params[0].Str
	uid := c.Identity.UID
	fail := func(code protocol.Code, tax, locker int64) dispatch.Result {
		return dispatch.Fail(code, protocol.String(tid), protocol.Int(0), protocol.Int(tax), protocol.Int(locker))
	}

	unlock, code := e.lock(ctx, TerritoryKey(tid), AccountKey(uid))
	if code != protocol.CodeOK {
		return fail(code, 0, 0)
	}
	defer unlock()

	t, err := e.territory(ctx, tid)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), 0, 0)
	}
	if _, member := t.Role(uid); !member && !e.territoryOverride(c) {
		return fail(protocol.CodeAccessDenied, 0, 0)
	}
	acct, err := e.account(ctx, uid)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), 0, 0)
	}

	base := t.Level * t.ObjectCount * e.economy.PricePerObject
	tax := Tax(base, e.state().Taxes.TerritoryPayment)
	due := base + tax
	if acct.Locker < due {
		return fail(protocol.CodeInsufficientFunds, tax, acct.Locker)
	}

	acct.Locker -= due
	t.Balance += base
	t.PaymentCounter = 0
	t.LastPaidAt = e.now().UTC()
	if code := e.apply(ctx, store.Mutation{Accounts: []store.Account{acct}, Territories: []store.Territory{t}}); code != protocol.CodeOK {
		return fail(code, tax, 0)
	}
	unlock()

	e.record(audit.KindPayTerritory, uid, map[string]any{
		"territory_id": tid,
		"amount_paid":  due,
		"tax":          tax,
		"level":        t.Level,
		"objects":      t.ObjectCount,
	})
	return dispatch.OK(protocol.String(tid), protocol.Int(due), protocol.Int(tax), protocol.Int(acct.Locker))
}

// UpgradeTerritory raises a territory one level at the configured price
// plus the upgrade tax.
func (e *Engine) UpgradeTerritory(ctx context.Context, c dispatch.Call) dispatch.Result {
	tid := c.Params[0].Str
	uid := c.Identity.UID
	fail := func(code protocol.Code, level, tax, locker int64) dispatch.Result {
		return dispatch.Fail(code, protocol.String(tid), protocol.Int(level), protocol.Int(0), protocol.Int(tax), protocol.Int(locker))
	}

	unlock, code := e.lock(ctx, TerritoryKey(tid), AccountKey(uid))
	if code != protocol.CodeOK {
		return fail(code, 0, 0, 0)
	}
	defer unlock()

	t, err := e.territory(ctx, tid)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), 0, 0, 0)
	}
	role, _ := t.Role(uid)
	if role.Rank() < store.RoleModerator.Rank() && !e.territoryOverride(c) {
		return fail(protocol.CodeAccessDenied, t.Level, 0, 0)
	}
	price, ok := e.economy.UpgradePrice(t.Level)
	if !ok {
		return fail(protocol.CodeMaxLevel, t.Level, 0, 0)
	}
	acct, err := e.account(ctx, uid)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget), t.Level, 0, 0)
	}

	tax := Tax(price, e.state().Taxes.TerritoryUpgrade)
	due := price + tax
	if acct.Locker < due {
		return fail(protocol.CodeInsufficientFunds, t.Level, tax, acct.Locker)
	}

	acct.Locker -= due
	t.Balance += price
	t.Level++
	if code := e.apply(ctx, store.Mutation{Accounts: []store.Account{acct}, Territories: []store.Territory{t}}); code != protocol.CodeOK {
		return fail(code, t.Level-1, tax, 0)
	}
	unlock()

	e.record(audit.KindUpgradeTerritory, uid, map[string]any{
		"territory_id": tid,
		"new_level":    t.Level,
		"amount_paid":  due,
		"tax":          tax,
	})
	return dispatch.OK(protocol.String(tid), protocol.Int(t.Level), protocol.Int(due), protocol.Int(tax), protocol.Int(acct.Locker))
}

func roleResult(code protocol.Code, tid, target string, role store.Role) dispatch.Result {
	return dispatch.Result{Code: code, Values: []protocol.Value{protocol.String(tid), protocol.String(target), protocol.String(string(role))}}
}

// PromotePlayer moves a member one step up: member to moderator, moderator
// to owner. Promoting a moderator to owner hands over the territory and
// the previous owner becomes a moderator.
func (e *Engine) PromotePlayer(ctx context.Context, c dispatch.Call) dispatch.Result {
	tid, target := c.Params[0].Str, c.Params[1].Str
	uid := c.Identity.UID

	unlock, code := e.lock(ctx, TerritoryKey(tid))
	if code != protocol.CodeOK {
		return roleResult(code, tid, target, "")
	}
	defer unlock()

	t, err := e.territory(ctx, tid)
	if err != nil {
		return roleResult(lookupCode(err, protocol.CodeInvalidTarget), tid, target, "")
	}
	if t.OwnerUID != uid && !e.territoryOverride(c) {
		return roleResult(protocol.CodeAccessDenied, tid, target, "")
	}
	role, member := t.Role(target)
	if !member {
		return roleResult(protocol.CodeInvalidTarget, tid, target, "")
	}

	var next store.Role
	switch role {
	case store.RoleOwner:
		return roleResult(protocol.CodeOK, tid, target, role)
	case store.RoleModerator:
		next = store.RoleOwner
		prev := t.OwnerUID
		delete(t.Members, target)
		t.OwnerUID = target
		if prev != "" {
			t.Members[prev] = store.RoleModerator
		}
	default:
		next = store.RoleModerator
		t.Members[target] = next
	}
	if code := e.apply(ctx, store.Mutation{Territories: []store.Territory{t}}); code != protocol.CodeOK {
		return roleResult(code, tid, target, role)
	}
	unlock()

	e.record(audit.KindPromotePlayer, uid, map[string]any{
		"territory_id": tid,
		"target_uid":   target,
		"from":         string(role),
		"to":           string(next),
	})
	return roleResult(protocol.CodeOK, tid, target, next)
}

// DemotePlayer moves a moderator down to member. Demoting a member is a
// no-op. The owner cannot be demoted; ownership moves only by promotion.
func (e *Engine) DemotePlayer(ctx context.Context, c dispatch.Call) dispatch.Result {
	tid, target := c.Params[0].Str, c.Params[1].Str
	uid := c.Identity.UID

	unlock, code := e.lock(ctx, TerritoryKey(tid))
	if code != protocol.CodeOK {
		return roleResult(code, tid, target, "")
	}
	defer unlock()

	t, err := e.territory(ctx, tid)
	if err != nil {
		return roleResult(lookupCode(err, protocol.CodeInvalidTarget), tid, target, "")
	}
	if t.OwnerUID != uid && !e.territoryOverride(c) {
		return roleResult(protocol.CodeAccessDenied, tid, target, "")
	}
	role, member := t.Role(target)
	switch {
	case !member, role == store.RoleOwner:
		return roleResult(protocol.CodeInvalidTarget, tid, target, role)
	case role == store.RoleMember:
		return roleResult(protocol.CodeOK, tid, target, role)
	}

	t.Members[target] = store.RoleMember
	if code := e.apply(ctx, store.Mutation{Territories: []store.Territory{t}}); code != protocol.CodeOK {
		return roleResult(code, tid, target, role)
	}
	unlock()

	e.record(audit.KindDemotePlayer, uid, map[string]any{
		"territory_id": tid,
		"target_uid":   target,
		"from":         string(role),
		"to":           string(store.RoleMember),
	})
	return roleResult(protocol.CodeOK, tid, target, store.RoleMember)
}

// AddPlayerToTerritory grants build rights to an existing player.
func (e *Engine) AddPlayerToTerritory(ctx context.Context, c dispatch.Call) dispatch.Result {
	tid, target := c.Params[0].Str, c.Params[1].Str
	uid := c.Identity.UID

	unlock, code := e.lock(ctx, TerritoryKey(tid))
	if code != protocol.CodeOK {
		return roleResult(code, tid, target, "")
	}
	defer unlock()

	t, err := e.territory(ctx, tid)
	if err != nil {
		return roleResult(lookupCode(err, protocol.CodeInvalidTarget), tid, target, "")
	}
	role, _ := t.Role(uid)
	if role.Rank() < store.RoleModerator.Rank() && !e.territoryOverride(c) {
		return roleResult(protocol.CodeAccessDenied, tid, target, "")
	}
	if _, err := e.account(ctx, target); err != nil {
		return roleResult(lookupCode(err, protocol.CodeInvalidTarget), tid, target, "")
	}
	if existing, member := t.Role(target); member {
		return roleResult(protocol.CodeOK, tid, target, existing)
	}

	t.Members[target] = store.RoleMember
	if code := e.apply(ctx, store.Mutation{Territories: []store.Territory{t}}); code != protocol.CodeOK {
		return roleResult(code, tid, target, "")
	}
	unlock()

	e.record(audit.KindAddPlayerToTerritory, uid, map[string]any{
		"territory_id": tid,
		"target_uid":   target,
	})
	return roleResult(protocol.CodeOK, tid, target, store.RoleMember)
}

// RemovePlayerFromTerritory revokes a player's rights. Owners and admins
// may remove anyone but the owner; moderators may remove plain members;
// anyone but the owner may remove themselves.
func (e *Engine) RemovePlayerFromTerritory(ctx context.Context, c dispatch.Call) dispatch.Result {
	tid, target := c.Params[0].Str, c.Params[1].Str
	uid := c.Identity.UID
	result := func(code protocol.Code) dispatch.Result {
		return dispatch.Result{Code: code, Values: []protocol.Value{protocol.String(tid), protocol.String(target)}}
	}

	unlock, code := e.lock(ctx, TerritoryKey(tid))
	if code != protocol.CodeOK {
		return result(code)
	}
	defer unlock()

	t, err := e.territory(ctx, tid)
	if err != nil {
		return result(lookupCode(err, protocol.CodeInvalidTarget))
	}
	targetRole, member := t.Role(target)
	if !member || targetRole == store.RoleOwner {
		return result(protocol.CodeInvalidTarget)
	}
	callerRole, _ := t.Role(uid)
	allowed := e.territoryOverride(c) ||
		callerRole == store.RoleOwner ||
		(callerRole == store.RoleModerator && targetRole == store.RoleMember) ||
		uid == target
	if !allowed {
		return result(protocol.CodeAccessDenied)
	}

	delete(t.Members, target)
	if code := e.apply(ctx, store.Mutation{Territories: []store.Territory{t}}); code != protocol.CodeOK {
		return result(code)
	}
	unlock()

	e.record(audit.KindRemovePlayerFromTerritory, uid, map[string]any{
		"territory_id": tid,
		"target_uid":   target,
		"role":         string(targetRole),
	})
	return result(protocol.CodeOK)
}

// FlagStealStarted queues an XM8 notification for every member of the
// territory the flag belongs to.
func (e *Engine) FlagStealStarted(ctx context.Context, c dispatch.Call) dispatch.Result {
	result := func(code protocol.Code, tid string, n int) dispatch.Result {
		return dispatch.Result{Code: code, Values: []protocol.Value{protocol.String(tid), protocol.Int(int64(n))}}
	}

	flag, err := e.object(ctx, c.Params[0].Ref)
	if err != nil {
		return result(lookupCode(err, protocol.CodeUnresolvedReference), "", 0)
	}
	if flag.Kind != store.ObjectFlag || flag.TerritoryID == "" {
		return result(protocol.CodeUnresolvedReference, "", 0)
	}
	t, err := e.territory(ctx, flag.TerritoryID)
	if err != nil {
		return result(lookupCode(err, protocol.CodeUnresolvedReference), flag.TerritoryID, 0)
	}

	now := e.now().UTC()
	name := t.Name
	if name == "" {
		name = t.ID
	}
	var notes []store.Notification
	for _, member := range t.MemberUIDs() {
		notes = append(notes, store.Notification{
			UID:       member,
			Kind:      "flag-steal-started",
			Title:     "Flag Steal Started!",
			Body:      fmt.Sprintf("Someone is trying to steal the flag of %s", name),
			CreatedAt: now,
		})
	}
	if len(notes) > 0 {
		if code := e.apply(ctx, store.Mutation{Notifications: notes}); code != protocol.CodeOK {
			return result(code, t.ID, 0)
		}
	}
	return result(protocol.CodeOK, t.ID, len(notes))
}
