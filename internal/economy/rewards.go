package economy

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/store"
)

const (
	ContainerInventory = "inventory"
	ContainerVehicle   = "vehicle"
)

// NewRewardCode returns the last 8 characters of a random UUID.
func NewRewardCode() string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(s[len(s)-8:])
}

// NewPin returns a uniformly drawn 4-digit pin.
func NewPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// RewardPlayer grants a reward to a player. Vehicle rewards get a pin the
// player must present when spawning the vehicle.
func (e *Engine) RewardPlayer(ctx context.Context, c dispatch.Call) dispatch.Result {
	fail := func(code protocol.Code) dispatch.Result { return dispatch.Fail(code) }
	if !c.Identity.Admin {
		return fail(protocol.CodeAccessDenied)
	}
	target := c.Params[0].Str
	rtype := store.RewardType(c.Params[1].Str)
	classname := strings.TrimSpace(c.Params[2].Str)
	qty, ok := positiveInt(c.Params[3])
	if !ok || !rtype.Valid() {
		return fail(protocol.CodeBadRequest)
	}
	expiresIn, ok := c.Params[4].Integer()
	if !ok || expiresIn < 0 {
		return fail(protocol.CodeBadRequest)
	}
	switch rtype {
	case store.RewardClassname, store.RewardVehicle:
		if classname == "" {
			return fail(protocol.CodeBadRequest)
		}
	default:
		classname = ""
	}
	if _, err := e.account(ctx, target); err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidTarget))
	}

	var pin string
	if rtype == store.RewardVehicle {
		p, err := NewPin()
		if err != nil {
			e.logf("reward pin: %v", err)
			return fail(protocol.CodeInternal)
		}
		pin = p
	}

	now := e.now().UTC()
	r := store.Reward{
		OwnerUID:  target,
		Type:      rtype,
		Classname: classname,
		Quantity:  qty,
		Pin:       pin,
		Source:    "reward_player:" + c.Identity.UID,
		CreatedAt: now,
	}
	if expiresIn > 0 {
		r.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}

	for attempt := 0; attempt < 5; attempt++ {
		code := NewRewardCode()
		res, done := e.insertReward(ctx, r, code)
		if !done {
			continue
		}
		if res.Code == protocol.CodeOK {
			e.record(audit.KindRewardPlayer, c.Identity.UID, map[string]any{
				"target_uid":  target,
				"reward_code": code,
				"reward_type": string(rtype),
				"classname":   classname,
				"quantity":    qty,
			})
		}
		return res
	}
	return fail(protocol.CodeInternal)
}

// insertReward stores r under code unless the code is taken. done is false
// when the code collided and another should be tried.
func (e *Engine) insertReward(ctx context.Context, r store.Reward, code string) (dispatch.Result, bool) {
	unlock, lc := e.lock(ctx, RewardKey(code))
	if lc != protocol.CodeOK {
		return dispatch.Fail(lc), true
	}
	defer unlock()
	if _, err := e.reward(ctx, code); err == nil {
		return dispatch.Result{}, false
	} else if c := lookupCode(err, protocol.CodeOK); c != protocol.CodeOK {
		return dispatch.Fail(c), true
	}
	r.Code = code
	if c := e.apply(ctx, store.Mutation{Rewards: []store.Reward{r}}); c != protocol.CodeOK {
		return dispatch.Fail(c), true
	}
	return dispatch.OK(protocol.String(code), protocol.String(r.Pin)), true
}

// RewardLoadAll lists the caller's unredeemed, unexpired rewards as rows of
// [code, type, classname, quantity, expires_at_unix]. It takes no locks.
func (e *Engine) RewardLoadAll(ctx context.Context, c dispatch.Call) dispatch.Result {
	rctx, cancel := e.readCtx(ctx)
	defer cancel()
	rewards, err := e.store.Rewards(rctx, c.Identity.UID)
	if err != nil {
		return dispatch.Fail(backendCode(err))
	}
	now := e.now()
	rows := make([]any, 0, len(rewards))
	for _, r := range rewards {
		if r.Redeemed() || r.Expired(now) {
			continue
		}
		var expires int64
		if !r.ExpiresAt.IsZero() {
			expires = r.ExpiresAt.Unix()
		}
		rows = append(rows, []any{r.Code, string(r.Type), r.Classname, r.Quantity, expires})
	}
	return dispatch.OK(protocol.Array(rows...))
}

// usable checks that r can be redeemed by uid now.
func usable(r store.Reward, uid string, now time.Time) protocol.Code {
	switch {
	case r.OwnerUID != uid, r.Expired(now):
		return protocol.CodeInvalidRedemptionCode
	case r.Redeemed():
		return protocol.CodeAlreadyRedeemed
	default:
		return protocol.CodeOK
	}
}

// RewardRedeemItem redeems a non-vehicle reward into the caller's
// inventory or a vehicle's cargo.
func (e *Engine) RewardRedeemItem(ctx context.Context, c dispatch.Call) dispatch.Result {
	uid := c.Identity.UID
	code, ctype, netID := c.Params[0].Str, c.Params[1].Str, strings.TrimSpace(c.Params[2].Str)
	fail := func(rc protocol.Code) dispatch.Result { return dispatch.Fail(rc, protocol.String(code)) }

	var ctypeNum int64
	switch ctype {
	case ContainerInventory:
		if netID == "" {
			netID = store.PlayerNetID(uid)
		}
	case ContainerVehicle:
		ctypeNum = 1
	default:
		return fail(protocol.CodeBadRequest)
	}

	unlock, lc := e.lock(ctx, RewardKey(code), AccountKey(uid))
	if lc != protocol.CodeOK {
		return fail(lc)
	}
	defer unlock()

	r, err := e.reward(ctx, code)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidRedemptionCode))
	}
	now := e.now().UTC()
	if rc := usable(r, uid, now); rc != protocol.CodeOK {
		return fail(rc)
	}
	if r.Type == store.RewardVehicle {
		return fail(protocol.CodeBadRequest)
	}

	container, err := e.object(ctx, netID)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeUnresolvedReference))
	}
	switch {
	case ctype == ContainerInventory && (container.Kind != store.ObjectPlayer || container.OwnerUID != uid):
		return fail(protocol.CodeUnresolvedReference)
	case ctype == ContainerVehicle && container.Kind != store.ObjectVehicle:
		return fail(protocol.CodeUnresolvedReference)
	}

	r.RedeemedAt = now
	r.ContainerType = ctype
	if ctype == ContainerVehicle {
		r.VehicleNetID = container.NetID
	}
	m := store.Mutation{Rewards: []store.Reward{r}}
	if r.Type == store.RewardClassname {
		m.Items = []store.Item{{ContainerNetID: container.NetID, Classname: r.Classname, Quantity: r.Quantity}}
	} else {
		acct, err := e.account(ctx, uid)
		if err != nil {
			return fail(lookupCode(err, protocol.CodeInvalidTarget))
		}
		switch r.Type {
		case store.RewardPlayerPoptabs:
			acct.Money += r.Quantity
		case store.RewardLockerPoptabs:
			acct.Locker += r.Quantity
		case store.RewardRespect:
			acct.Respect += r.Quantity
		}
		m.Accounts = []store.Account{acct}
	}
	if rc := e.apply(ctx, m); rc != protocol.CodeOK {
		return fail(rc)
	}
	unlock()

	e.record(audit.KindRewardPlayer, uid, map[string]any{
		"action":         "redeem_item",
		"reward_code":    code,
		"reward_type":    string(r.Type),
		"quantity":       r.Quantity,
		"container_type": ctype,
		"container":      container.NetID,
	})
	return dispatch.OK(
		protocol.String(code),
		protocol.String(string(r.Type)),
		protocol.String(r.Classname),
		protocol.Int(r.Quantity),
		protocol.Int(ctypeNum),
		protocol.String(r.VehicleNetID),
	)
}

// RewardRedeemVehicle spawns a vehicle reward. The pin must match the one
// generated when the reward was granted; a wrong pin consumes nothing.
func (e *Engine) RewardRedeemVehicle(ctx context.Context, c dispatch.Call) dispatch.Result {
	uid := c.Identity.UID
	classname, pin := c.Params[0].Str, c.Params[1].Str
	fail := func(rc protocol.Code) dispatch.Result {
		return dispatch.Fail(rc, protocol.String(""), protocol.String(classname))
	}
	if e.session == nil {
		return fail(protocol.CodeNotImplemented)
	}

	rctx, cancel := e.readCtx(ctx)
	rewards, err := e.store.Rewards(rctx, uid)
	cancel()
	if err != nil {
		return fail(backendCode(err))
	}
	now := e.now().UTC()
	var candidates []store.Reward
	for _, r := range rewards {
		if r.Type == store.RewardVehicle && r.Classname == classname && usable(r, uid, now) == protocol.CodeOK {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return fail(protocol.CodeInvalidRedemptionCode)
	}
	var code string
	for _, r := range candidates {
		if r.Pin == pin {
			code = r.Code
			break
		}
	}
	if code == "" {
		return fail(protocol.CodeInvalidPin)
	}

	unlock, lc := e.lock(ctx, RewardKey(code), AccountKey(uid))
	if lc != protocol.CodeOK {
		return fail(lc)
	}
	defer unlock()

	// Re-read under the lock: a concurrent redemption may have won.
	r, err := e.reward(ctx, code)
	if err != nil {
		return fail(lookupCode(err, protocol.CodeInvalidRedemptionCode))
	}
	if rc := usable(r, uid, now); rc != protocol.CodeOK {
		return fail(rc)
	}

	sctx, scancel := e.readCtx(ctx)
	vehicle, err := e.session.SpawnVehicle(sctx, uid, classname, pin)
	scancel()
	if err != nil {
		return fail(backendCode(err))
	}
	r.RedeemedAt = now
	r.ContainerType = ContainerVehicle
	r.VehicleNetID = vehicle.NetID
	if rc := e.apply(ctx, store.Mutation{Rewards: []store.Reward{r}, Objects: []store.Object{vehicle}}); rc != protocol.CodeOK {
		return fail(rc)
	}
	unlock()

	e.record(audit.KindRewardPlayer, uid, map[string]any{
		"action":      "redeem_vehicle",
		"reward_code": code,
		"classname":   classname,
		"vehicle":     vehicle.NetID,
	})
	return dispatch.OK(protocol.String(code), protocol.String(classname), protocol.String(vehicle.NetID))
}
