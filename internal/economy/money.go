package economy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/itsthedevman/esm-arma/internal/settings"
)

var hundred = decimal.NewFromInt(100)

// dec converts f, mapping NaN and infinities to zero.
func dec(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func clampRate(percent float64) decimal.Decimal {
	r := dec(percent).Div(hundred)
	if r.IsNegative() {
		return decimal.Zero
	}
	if r.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return r
}

// Tax returns base * rate% rounded half up. The rate is clamped to [0, 100].
func Tax(base int64, ratePercent float64) int64 {
	if base <= 0 {
		return 0
	}
	return decimal.NewFromInt(base).Mul(clampRate(ratePercent)).Round(0).IntPart()
}

// Gamble holds the gambling knobs drawn from settings.
type Gamble struct {
	WinPercentage float64
	Modifier      float64
	PayoutBase    float64
	RandomizerMin float64
	RandomizerMax float64
}

func GambleFromSettings(s *settings.State) Gamble {
	g := s.Gambling
	return Gamble{
		WinPercentage: g.WinPercentage,
		Modifier:      g.Modifier,
		PayoutBase:    g.PayoutBase,
		RandomizerMin: g.RandomizerMin,
		RandomizerMax: g.RandomizerMax,
	}
}

func (g Gamble) WinProbability() float64 {
	p, _ := clampRate(g.WinPercentage).Float64()
	return p
}

// Bounds returns the randomizer range with inverted bounds swapped.
func (g Gamble) Bounds() (lo, hi float64) {
	lo, hi = g.RandomizerMin, g.RandomizerMax
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Magnitude maps a uniform u in [0, 1) onto [lo, hi).
func (g Gamble) Magnitude(u float64) float64 {
	lo, hi := g.Bounds()
	return lo + u*(hi-lo)
}

func (g Gamble) raw(wager int64, r float64) int64 {
	return dec(g.PayoutBase).
		Add(decimal.NewFromInt(wager).Mul(dec(g.Modifier)).Mul(dec(r))).
		Floor().IntPart()
}

// MaxPayout is the largest payout any magnitude draw can produce.
func (g Gamble) MaxPayout(wager int64) int64 {
	lo, hi := g.Bounds()
	m := g.raw(wager, hi)
	if v := g.raw(wager, lo); v > m {
		m = v
	}
	if m < 0 {
		return 0
	}
	return m
}

// Payout is floor(base + wager * modifier * r) clamped to [0, MaxPayout].
func (g Gamble) Payout(wager int64, r float64) int64 {
	p := g.raw(wager, r)
	if p < 0 {
		return 0
	}
	if limit := g.MaxPayout(wager); p > limit {
		return limit
	}
	return p
}

// CapToLocker limits a payout so locker+payout never exceeds limit.
func CapToLocker(payout, locker, limit int64) int64 {
	room := limit - locker
	if room < 0 {
		room = 0
	}
	if payout > room {
		return room
	}
	return payout
}
