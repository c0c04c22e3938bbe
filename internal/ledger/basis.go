package ledger

import (
	"github.com/shopspring/decimal"
)

// divPrecision is the scale used for every division in the fold.
const divPrecision = 18

var hundred = decimal.NewFromInt(100)

// Basis is the weighted-average cost state of one subnet position. Alpha is
// the quantity the ledger believes is held, which may differ from the live
// balance when stake moved outside this bot.
type Basis struct {
	Alpha       decimal.Decimal
	AvgEntry    decimal.Decimal
	Realized    decimal.Decimal
	TotalStaked decimal.Decimal
	// Known is set once a successful stake has been seen.
	Known bool
}

// Apply folds one record into the basis. Failures never change it.
func (b Basis) Apply(rec Record) Basis {
	if rec.Result != ResultSuccess {
		return b
	}
	switch {
	case rec.Action == ActionStake:
		received := alphaReceived(rec)
		held := b.Alpha.Add(received)
		if held.IsPositive() {
			b.AvgEntry = b.AvgEntry.Mul(b.Alpha).Add(rec.AmountTAO).DivRound(held, divPrecision)
		}
		b.Alpha = held
		b.TotalStaked = b.TotalStaked.Add(rec.AmountTAO)
		b.Known = true
	case rec.Action.Unstake():
		sold := alphaSold(rec)
		if b.Known && sold.IsPositive() {
			b.Realized = b.Realized.Add(rec.PriceTAOPerAlpha.Sub(b.AvgEntry).Mul(sold))
		}
		b.Alpha = decimal.Max(b.Alpha.Sub(sold), decimal.Zero)
	}
	return b
}

// Fold replays records, which must be in append order, into per-subnet bases.
func Fold(records []Record) map[int]Basis {
	out := map[int]Basis{}
	for _, rec := range records {
		out[rec.Netuid] = out[rec.Netuid].Apply(rec)
	}
	return out
}

func alphaReceived(rec Record) decimal.Decimal {
	if rec.AmountAlpha.IsPositive() {
		return rec.AmountAlpha
	}
	if rec.PriceTAOPerAlpha.IsPositive() {
		return rec.AmountTAO.DivRound(rec.PriceTAOPerAlpha, divPrecision)
	}
	return decimal.Zero
}

func alphaSold(rec Record) decimal.Decimal {
	if rec.AmountAlpha.IsPositive() {
		return rec.AmountAlpha
	}
	if rec.PriceTAOPerAlpha.IsPositive() {
		return rec.AmountTAO.DivRound(rec.PriceTAOPerAlpha, divPrecision)
	}
	return decimal.Zero
}

// ROI returns (realized + unrealized) / staked * 100, or zero when nothing
// was ever staked.
func ROI(realized, unrealized, staked decimal.Decimal) decimal.Decimal {
	if !staked.IsPositive() {
		return decimal.Zero
	}
	return realized.Add(unrealized).Mul(hundred).DivRound(staked, divPrecision)
}
