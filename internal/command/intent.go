package command

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindStake      Kind = "stake"
	KindUnstake    Kind = "unstake"
	KindUnstakeAll Kind = "unstake_all"
	KindBalance    Kind = "balance"
	KindPnL        Kind = "pnl"
	KindROI        Kind = "roi"
	KindHistory    Kind = "history"
	KindHelp       Kind = "help"
	KindConfirm    Kind = "confirm"
	KindCancel     Kind = "cancel"
	KindWhoami     Kind = "whoami"
	KindPrivacy    Kind = "privacy"
)

// Actionable reports whether the kind mutates on-chain state.
func (k Kind) Actionable() bool {
	switch k {
	case KindStake, KindUnstake, KindUnstakeAll:
		return true
	default:
		return false
	}
}

// Portfolio reports whether the kind is a read against the ledger.
func (k Kind) Portfolio() bool {
	switch k {
	case KindBalance, KindPnL, KindROI, KindHistory:
		return true
	default:
		return false
	}
}

// Intent is the immutable result of parsing one chat message.
//
// Amount is valid only for stake and unstake. Netuid is always set for
// actionable kinds; for portfolio reads HasNetuid marks an explicit filter.
type Intent struct {
	Kind      Kind
	Amount    decimal.NullDecimal
	Netuid    int
	HasNetuid bool
	Validator string
	Wallet    string
	RawText   string
}

// Unit is the denomination of Amount: TAO for stake, alpha for unstake.
func (i Intent) Unit() string {
	switch i.Kind {
	case KindStake:
		return "TAO"
	case KindUnstake, KindUnstakeAll:
		return "alpha"
	default:
		return ""
	}
}

// Summary renders the intent as a short human phrase such as
// "stake 0.5 TAO on SN31".
func (i Intent) Summary() string {
	switch i.Kind {
	case KindStake:
		return fmt.Sprintf("stake %s TAO on SN%d", i.Amount.Decimal.String(), i.Netuid)
	case KindUnstake:
		return fmt.Sprintf("unstake %s alpha from SN%d", i.Amount.Decimal.String(), i.Netuid)
	case KindUnstakeAll:
		return fmt.Sprintf("unstake all alpha from SN%d", i.Netuid)
	case KindBalance, KindPnL, KindROI, KindHistory:
		if i.HasNetuid {
			return fmt.Sprintf("%s SN%d", i.Kind, i.Netuid)
		}
		return string(i.Kind)
	default:
		return strings.TrimSpace(string(i.Kind))
	}
}
