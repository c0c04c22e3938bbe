// Package ledger keeps the append-only transaction history and derives
// cost basis, PnL and ROI from it.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionStake      Action = "stake"
	ActionUnstake    Action = "unstake"
	ActionUnstakeAll Action = "unstake_all"
)

func (a Action) Unstake() bool { return a == ActionUnstake || a == ActionUnstakeAll }

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Record is one attempted execution. For stakes AmountTAO is spent and
// AmountAlpha received; for unstakes AmountAlpha is sold and AmountTAO
// received.
type Record struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"ts"`
	Platform         string          `json:"platform"`
	UserID           string          `json:"user_id"`
	Wallet           string          `json:"wallet"`
	Action           Action          `json:"action"`
	Netuid           int             `json:"netuid"`
	AmountTAO        decimal.Decimal `json:"amount_tao"`
	AmountAlpha      decimal.Decimal `json:"amount_alpha"`
	ValidatorHotkey  string          `json:"validator_hotkey"`
	Result           Result          `json:"result"`
	ChainReference   string          `json:"chain_reference,omitempty"`
	PriceTAOPerAlpha decimal.Decimal `json:"price_tao_per_alpha"`
	Note             string          `json:"note,omitempty"`
}

// NewRecord stamps a record with a fresh id and the given time.
func NewRecord(now time.Time) Record {
	return Record{ID: uuid.NewString(), Timestamp: now.UTC()}
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record missing id")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("record %s missing timestamp", r.ID)
	}
	switch r.Action {
	case ActionStake, ActionUnstake, ActionUnstakeAll:
	default:
		return fmt.Errorf("record %s has unknown action %q", r.ID, r.Action)
	}
	switch r.Result {
	case ResultSuccess, ResultFailure:
	default:
		return fmt.Errorf("record %s has unknown result %q", r.ID, r.Result)
	}
	if r.AmountTAO.IsNegative() || r.AmountAlpha.IsNegative() || r.PriceTAOPerAlpha.IsNegative() {
		return fmt.Errorf("record %s has a negative amount", r.ID)
	}
	return nil
}

// Query selects the records of one caller. Wallet and Netuid narrow it
// further when set.
type Query struct {
	Platform  string
	UserID    string
	Wallet    string
	// Coldkey addresses the chain for balance reads and never filters
	// records. Empty means Wallet.
	Coldkey   string
	Netuid    int
	HasNetuid bool
}

func (q Query) address() string {
	if q.Coldkey != "" {
		return q.Coldkey
	}
	return q.Wallet
}

func (q Query) Matches(r Record) bool {
	if r.Platform != q.Platform || r.UserID != q.UserID {
		return false
	}
	if q.Wallet != "" && r.Wallet != q.Wallet {
		return false
	}
	if q.HasNetuid && r.Netuid != q.Netuid {
		return false
	}
	return true
}

// Store is an append-only record log. List returns matching records in
// append order and only ever observes whole records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
