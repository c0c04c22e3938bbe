package confirm

import (
	"time"

	"github.com/ggonzalez94/stakechat/internal/command"
	"github.com/shopspring/decimal"
)

// Policy decides which actionable intents need a confirm round trip.
type Policy struct {
	RequireConfirmation bool
	// Threshold is inclusive and compared against the raw command amount.
	Threshold decimal.Decimal
	TTL       time.Duration
}

// Required reports whether intent must be confirmed before execution.
// Unstake-all always crosses the threshold since its size is unknown.
func (p Policy) Required(intent command.Intent) bool {
	if !p.RequireConfirmation || !intent.Kind.Actionable() {
		return false
	}
	if intent.Kind == command.KindUnstakeAll || !intent.Amount.Valid {
		return true
	}
	return intent.Amount.Decimal.GreaterThanOrEqual(p.Threshold)
}

// Decision is the result of submitting an actionable intent.
type Decision struct {
	// NeedsConfirmation is false when the caller should execute right away.
	NeedsConfirmation bool
	Pending           Pending
	// Replaced holds the live entry the new one superseded.
	Replaced    Pending
	HasReplaced bool
}

// Machine applies Policy to a Store.
type Machine struct {
	store  *Store
	policy Policy
	now    func() time.Time
}

func NewMachine(store *Store, policy Policy, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	if store == nil {
		store = NewStore(now)
	}
	return &Machine{store: store, policy: policy, now: now}
}

func (m *Machine) Store() *Store { return m.store }

func (m *Machine) Policy() Policy { return m.policy }

// Submit records intent as pending when the policy requires it. The newest
// command for a key always supersedes an earlier pending one.
func (m *Machine) Submit(key Key, intent command.Intent, hotkey, wallet, coldkey string) Decision {
	if !m.policy.Required(intent) {
		return Decision{}
	}
	now := m.now()
	p := Pending{
		Intent:    intent,
		Hotkey:    hotkey,
		Wallet:    wallet,
		Coldkey:   coldkey,
		CreatedAt: now,
		ExpiresAt: now.Add(m.policy.TTL),
	}
	replaced, ok := m.store.Put(key, p)
	return Decision{NeedsConfirmation: true, Pending: p, Replaced: replaced, HasReplaced: ok}
}

// Confirm consumes the pending entry for key. The returned entry must be
// executed exactly once by the caller.
func (m *Machine) Confirm(key Key) (Pending, error) {
	return m.store.Take(key)
}

// Cancel drops any pending entry for key and reports the live one removed.
func (m *Machine) Cancel(key Key) (Pending, bool) {
	return m.store.Remove(key)
}
