// Package chaintest provides a scriptable in-memory chain for tests and
// local simulation.
package chaintest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ggonzalez94/stakechat/internal/chain"
	"github.com/shopspring/decimal"
)

// Submission is one call into SubmitStake or SubmitUnstake.
type Submission struct {
	Op          string
	Wallet      string
	Hotkey      string
	Netuid      int
	AmountTAO   decimal.Decimal
	AmountAlpha decimal.Decimal
	All         bool
}

// DefaultHotkey holds the alpha set through SetAlpha.
const DefaultHotkey = "5E2LP6EnZ54m3wS8s1yPvD5c3xo71kQroBw7aUVK32TKeZ5u"

// Fake is a deterministic chain with per-wallet balances, per-hotkey stakes
// and per-subnet prices. Successful submissions move balances at the current
// price.
type Fake struct {
	mu          sync.Mutex
	accounts    map[string]*account
	prices      map[int]decimal.Decimal
	subnets     map[int]bool
	errs        []error
	submissions []Submission
	delay       time.Duration
	inFlight    int
	maxInFlight int
	seq         int
	balanceErr  error
	omitAmounts bool
}

func New() *Fake {
	return &Fake{
		accounts: map[string]*account{},
		prices:   map[int]decimal.Decimal{},
	}
}

var _ chain.Client = (*Fake)(nil)

func (f *Fake) SetFree(wallet string, tao string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallet(wallet).free = decimal.RequireFromString(tao)
	return f
}

// SetAlpha sets the alpha wallet has delegated to DefaultHotkey on netuid.
func (f *Fake) SetAlpha(wallet string, netuid int, alpha string) *Fake {
	return f.SetStake(wallet, netuid, DefaultHotkey, alpha)
}

func (f *Fake) SetStake(wallet string, netuid int, hotkey, alpha string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallet(wallet).setStake(netuid, hotkey, decimal.RequireFromString(alpha))
	return f
}

func (f *Fake) SetPrice(netuid int, price string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[netuid] = decimal.RequireFromString(price)
	return f
}

// SetSubnets restricts ValidateNetuid to the given ids. Without it every
// subnet with a price exists.
func (f *Fake) SetSubnets(netuids ...int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subnets = map[int]bool{}
	for _, n := range netuids {
		f.subnets[n] = true
	}
	return f
}

// FailNext queues errors returned by the next submissions, in order.
func (f *Fake) FailNext(errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
	return f
}

// FailBalance makes Balance return err until reset with nil.
func (f *Fake) FailBalance(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceErr = err
	return f
}

// SetDelay makes each submission wait d or until its context ends, in
// which case the operation is counted but the context error is returned.
func (f *Fake) SetDelay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// OmitReceiptAmounts makes receipts carry only a reference.
func (f *Fake) OmitReceiptAmounts() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitAmounts = true
	return f
}

func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

// MaxInFlight is the highest number of submissions observed running at once.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *Fake) Balance(ctx context.Context, wallet string) (chain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return chain.Balance{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return chain.Balance{}, f.balanceErr
	}
	return f.wallet(wallet).balance(), nil
}

func (f *Fake) Price(ctx context.Context, netuid int) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[netuid]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for SN%d", netuid)
	}
	return price, nil
}

func (f *Fake) ValidateNetuid(ctx context.Context, netuid int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subnets != nil {
		return f.subnets[netuid], nil
	}
	_, ok := f.prices[netuid]
	return ok, nil
}

func (f *Fake) SubmitStake(ctx context.Context, req chain.StakeRequest) (chain.Receipt, error) {
	sub := Submission{Op: "stake", Wallet: req.Wallet, Hotkey: req.Hotkey, Netuid: req.Netuid, AmountTAO: req.AmountTAO}
	if err := f.begin(ctx, sub); err != nil {
		return chain.Receipt{}, err
	}
	defer f.end()

	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[req.Netuid]
	if !ok || !price.IsPositive() {
		return chain.Receipt{}, chain.Rejected("subnet %d has no pool", req.Netuid)
	}
	a := f.wallet(req.Wallet)
	if a.free.LessThan(req.AmountTAO) {
		return chain.Receipt{}, chain.Rejected("insufficient free balance")
	}
	alpha := req.AmountTAO.DivRound(price, 9)
	a.free = a.free.Sub(req.AmountTAO)
	a.setStake(req.Netuid, req.Hotkey, a.stake(req.Netuid, req.Hotkey).Add(alpha))
	return f.receipt(req.Hotkey, req.AmountTAO, alpha), nil
}

func (f *Fake) SubmitUnstake(ctx context.Context, req chain.UnstakeRequest) (chain.Receipt, error) {
	sub := Submission{Op: "unstake", Wallet: req.Wallet, Hotkey: req.Hotkey, Netuid: req.Netuid, AmountAlpha: req.AmountAlpha, All: req.All}
	if err := f.begin(ctx, sub); err != nil {
		return chain.Receipt{}, err
	}
	defer f.end()

	f.mu.Lock()
	defer f.mu.Unlock()
	price := f.prices[req.Netuid]
	a := f.wallet(req.Wallet)
	held := a.stake(req.Netuid, req.Hotkey)
	alpha := req.AmountAlpha
	if req.All {
		alpha = held
	}
	if held.LessThan(alpha) {
		return chain.Receipt{}, chain.Rejected("insufficient alpha on SN%d for %s", req.Netuid, req.Hotkey)
	}
	tao := alpha.Mul(price).Round(9)
	a.setStake(req.Netuid, req.Hotkey, held.Sub(alpha))
	a.free = a.free.Add(tao)
	return f.receipt(req.Hotkey, tao, alpha), nil
}

func (f *Fake) begin(ctx context.Context, sub Submission) error {
	f.mu.Lock()
	f.submissions = append(f.submissions, sub)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	var scripted error
	if len(f.errs) > 0 {
		scripted = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.end()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if scripted != nil {
		f.end()
		return scripted
	}
	return nil
}

func (f *Fake) end() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *Fake) receipt(hotkey string, tao, alpha decimal.Decimal) chain.Receipt {
	f.seq++
	r := chain.Receipt{Reference: fmt.Sprintf("0x%064x", f.seq), Hotkey: hotkey}
	if !f.omitAmounts {
		r.TAOAmount = decimal.NewNullDecimal(tao)
		r.AlphaAmount = decimal.NewNullDecimal(alpha)
	}
	return r
}

func (f *Fake) wallet(name string) *account {
	a, ok := f.accounts[name]
	if !ok {
		a = &account{stakes: map[int]map[string]decimal.Decimal{}}
		f.accounts[name] = a
	}
	return a
}

type account struct {
	free   decimal.Decimal
	stakes map[int]map[string]decimal.Decimal
}

func (a *account) stake(netuid int, hotkey string) decimal.Decimal {
	return a.stakes[netuid][hotkey]
}

func (a *account) setStake(netuid int, hotkey string, alpha decimal.Decimal) {
	byHotkey, ok := a.stakes[netuid]
	if !ok {
		byHotkey = map[string]decimal.Decimal{}
		a.stakes[netuid] = byHotkey
	}
	byHotkey[hotkey] = alpha
}

func (a *account) balance() chain.Balance {
	out := chain.Balance{FreeTAO: a.free, Alpha: map[int]decimal.Decimal{}}
	for netuid, byHotkey := range a.stakes {
		for hotkey, alpha := range byHotkey {
			if !alpha.IsPositive() {
				continue
			}
			out.Alpha[netuid] = out.Alpha[netuid].Add(alpha)
			out.Stakes = append(out.Stakes, chain.Stake{Netuid: netuid, Hotkey: hotkey, Alpha: alpha})
		}
	}
	sort.Slice(out.Stakes, func(i, j int) bool {
		if out.Stakes[i].Netuid != out.Stakes[j].Netuid {
			return out.Stakes[i].Netuid < out.Stakes[j].Netuid
		}
		return out.Stakes[i].Hotkey < out.Stakes[j].Hotkey
	})
	return out
}
