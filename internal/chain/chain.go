// Package chain defines the staking network collaborator: balance and price
// reads, stake and unstake submission, and the tagged outcome of a submission.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Client is the chain-facing surface the bot depends on. Every method is a
// blocking network call.
type Client interface {
	Balance(ctx context.Context, wallet string) (Balance, error)
	Price(ctx context.Context, netuid int) (decimal.Decimal, error)
	SubmitStake(ctx context.Context, req StakeRequest) (Receipt, error)
	SubmitUnstake(ctx context.Context, req UnstakeRequest) (Receipt, error)
	ValidateNetuid(ctx context.Context, netuid int) (bool, error)
}

type Balance struct {
	FreeTAO decimal.Decimal
	// Alpha is the staked alpha per netuid summed over validators. Missing
	// subnets hold zero.
	Alpha map[int]decimal.Decimal
	// Stakes breaks Alpha down by validator hotkey, ordered by netuid and then
	// hotkey. Gateways that do not report it leave it empty.
	Stakes []Stake
}

type Stake struct {
	Netuid int
	Hotkey string
	Alpha  decimal.Decimal
}

func (b Balance) AlphaOn(netuid int) decimal.Decimal {
	if b.Alpha == nil {
		return decimal.Zero
	}
	return b.Alpha[netuid]
}

// StakeOn is the alpha delegated to hotkey on netuid. Without a per-hotkey
// breakdown for netuid it falls back to the subnet total.
func (b Balance) StakeOn(netuid int, hotkey string) decimal.Decimal {
	total, reported := decimal.Zero, false
	for _, s := range b.Stakes {
		if s.Netuid != netuid {
			continue
		}
		reported = true
		if s.Hotkey == hotkey {
			total = total.Add(s.Alpha)
		}
	}
	if !reported {
		return b.AlphaOn(netuid)
	}
	return total
}

// BestHotkey returns the hotkey holding the most alpha on netuid. Ties go to
// the first one listed.
func (b Balance) BestHotkey(netuid int) (string, bool) {
	best, most := "", decimal.Zero
	for _, s := range b.Stakes {
		if s.Netuid == netuid && s.Alpha.GreaterThan(most) {
			best, most = s.Hotkey, s.Alpha
		}
	}
	return best, best != ""
}

type StakeRequest struct {
	Wallet    string
	Hotkey    string
	Netuid    int
	AmountTAO decimal.Decimal
}

type UnstakeRequest struct {
	Wallet      string
	Hotkey      string
	Netuid      int
	AmountAlpha decimal.Decimal
	All         bool
}

// Receipt describes a settled submission. Amounts are optional because not
// every gateway reports what was actually moved.
type Receipt struct {
	Reference   string
	Hotkey      string
	TAOAmount   decimal.NullDecimal
	AlphaAmount decimal.NullDecimal
}

// RejectedError is a definite failure: the chain or gateway refused the
// operation and nothing was broadcast.
type RejectedError struct {
	Reason string
	Code   int
	Cause  error
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "submission rejected"
	}
	return "submission rejected: " + e.Reason
}

func (e *RejectedError) Unwrap() error { return e.Cause }

func Rejected(format string, args ...any) *RejectedError {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeUncertain Outcome = "uncertain"
)

// Classify tags the error returned by a submit call. Anything other than a
// RejectedError may have been broadcast and must not be retried.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsRejected(err):
		return OutcomeFailed
	default:
		return OutcomeUncertain
	}
}
