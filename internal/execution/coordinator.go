// Package execution runs confirmed stake and unstake intents against the
// chain, one at a time per wallet, and records every attempt in the ledger.
package execution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ggonzalez94/stakechat/internal/chain"
	"github.com/ggonzalez94/stakechat/internal/command"
	"github.com/ggonzalez94/stakechat/internal/confirm"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/keylock"
	"github.com/ggonzalez94/stakechat/internal/ledger"
	"github.com/ggonzalez94/stakechat/internal/units"
	"github.com/shopspring/decimal"
)

const DefaultSubmitTimeout = 60 * time.Second

// UncertainNote is attached to records whose submission outcome is unknown.
const UncertainNote = "submission outcome unknown; check balance and history before retrying"

// Request is one confirmed intent. Wallet is the profile name recorded in the
// ledger; Coldkey is the address every chain call and the wallet lock use,
// defaulting to Wallet when empty.
type Request struct {
	Key     confirm.Key
	Wallet  string
	Coldkey string
	Intent  command.Intent
	Hotkey  string
}

func (r Request) address() string {
	if c := strings.TrimSpace(r.Coldkey); c != "" {
		return c
	}
	return r.Wallet
}

// Outcome is the tagged result of one execution. Record is always the
// record that was appended. Cause is set unless Status is success.
type Outcome struct {
	Status chain.Outcome
	Record ledger.Record
	Cause  error
}

type Options struct {
	SubmitTimeout time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

type Coordinator struct {
	client        chain.Client
	store         ledger.Store
	wallets       *keylock.Queue
	submitTimeout time.Duration
	log           *slog.Logger
	now           func() time.Time
}

func New(client chain.Client, store ledger.Store, opts Options) *Coordinator {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		client:        client,
		store:         store,
		wallets:       keylock.New(),
		submitTimeout: opts.SubmitTimeout,
		log:           opts.Logger,
		now:           opts.Now,
	}
}

// Execute runs req while holding its wallet. A non-nil error means the
// attempt could not be recorded; chain failures are reported in Outcome.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Outcome, error) {
	if err := validate(req); err != nil {
		return Outcome{}, err
	}
	release, err := c.wallets.Lock(ctx, req.address())
	if err != nil {
		return Outcome{}, clierr.Wrap(clierr.CodeInternal, "wait for wallet", err)
	}
	defer release()

	rec := c.newRecord(req)
	out := c.run(ctx, req, &rec)
	out.Record = rec

	// The attempt is recorded even when the caller has gone away.
	if err := c.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Error("ledger append failed", "record", rec.ID, "wallet", req.Wallet, "coldkey", req.address(), "status", out.Status, "err", err)
		return out, clierr.Wrap(clierr.CodeInternal, "record execution", err)
	}
	c.log.Info("execution finished",
		"record", rec.ID,
		"wallet", req.Wallet,
		"action", rec.Action,
		"netuid", rec.Netuid,
		"status", out.Status,
		"reference", rec.ChainReference,
	)
	return out, nil
}

func (c *Coordinator) run(ctx context.Context, req Request, rec *ledger.Record) Outcome {
	balance, err := c.client.Balance(ctx, req.address())
	if err != nil {
		return c.fail(rec, clierr.Wrap(clierr.CodeUnavailable, "refresh balance", err))
	}
	price, err := c.client.Price(ctx, req.Intent.Netuid)
	if err != nil {
		return c.fail(rec, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read SN%d price", req.Intent.Netuid), err))
	}
	rec.PriceTAOPerAlpha = price
	if err := checkBalance(req.Intent, req.Hotkey, balance); err != nil {
		return c.fail(rec, err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	receipt, err := c.submit(submitCtx, req)
	switch chain.Classify(err) {
	case chain.OutcomeFailed:
		return c.fail(rec, clierr.Wrap(clierr.CodeRejected, "submission rejected", err))
	case chain.OutcomeUncertain:
		rec.Result = ledger.ResultFailure
		rec.Note = UncertainNote + ": " + err.Error()
		c.log.Warn("submission uncertain", "record", rec.ID, "wallet", req.Wallet, "err", err)
		return Outcome{Status: chain.OutcomeUncertain, Cause: clierr.Wrap(clierr.CodeUncertain, "submission outcome unknown", err)}
	}

	settle(rec, req, receipt, balance, price)
	return Outcome{Status: chain.OutcomeSuccess}
}

func (c *Coordinator) submit(ctx context.Context, req Request) (chain.Receipt, error) {
	intent := req.Intent
	switch intent.Kind {
	case command.KindStake:
		return c.client.SubmitStake(ctx, chain.StakeRequest{
			Wallet:    req.address(),
			Hotkey:    req.Hotkey,
			Netuid:    intent.Netuid,
			AmountTAO: intent.Amount.Decimal,
		})
	default:
		return c.client.SubmitUnstake(ctx, chain.UnstakeRequest{
			Wallet:      req.address(),
			Hotkey:      req.Hotkey,
			Netuid:      intent.Netuid,
			AmountAlpha: intent.Amount.Decimal,
			All:         intent.Kind == command.KindUnstakeAll,
		})
	}
}

func (c *Coordinator) fail(rec *ledger.Record, cause error) Outcome {
	rec.Result = ledger.ResultFailure
	rec.Note = noteFor(cause)
	return Outcome{Status: chain.OutcomeFailed, Cause: cause}
}

func (c *Coordinator) newRecord(req Request) ledger.Record {
	rec := ledger.NewRecord(c.now())
	rec.Platform = req.Key.Platform
	rec.UserID = req.Key.UserID
	rec.Wallet = req.Wallet
	rec.Netuid = req.Intent.Netuid
	rec.ValidatorHotkey = req.Hotkey
	switch req.Intent.Kind {
	case command.KindStake:
		rec.Action = ledger.ActionStake
		rec.AmountTAO = req.Intent.Amount.Decimal
	case command.KindUnstake:
		rec.Action = ledger.ActionUnstake
		rec.AmountAlpha = req.Intent.Amount.Decimal
	case command.KindUnstakeAll:
		rec.Action = ledger.ActionUnstakeAll
	}
	return rec
}

func validate(req Request) error {
	if !req.Intent.Kind.Actionable() {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("intent %q is not executable", req.Intent.Kind))
	}
	if strings.TrimSpace(req.Wallet) == "" {
		return clierr.New(clierr.CodeInternal, "execution request missing wallet")
	}
	if strings.TrimSpace(req.Hotkey) == "" {
		return clierr.New(clierr.CodeInternal, "execution request missing validator hotkey")
	}
	if req.Intent.Kind != command.KindUnstakeAll && (!req.Intent.Amount.Valid || !req.Intent.Amount.Decimal.IsPositive()) {
		return clierr.New(clierr.CodeInvalidAmount, "execution request missing amount")
	}
	return nil
}

// checkBalance rejects amounts the refreshed balance cannot cover. Unstakes
// are checked against the alpha delegated to hotkey. Unstake all is never
// short: it sells whatever is held, possibly nothing.
func checkBalance(intent command.Intent, hotkey string, balance chain.Balance) error {
	amount := intent.Amount.Decimal
	switch intent.Kind {
	case command.KindStake:
		if balance.FreeTAO.LessThan(amount) {
			return clierr.New(clierr.CodeInsufficientBalance,
				fmt.Sprintf("insufficient balance: %s TAO free, %s TAO requested", balance.FreeTAO, amount))
		}
	case command.KindUnstake:
		held := balance.StakeOn(intent.Netuid, hotkey)
		if held.LessThan(amount) {
			return clierr.New(clierr.CodeInsufficientBalance,
				fmt.Sprintf("insufficient alpha on SN%d with this validator: %s held, %s requested", intent.Netuid, held, amount))
		}
	}
	return nil
}

// settle fills the settled amounts, preferring what the receipt reports and
// deriving the rest from the quoted price.
func settle(rec *ledger.Record, req Request, receipt chain.Receipt, balance chain.Balance, price decimal.Decimal) {
	intent := req.Intent
	rec.Result = ledger.ResultSuccess
	rec.ChainReference = receipt.Reference
	if receipt.Hotkey != "" {
		rec.ValidatorHotkey = receipt.Hotkey
	}

	switch intent.Kind {
	case command.KindStake:
		tao := intent.Amount.Decimal
		if receipt.TAOAmount.Valid {
			tao = receipt.TAOAmount.Decimal
		}
		alpha := decimal.Zero
		switch {
		case receipt.AlphaAmount.Valid:
			alpha = receipt.AlphaAmount.Decimal
		case price.IsPositive():
			alpha = tao.DivRound(price, units.Decimals)
		}
		rec.AmountTAO, rec.AmountAlpha = tao, alpha
	default:
		alpha := intent.Amount.Decimal
		if intent.Kind == command.KindUnstakeAll {
			alpha = balance.StakeOn(intent.Netuid, req.Hotkey)
		}
		if receipt.AlphaAmount.Valid {
			alpha = receipt.AlphaAmount.Decimal
		}
		tao := units.Round(alpha.Mul(price))
		if receipt.TAOAmount.Valid {
			tao = receipt.TAOAmount.Decimal
		}
		rec.AmountTAO, rec.AmountAlpha = tao, alpha
	}

	if receipt.TAOAmount.Valid && receipt.AlphaAmount.Valid && rec.AmountAlpha.IsPositive() {
		rec.PriceTAOPerAlpha = rec.AmountTAO.DivRound(rec.AmountAlpha, 18)
	}
}

func noteFor(err error) string {
	if typed, ok := clierr.As(err); ok {
		if typed.Code == clierr.CodeRejected && typed.Cause != nil {
			return typed.Cause.Error()
		}
	}
	return err.Error()
}
