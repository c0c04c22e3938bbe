// Package bot turns chat messages into replies: it parses, authorizes,
// confirms and executes staking commands and answers portfolio reads.
package bot

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
	"github.com/ggonzalez94/stakechat/internal/delegates"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/execution"
	"github.com/ggonzalez94/stakechat/internal/keylock"
	"github.com/ggonzalez94/stakechat/internal/ledger"
	"github.com/ggonzalez94/stakechat/internal/policy"
)

// DefaultValidator is used when neither the command, the wallet nor the
// configuration names one.
const DefaultValidator = "tao.bot"

type Message struct {
	Platform string
	UserID   string
	UserName string
	Text     string
}

type Button struct {
	Text   string
	Action string
}

// Reply is Markdown text plus optional inline buttons. A button's Action is
// sent back as a plain message when pressed.
type Reply struct {
	Text    string
	Buttons [][]Button
}

type Resolver interface {
	Resolve(ctx context.Context, nameOrHotkey string) (string, error)
	DisplayName(ctx context.Context, hotkey string) string
}

type Executor interface {
	Execute(ctx context.Context, req execution.Request) (execution.Outcome, error)
}

type Portfolio interface {
	Summary(ctx context.Context, q ledger.Query) (ledger.Summary, error)
	History(ctx context.Context, q ledger.Query, limit int) ([]ledger.Record, error)
}

type SubnetValidator interface {
	ValidateNetuid(ctx context.Context, netuid int) (bool, error)
}

// StakeReader reports a coldkey's stakes so unstakes without a named
// validator go to the hotkey actually holding the alpha.
type StakeReader interface {
	Balance(ctx context.Context, wallet string) (chain.Balance, error)
}

type Wallet struct {
	Name          string
	Coldkey       string
	DefaultNetuid *int
	ValidatorAll  string
}

// Address is the coldkey the chain is called with.
func (w Wallet) Address() string {
	if c := strings.TrimSpace(w.Coldkey); c != "" {
		return c
	}
	return w.Name
}

type Options struct {
	// Users, when non-nil, gates every message by platform and user id.
	Users            policy.Users
	AllowedActions   []string
	Machine          *confirm.Machine
	Resolver         Resolver
	Executor         Executor
	Portfolio        Portfolio
	Subnets          SubnetValidator
	Stakes           StakeReader
	Wallets          map[string]Wallet
	DefaultWallet    string
	DefaultNetuid    *int
	DefaultValidator string
	DryRun           bool
	HistoryLimit     int
	Logger           *slog.Logger
	Now              func() time.Time
}

type Service struct {
	opts  Options
	users *keylock.Queue
	log   *slog.Logger
	now   func() time.Time
}

func New(opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.DefaultValidator == "" {
		opts.DefaultValidator = DefaultValidator
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Machine == nil {
		opts.Machine = confirm.NewMachine(nil, confirm.Policy{RequireConfirmation: true, TTL: 5 * time.Minute}, opts.Now)
	}
	return &Service{opts: opts, users: keylock.New(), log: opts.Logger, now: opts.Now}
}

func (s *Service) Machine() *confirm.Machine { return s.opts.Machine }

// Handle answers one message. Messages of the same user are handled one at a
// time in arrival order; errors always come back as a reply.
func (s *Service) Handle(ctx context.Context, msg Message) Reply {
	key := confirm.Key{Platform: strings.ToLower(strings.TrimSpace(msg.Platform)), UserID: strings.TrimSpace(msg.UserID)}
	if s.opts.Users != nil {
		if err := s.opts.Users.Check(key.Platform, key.UserID); err != nil {
			s.log.Warn("unauthorized message", "platform", key.Platform, "user", key.UserID)
			return s.errorReply(key, err)
		}
	}

	release, err := s.users.Lock(ctx, key.String())
	if err != nil {
		return s.errorReply(key, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", err))
	}
	defer release()

	reply, err := s.handle(ctx, key, msg)
	if err != nil {
		return s.errorReply(key, err)
	}
	return reply
}

func (s *Service) handle(ctx context.Context, key confirm.Key, msg Message) (Reply, error) {
	wallet, err := s.wallet(command.WalletSelector(msg.Text))
	if err != nil {
		return Reply{}, err
	}
	intent, err := command.Parse(msg.Text, s.defaultNetuid(wallet))
	if err != nil {
		return Reply{}, err
	}

	switch {
	case intent.Kind == command.KindHelp:
		return Reply{Text: helpText()}, nil
	case intent.Kind == command.KindPrivacy:
		return Reply{Text: privacyText()}, nil
	case intent.Kind == command.KindWhoami:
		return Reply{Text: whoamiText(msg, key, wallet)}, nil
	case intent.Kind == command.KindConfirm:
		return s.confirm(ctx, key)
	case intent.Kind == command.KindCancel:
		return s.cancel(key), nil
	case intent.Kind.Portfolio():
		return s.portfolio(ctx, key, wallet, intent)
	case intent.Kind.Actionable():
		return s.actionable(ctx, key, wallet, intent)
	default:
		return Reply{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown command %q", intent.Kind))
	}
}

func (s *Service) portfolio(ctx context.Context, key confirm.Key, wallet Wallet, intent command.Intent) (Reply, error) {
	if s.opts.Portfolio == nil {
		return Reply{}, clierr.New(clierr.CodeUnavailable, "portfolio is not configured")
	}
	q := ledger.Query{
		Platform:  key.Platform,
		UserID:    key.UserID,
		Wallet:    wallet.Name,
		Coldkey:   wallet.Address(),
		Netuid:    intent.Netuid,
		HasNetuid: intent.HasNetuid,
	}
	if intent.Kind == command.KindHistory {
		records, err := s.opts.Portfolio.History(ctx, q, s.opts.HistoryLimit)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: historyText(records, s.now())}, nil
	}

	sum, err := s.opts.Portfolio.Summary(ctx, q)
	if err != nil {
		return Reply{}, err
	}
	switch intent.Kind {
	case command.KindPnL:
		return Reply{Text: pnlText(sum)}, nil
	case command.KindROI:
		return Reply{Text: roiText(sum)}, nil
	default:
		return Reply{Text: balanceText(sum)}, nil
	}
}

func (s *Service) actionable(ctx context.Context, key confirm.Key, wallet Wallet, intent command.Intent) (Reply, error) {
	if err := policy.CheckActionAllowed(s.opts.AllowedActions, string(intent.Kind)); err != nil {
		return Reply{}, err
	}
	if s.opts.Subnets != nil {
		ok, err := s.opts.Subnets.ValidateNetuid(ctx, intent.Netuid)
		if err != nil {
			return Reply{}, clierr.Wrap(clierr.CodeUnavailable, "check subnet", err)
		}
		if !ok {
			return Reply{}, clierr.New(clierr.CodeInvalidSubnet, fmt.Sprintf("subnet %d does not exist", intent.Netuid))
		}
	}

	hotkey, err := s.hotkeyFor(ctx, wallet, intent)
	if err != nil {
		return Reply{}, err
	}
	validator := s.opts.Resolver.DisplayName(ctx, hotkey)

	if s.opts.DryRun {
		return Reply{Text: dryRunText(intent, validator, wallet.Name)}, nil
	}

	decision := s.opts.Machine.Submit(key, intent, hotkey, wallet.Name, wallet.Address())
	if decision.NeedsConfirmation {
		s.log.Info("confirmation requested", "key", key.String(), "intent", intent.Summary(), "expires_at", decision.Pending.ExpiresAt)
		return confirmPrompt(decision, validator, s.now()), nil
	}
	return s.execute(ctx, key, confirm.Pending{Intent: intent, Hotkey: hotkey, Wallet: wallet.Name, Coldkey: wallet.Address()}, validator)
}

func (s *Service) confirm(ctx context.Context, key confirm.Key) (Reply, error) {
	p, err := s.opts.Machine.Confirm(key)
	if err != nil {
		return Reply{}, err
	}
	return s.execute(ctx, key, p, s.opts.Resolver.DisplayName(ctx, p.Hotkey))
}

func (s *Service) cancel(key confirm.Key) Reply {
	p, ok := s.opts.Machine.Cancel(key)
	if !ok {
		return Reply{Text: "Nothing to cancel."}
	}
	return Reply{Text: fmt.Sprintf("❌ Cancelled: %s", p.Intent.Summary())}
}

func (s *Service) execute(ctx context.Context, key confirm.Key, p confirm.Pending, validator string) (Reply, error) {
	out, err := s.opts.Executor.Execute(ctx, execution.Request{
		Key:     key,
		Wallet:  p.Wallet,
		Coldkey: p.Coldkey,
		Intent:  p.Intent,
		Hotkey:  p.Hotkey,
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: outcomeText(out, validator)}, nil
}

func (s *Service) wallet(selector string) (Wallet, error) {
	name := strings.TrimSpace(selector)
	if name == "" {
		name = s.opts.DefaultWallet
	}
	if w, ok := s.opts.Wallets[name]; ok {
		if w.Name == "" {
			w.Name = name
		}
		return w, nil
	}
	if len(s.opts.Wallets) == 0 && name != "" {
		return Wallet{Name: name, Coldkey: name}, nil
	}
	return Wallet{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown wallet %q", name))
}

func (s *Service) defaultNetuid(w Wallet) *int {
	if w.DefaultNetuid != nil {
		return w.DefaultNetuid
	}
	return s.opts.DefaultNetuid
}

// hotkeyFor picks the validator of an actionable intent. A validator named
// by the command or the wallet always wins; otherwise unstakes go to the
// hotkey holding the most alpha on the subnet, and everything else to the
// configured default.
func (s *Service) hotkeyFor(ctx context.Context, w Wallet, intent command.Intent) (string, error) {
	if intent.Kind != command.KindStake && intent.Validator == "" && w.ValidatorAll == "" && s.opts.Stakes != nil {
		balance, err := s.opts.Stakes.Balance(ctx, w.Address())
		if err != nil {
			return "", clierr.Wrap(clierr.CodeUnavailable, "read stakes", err)
		}
		if hotkey, ok := balance.BestHotkey(intent.Netuid); ok {
			return hotkey, nil
		}
	}
	return s.opts.Resolver.Resolve(ctx, s.validatorFor(w, intent))
}

func (s *Service) validatorFor(w Wallet, intent command.Intent) string {
	switch {
	case intent.Validator != "":
		return intent.Validator
	case w.ValidatorAll != "":
		return w.ValidatorAll
	default:
		return s.opts.DefaultValidator
	}
}

func (s *Service) errorReply(key confirm.Key, err error) Reply {
	code := clierr.CodeOf(err)
	if code == clierr.CodeInternal {
		s.log.Error("command failed", "key", key.String(), "err", err)
	} else {
		s.log.Debug("command rejected", "key", key.String(), "code", code.String(), "err", err)
	}
	return Reply{Text: errorText(err)}
}

var _ Resolver = (*delegates.Resolver)(nil)
