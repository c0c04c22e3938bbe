// Package command turns free-text chat input into a typed Intent.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/units"
	"github.com/shopspring/decimal"
)

// MaxNetuid is the largest subnet id the wire format can carry. Whether a
// subnet exists is decided by the chain, not here.
const MaxNetuid = 65535

var (
	netuidPattern = regexp.MustCompile(`^(?i:sn)?([0-9]+)$`)

	filler = map[string]struct{}{
		"tao": {}, "alpha": {}, "to": {}, "on": {}, "into": {}, "in": {}, "for": {},
		"from": {}, "the": {}, "a": {}, "an": {}, "please": {}, "pls": {},
		"subnet": {}, "netuid": {}, "validator": {}, "vali": {}, "delegate": {}, "deleg": {},
	}

	keywords = map[string]Kind{
		"stake": KindStake, "s": KindStake, "add": KindStake,
		"unstake": KindUnstake, "u": KindUnstake, "remove": KindUnstake, "rm": KindUnstake, "sell": KindUnstake,
		"balance": KindBalance, "bal": KindBalance, "b": KindBalance, "portfolio": KindBalance,
		"pnl": KindPnL, "profit": KindPnL,
		"roi":     KindROI,
		"history": KindHistory, "hist": KindHistory, "tx": KindHistory,
		"help": KindHelp, "h": KindHelp, "?": KindHelp,
		"confirm": KindConfirm, "ok": KindConfirm, "yes": KindConfirm, "y": KindConfirm,
		"cancel": KindCancel, "no": KindCancel, "n": KindCancel, "abort": KindCancel,
		"whoami": KindWhoami, "me": KindWhoami, "id": KindWhoami,
		"privacy": KindPrivacy, "p": KindPrivacy,
	}
)

// Parse interprets text. defaultNetuid, when non-nil, fills in the subnet of
// stake and unstake commands that omit one; it is never applied to portfolio
// reads, where a netuid only narrows the result.
func Parse(text string, defaultNetuid *int) (Intent, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return Intent{}, clierr.New(clierr.CodeUsage, "empty command")
	}

	keyword := strings.ToLower(tokens[0])
	kind, ok := keywords[keyword]
	if !ok {
		return Intent{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown command %q", tokens[0]))
	}
	intent := Intent{Kind: kind, RawText: strings.TrimSpace(text)}

	args, wallet := splitArgs(tokens[1:])
	intent.Wallet = wallet

	switch kind {
	case KindStake, KindUnstake:
		return parseStakeLike(intent, args, defaultNetuid)
	case KindBalance, KindPnL, KindROI, KindHistory:
		return parseFilter(intent, args)
	default:
		// confirm/cancel and the informational kinds carry no payload.
		return intent, nil
	}
}

// WalletSelector returns the wallet=<name> selector of text, if any, so a
// caller can pick wallet-specific defaults before calling Parse.
func WalletSelector(text string) string {
	_, wallet := splitArgs(strings.Fields(text))
	return wallet
}

func parseStakeLike(intent Intent, args []string, defaultNetuid *int) (Intent, error) {
	if intent.Kind == KindUnstake && len(args) > 0 && strings.EqualFold(args[0], "all") {
		intent.Kind = KindUnstakeAll
		args = args[1:]
	} else {
		if len(args) == 0 {
			return Intent{}, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("missing amount, try `%s 0.5 31`", intent.Kind))
		}
		amount, err := units.ParseAmount(args[0])
		if err != nil {
			return Intent{}, err
		}
		intent.Amount = decimal.NewNullDecimal(amount)
		args = args[1:]
	}

	var validator []string
	for i, tok := range args {
		netuid, isNetuid, err := parseNetuid(tok)
		if err != nil {
			return Intent{}, err
		}
		if isNetuid {
			intent.Netuid = netuid
			intent.HasNetuid = true
			validator = append(validator, args[i+1:]...)
			break
		}
		validator = append(validator, tok)
	}
	intent.Validator = strings.TrimSpace(strings.Join(validator, " "))

	if !intent.HasNetuid {
		if defaultNetuid == nil {
			return Intent{}, clierr.New(clierr.CodeMissingSubnet, fmt.Sprintf("please specify a subnet, e.g. `%s`", exampleFor(intent.Kind)))
		}
		intent.Netuid = *defaultNetuid
		intent.HasNetuid = true
	}
	return intent, nil
}

func parseFilter(intent Intent, args []string) (Intent, error) {
	for _, tok := range args {
		netuid, isNetuid, err := parseNetuid(tok)
		if err != nil {
			return Intent{}, err
		}
		if !isNetuid {
			return Intent{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unexpected argument %q for %s", tok, intent.Kind))
		}
		if intent.HasNetuid && intent.Netuid != netuid {
			return Intent{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s accepts a single subnet", intent.Kind))
		}
		intent.Netuid = netuid
		intent.HasNetuid = true
	}
	return intent, nil
}

// splitArgs drops filler words and extracts a wallet=<name> selector.
func splitArgs(tokens []string) ([]string, string) {
	out := make([]string, 0, len(tokens))
	wallet := ""
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		if _, skip := filler[lower]; skip {
			continue
		}
		if strings.HasPrefix(lower, "wallet=") || strings.HasPrefix(lower, "w=") {
			wallet = strings.TrimSpace(tok[strings.Index(tok, "=")+1:])
			continue
		}
		out = append(out, tok)
	}
	return out, wallet
}

// parseNetuid reports whether tok is a subnet token. Digit-only tokens outside
// the wire range are an error rather than a validator name.
func parseNetuid(tok string) (int, bool, error) {
	m := netuidPattern.FindStringSubmatch(tok)
	if m == nil {
		return 0, false, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > MaxNetuid {
		return 0, false, clierr.New(clierr.CodeInvalidSubnet, fmt.Sprintf("subnet %q is out of range 0-%d", tok, MaxNetuid))
	}
	return n, true, nil
}

func exampleFor(kind Kind) string {
	switch kind {
	case KindUnstake:
		return "unstake 0.25 31"
	case KindUnstakeAll:
		return "unstake all 31"
	default:
		return "stake 0.5 31"
	}
}
