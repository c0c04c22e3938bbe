package command

import (
	"testing"

	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/shopspring/decimal"
)

func intPtr(v int) *int { return &v }

func TestParseStake(t *testing.T) {
	intent, err := Parse("stake 0.5 31", nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if intent.Kind != KindStake || intent.Netuid != 31 || !intent.HasNetuid {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if !intent.Amount.Valid || !intent.Amount.Decimal.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected amount: %+v", intent.Amount)
	}
	if intent.RawText != "stake 0.5 31" {
		t.Fatalf("unexpected raw text %q", intent.RawText)
	}
}

func TestParseGrammarVariants(t *testing.T) {
	tests := []struct {
		text      string
		kind      Kind
		amount    string
		netuid    int
		validator string
		wallet    string
	}{
		{text: "STAKE 1 SN8", kind: KindStake, amount: "1", netuid: 8},
		{text: "s 2 tao to sn8 tao.bot", kind: KindStake, amount: "2", netuid: 8, validator: "tao.bot"},
		{text: "add .25 on subnet 64 wallet=cold", kind: KindStake, amount: "0.25", netuid: 64, wallet: "cold"},
		{text: "unstake 0.25 alpha from 31", kind: KindUnstake, amount: "0.25", netuid: 31},
		{text: "sell 3 sn1 w=hot", kind: KindUnstake, amount: "3", netuid: 1, wallet: "hot"},
		{text: "unstake all 31", kind: KindUnstakeAll, netuid: 31},
		{text: "rm ALL sn0", kind: KindUnstakeAll, netuid: 0},
		{text: "stake 1 Foundry Pool 12", kind: KindStake, amount: "1", netuid: 12, validator: "Foundry Pool"},
		{text: "stake 0.1 Foundry 31", kind: KindStake, amount: "0.1", netuid: 31, validator: "Foundry"},
		{text: "stake 0.1 Foundry sn31 Pool", kind: KindStake, amount: "0.1", netuid: 31, validator: "Foundry Pool"},
	}
	for _, tc := range tests {
		intent, err := Parse(tc.text, nil)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.text, err)
		}
		if intent.Kind != tc.kind || intent.Netuid != tc.netuid {
			t.Fatalf("Parse(%q) unexpected intent: %+v", tc.text, intent)
		}
		if tc.amount == "" {
			if intent.Amount.Valid {
				t.Fatalf("Parse(%q) expected no amount, got %s", tc.text, intent.Amount.Decimal)
			}
		} else if !intent.Amount.Valid || !intent.Amount.Decimal.Equal(decimal.RequireFromString(tc.amount)) {
			t.Fatalf("Parse(%q) unexpected amount: %+v", tc.text, intent.Amount)
		}
		if intent.Validator != tc.validator {
			t.Fatalf("Parse(%q) unexpected validator %q", tc.text, intent.Validator)
		}
		if intent.Wallet != tc.wallet {
			t.Fatalf("Parse(%q) unexpected wallet %q", tc.text, intent.Wallet)
		}
	}
}

func TestParseValidatorBeforeNetuid(t *testing.T) {
	intent, err := Parse("stake 1 Foundry Pool", intPtr(3))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if intent.Validator != "Foundry Pool" || intent.Netuid != 3 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestParseDefaultNetuid(t *testing.T) {
	intent, err := Parse("stake 1", intPtr(19))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if intent.Netuid != 19 || !intent.HasNetuid {
		t.Fatalf("expected default netuid, got %+v", intent)
	}

	intent, err = Parse("unstake all", intPtr(19))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if intent.Kind != KindUnstakeAll || intent.Netuid != 19 {
		t.Fatalf("expected default netuid on unstake all, got %+v", intent)
	}
}

func TestParsePortfolioFilterIgnoresDefault(t *testing.T) {
	intent, err := Parse("balance", intPtr(19))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if intent.HasNetuid {
		t.Fatalf("balance must not inherit the default netuid: %+v", intent)
	}

	intent, err = Parse("history sn31", intPtr(19))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !intent.HasNetuid || intent.Netuid != 31 || intent.Kind != KindHistory {
		t.Fatalf("expected explicit filter, got %+v", intent)
	}

	for _, text := range []string{"bal", "b", "portfolio", "pnl", "profit", "roi", "hist", "tx"} {
		got, err := Parse(text, nil)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", text, err)
		}
		if !got.Kind.Portfolio() {
			t.Fatalf("Parse(%q) expected portfolio kind, got %s", text, got.Kind)
		}
	}
}

func TestParseControlWords(t *testing.T) {
	tests := map[string]Kind{
		"confirm": KindConfirm, "OK": KindConfirm, "yes": KindConfirm,
		"cancel": KindCancel, "no": KindCancel, "abort": KindCancel,
		"help": KindHelp, "?": KindHelp,
		"whoami": KindWhoami, "me": KindWhoami,
		"privacy": KindPrivacy, "p": KindPrivacy,
	}
	for text, want := range tests {
		intent, err := Parse(text, nil)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", text, err)
		}
		if intent.Kind != want {
			t.Fatalf("Parse(%q) expected %s, got %s", text, want, intent.Kind)
		}
		if intent.Amount.Valid {
			t.Fatalf("Parse(%q) must not carry an amount", text)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		text string
		code clierr.Code
	}{
		{text: "", code: clierr.CodeUsage},
		{text: "dance 1 2", code: clierr.CodeUsage},
		{text: "stake 0.5", code: clierr.CodeMissingSubnet},
		{text: "unstake all", code: clierr.CodeMissingSubnet},
		{text: "stake", code: clierr.CodeInvalidAmount},
		{text: "stake 0 31", code: clierr.CodeInvalidAmount},
		{text: "stake -1 31", code: clierr.CodeInvalidAmount},
		{text: "stake abc 31", code: clierr.CodeInvalidAmount},
		{text: "stake 1e3 31", code: clierr.CodeInvalidAmount},
		{text: "stake 0.0000000001 31", code: clierr.CodeInvalidAmount},
		{text: "stake 21000001 31", code: clierr.CodeInvalidAmount},
		{text: "stake 1 sn70000", code: clierr.CodeInvalidSubnet},
		{text: "balance everything", code: clierr.CodeUsage},
		{text: "pnl 1 2", code: clierr.CodeUsage},
	}
	for _, tc := range tests {
		_, err := Parse(tc.text, nil)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", tc.text)
		}
		if got := clierr.CodeOf(err); got != tc.code {
			t.Fatalf("Parse(%q) expected code %s, got %s (%v)", tc.text, tc.code, got, err)
		}
		if !clierr.IsParse(err) {
			t.Fatalf("Parse(%q) expected a parse-class error", tc.text)
		}
	}
}

func TestIntentSummary(t *testing.T) {
	intent, err := Parse("unstake all 31", nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := intent.Summary(); got != "unstake all alpha from SN31" {
		t.Fatalf("unexpected summary %q", got)
	}
	if intent.Unit() != "alpha" {
		t.Fatalf("unexpected unit %q", intent.Unit())
	}
}

func TestWalletSelector(t *testing.T) {
	if got := WalletSelector("stake 1 31 wallet=Trading"); got != "Trading" {
		t.Fatalf("unexpected selector %q", got)
	}
	if got := WalletSelector("balance w=cold"); got != "cold" {
		t.Fatalf("unexpected selector %q", got)
	}
	if got := WalletSelector("stake 1 31"); got != "" {
		t.Fatalf("expected no selector, got %q", got)
	}
}
