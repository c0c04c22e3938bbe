package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ggonzalez94/stakechat/internal/chain"
	"github.com/ggonzalez94/stakechat/internal/command"
	"github.com/ggonzalez94/stakechat/internal/confirm"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/execution"
	"github.com/ggonzalez94/stakechat/internal/ledger"
	"github.com/shopspring/decimal"
)

func tao(d decimal.Decimal) string   { return d.StringFixed(4) + " τ" }
func alpha(d decimal.Decimal) string { return d.StringFixed(4) + " α" }
func rate(d decimal.Decimal) string  { return d.StringFixed(6) + " τ/α" }

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(4) + " τ"
	}
	return "+" + d.StringFixed(4) + " τ"
}

func percent(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2) + "%"
	}
	return "+" + d.StringFixed(2) + "%"
}

func color(d decimal.Decimal) string {
	if d.IsNegative() {
		return "🔴"
	}
	return "🟢"
}

func amountOf(intent command.Intent) string {
	switch intent.Kind {
	case command.KindStake:
		return tao(intent.Amount.Decimal)
	case command.KindUnstake:
		return alpha(intent.Amount.Decimal)
	default:
		return "ALL α"
	}
}

func helpText() string {
	return strings.Join([]string{
		"*Commands*",
		"",
		"*Staking*",
		"  `stake <amount> <netuid> [validator]`    stake TAO",
		"  `unstake <amount> <netuid> [validator]`  unstake alpha",
		"  `unstake all <netuid>`                   unstake all alpha from a subnet",
		"  `confirm` / `cancel`                     answer a pending confirmation",
		"",
		"*Portfolio*",
		"  `balance [netuid]`   portfolio overview",
		"  `pnl [netuid]`       profit and loss per subnet",
		"  `roi [netuid]`       ROI per subnet",
		"  `history [netuid]`   recent transactions",
		"",
		"*Other*",
		"  `help`, `whoami`, `privacy`",
		"",
		"Add `wallet=<name>` to use a wallet other than the default.",
		"",
		"*Examples*",
		"  `stake 0.5 31`",
		"  `stake 1 sn8 tao.bot`",
		"  `unstake 0.25 31`",
		"  `unstake all 31`",
	}, "\n")
}

func privacyText() string {
	return "🔒 *Privacy*\n\n" +
		"Wallet keys and seed phrases never pass through chat.\n" +
		"Transaction history is stored on the bot's own server.\n" +
		"Your platform user id is used only for authorization and history."
}

func whoamiText(msg Message, key confirm.Key, w Wallet) string {
	name := msg.UserName
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("👤 *You*\n\n  Name:      `%s`\n  ID:        `%s`\n  Platform:  `%s`\n  Wallet:    `%s`\n  Coldkey:   `%s`",
		name, key.UserID, key.Platform, w.Name, w.Coldkey)
}

func dryRunText(intent command.Intent, validator, wallet string) string {
	return fmt.Sprintf("🧪 *DRY MODE*\n\nWould %s via `%s` from wallet `%s`\n_(no transaction sent)_",
		intent.Summary(), validator, wallet)
}

func confirmPrompt(d confirm.Decision, validator string, now time.Time) Reply {
	p := d.Pending
	title := "⚠️ *Confirm " + actionTitle(p.Intent.Kind) + "*"
	if p.Intent.Kind == command.KindUnstakeAll {
		title = "🚨 *Confirm Unstake ALL*"
	}
	var b strings.Builder
	b.WriteString(title + "\n\n")
	fmt.Fprintf(&b, "  Subnet:     `%d`\n", p.Intent.Netuid)
	fmt.Fprintf(&b, "  Amount:     `%s`\n", amountOf(p.Intent))
	fmt.Fprintf(&b, "  Validator:  `%s`\n", validator)
	fmt.Fprintf(&b, "  Wallet:     `%s`\n\n", p.Wallet)
	if d.HasReplaced {
		fmt.Fprintf(&b, "_Replaced pending: %s_\n", d.Replaced.Intent.Summary())
	}
	fmt.Fprintf(&b, "Press **Confirm** or type `confirm` (expires %s).", humanize.RelTime(p.ExpiresAt, now, "ago", "from now"))

	confirmLabel := "✅ Confirm"
	if p.Intent.Kind == command.KindUnstakeAll {
		confirmLabel = "🔥 Unstake ALL"
	}
	return Reply{
		Text:    b.String(),
		Buttons: [][]Button{{{Text: confirmLabel, Action: "confirm"}, {Text: "❌ Cancel", Action: "cancel"}}},
	}
}

func actionTitle(k command.Kind) string {
	switch k {
	case command.KindStake:
		return "Stake"
	case command.KindUnstakeAll:
		return "Unstake ALL"
	default:
		return "Unstake"
	}
}

func outcomeText(out execution.Outcome, validator string) string {
	rec := out.Record
	title := actionTitle(commandKind(rec.Action))
	switch out.Status {
	case chain.OutcomeSuccess:
		var b strings.Builder
		fmt.Fprintf(&b, "✅ *%s Confirmed*\n\n", title)
		fmt.Fprintf(&b, "  Subnet:     `%d`\n", rec.Netuid)
		fmt.Fprintf(&b, "  Validator:  `%s`\n", validator)
		if rec.Action == ledger.ActionStake {
			fmt.Fprintf(&b, "  Spent:      `%s`\n", tao(rec.AmountTAO))
			fmt.Fprintf(&b, "  Received:   `%s`\n", alpha(rec.AmountAlpha))
		} else {
			fmt.Fprintf(&b, "  Sold:       `%s`\n", alpha(rec.AmountAlpha))
			fmt.Fprintf(&b, "  Received:   `%s`\n", tao(rec.AmountTAO))
		}
		fmt.Fprintf(&b, "  Rate:       `%s`", rate(rec.PriceTAOPerAlpha))
		if rec.ChainReference != "" {
			fmt.Fprintf(&b, "\n  Reference:  `%s`", rec.ChainReference)
		}
		return b.String()
	case chain.OutcomeUncertain:
		return fmt.Sprintf("⚠️ *%s outcome unknown*\n\nThe submission may or may not have gone through. "+
			"Check `balance` and `history` before retrying.", title)
	default:
		return fmt.Sprintf("❌ *%s failed*\n\n`%s`", title, causeText(out.Cause))
	}
}

func commandKind(a ledger.Action) command.Kind {
	switch a {
	case ledger.ActionStake:
		return command.KindStake
	case ledger.ActionUnstakeAll:
		return command.KindUnstakeAll
	default:
		return command.KindUnstake
	}
}

func balanceText(sum ledger.Summary) string {
	lines := []string{fmt.Sprintf("🦍 *Portfolio* (`%s`)", sum.Wallet), "", "  Free Balance: `" + tao(sum.FreeTAO) + "`"}
	if sum.TotalStakedTAO.IsPositive() {
		total := sum.RealizedPnL.Add(sum.UnrealizedPnL)
		lines = append(lines,
			fmt.Sprintf("  Portfolio PnL: %s `%s`", color(total), signed(total)),
			fmt.Sprintf("  Portfolio ROI: %s `%s`", color(total), percent(sum.ROIPercent)),
		)
	}
	lines = append(lines, "")

	for _, p := range sum.Positions {
		if !p.AlphaBalance.IsPositive() {
			continue
		}
		lines = append(lines,
			fmt.Sprintf("**SN%d**", p.Netuid),
			fmt.Sprintf("  Alpha: `%s`  ≈  `%s`", alpha(p.AlphaBalance), tao(p.ValueTAO)),
			fmt.Sprintf("  Rate:  `%s`", rate(p.CurrentPrice)),
		)
		if p.CostBasisKnown {
			lines = append(lines,
				fmt.Sprintf("  Entry: `%s`  |  Cost: `%s`", rate(p.AvgEntryPrice), tao(p.AvgEntryPrice.Mul(p.AlphaBalance))),
				fmt.Sprintf("  PnL:   %s `%s`  |  ROI: `%s`", color(p.UnrealizedPnL), signed(p.UnrealizedPnL), percent(p.ROIPercent)),
			)
		} else {
			lines = append(lines, "  Entry: unknown (staked outside this bot)")
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"─────────────────",
		"*Portfolio Summary*",
		"  Staked Value:    `"+tao(sum.TotalValueTAO)+"`",
	)
	if sum.TotalStakedTAO.IsPositive() {
		total := sum.RealizedPnL.Add(sum.UnrealizedPnL)
		lines = append(lines,
			"  Total Staked:    `"+tao(sum.TotalStakedTAO)+"`",
			"  Unrealized PnL:  `"+signed(sum.UnrealizedPnL)+"`",
			"  Realized PnL:    `"+signed(sum.RealizedPnL)+"`",
			fmt.Sprintf("  Total PnL:       %s `%s`", color(total), signed(total)),
			fmt.Sprintf("  Portfolio ROI:   %s `%s`", color(total), percent(sum.ROIPercent)),
		)
	}
	return strings.Join(lines, "\n")
}

func pnlText(sum ledger.Summary) string {
	var known []ledger.Position
	for _, p := range sum.Positions {
		if p.CostBasisKnown {
			known = append(known, p)
		}
	}
	if len(known) == 0 {
		return "📊 No stake history found."
	}
	lines := []string{"📈 *P&L Summary*", ""}
	for _, p := range known {
		lines = append(lines, fmt.Sprintf("  SN%-3d  %s `%s` unrealized, `%s` realized",
			p.Netuid, color(p.UnrealizedPnL), signed(p.UnrealizedPnL), signed(p.RealizedPnL)))
	}
	lines = append(lines, "",
		fmt.Sprintf("  Unrealized: %s `%s`", color(sum.UnrealizedPnL), signed(sum.UnrealizedPnL)),
		fmt.Sprintf("  Realized:   %s `%s`", color(sum.RealizedPnL), signed(sum.RealizedPnL)),
	)
	return strings.Join(lines, "\n")
}

func roiText(sum ledger.Summary) string {
	if len(sum.Positions) == 0 {
		return "💹 No active stakes."
	}
	lines := []string{"💹 *ROI by Subnet*", ""}
	for _, p := range sum.Positions {
		roi := "n/a"
		if p.CostBasisKnown {
			roi = fmt.Sprintf("%s `%s`", color(p.ROIPercent), percent(p.ROIPercent))
		}
		lines = append(lines, fmt.Sprintf("  SN%-3d  %s  (`%s`)", p.Netuid, roi, tao(p.ValueTAO)))
	}
	lines = append(lines, "", fmt.Sprintf("  Portfolio: %s `%s`", color(sum.ROIPercent), percent(sum.ROIPercent)))
	return strings.Join(lines, "\n")
}

func historyText(records []ledger.Record, now time.Time) string {
	if len(records) == 0 {
		return "📜 No transaction history."
	}
	lines := []string{"📜 *Transaction History*", ""}
	for _, rec := range records {
		ts := rec.Timestamp.UTC().Format("2006-01-02 15:04")
		when := humanize.RelTime(rec.Timestamp, now, "ago", "from now")
		var line string
		switch rec.Action {
		case ledger.ActionStake:
			line = fmt.Sprintf("  `%s`  ➕ Stake SN%d  `%s` → `%s`", ts, rec.Netuid, tao(rec.AmountTAO), alpha(rec.AmountAlpha))
		default:
			line = fmt.Sprintf("  `%s`  ➖ Unstake SN%d  `%s` → `%s`", ts, rec.Netuid, alpha(rec.AmountAlpha), tao(rec.AmountTAO))
		}
		if rec.Result == ledger.ResultFailure {
			line += "  ❌ " + rec.Note
		}
		lines = append(lines, line+"  _("+when+")_")
	}
	return strings.Join(lines, "\n")
}

func errorText(err error) string {
	msg := causeText(err)
	switch clierr.CodeOf(err) {
	case clierr.CodeUsage:
		return "❓ " + msg + "\n\nType `help` to see available commands."
	case clierr.CodeMissingSubnet:
		return "❓ " + msg
	case clierr.CodeInvalidAmount, clierr.CodeInvalidSubnet:
		return "❌ " + msg
	case clierr.CodeAuth:
		return "🔒 Unauthorized."
	case clierr.CodeBlocked:
		return "🚫 " + msg
	case clierr.CodeNotFound, clierr.CodeAmbiguous, clierr.CodeDirectoryUnavailable:
		return "🔎 " + msg
	case clierr.CodeExpired, clierr.CodeNothingPending:
		return "⏰ " + msg
	case clierr.CodeRateLimited, clierr.CodeUnavailable:
		return "📡 " + msg + "\nPlease try again shortly."
	case clierr.CodeInsufficientBalance, clierr.CodeRejected:
		return "❌ " + msg
	case clierr.CodeUncertain:
		return "⚠️ " + msg + "\nCheck `balance` and `history` before retrying."
	default:
		return "💥 Internal error, please try again later."
	}
}

// causeText is the user-facing message of err without internal wrapping
// detail for typed errors that carry their own message.
func causeText(err error) string {
	if err == nil {
		return ""
	}
	typed, ok := clierr.As(err)
	if !ok {
		return err.Error()
	}
	switch typed.Code {
	case clierr.CodeRejected:
		if typed.Cause != nil {
			return typed.Cause.Error()
		}
		return typed.Message
	case clierr.CodeUnavailable, clierr.CodeRateLimited:
		return typed.Error()
	default:
		return typed.Message
	}
}
