package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ggonzalez94/stakechat/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
)

var fixedNow = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }

func newPortfolio(t *testing.T, market *chaintest.Fake, records ...Record) *Portfolio {
	t.Helper()
	store, err := OpenJSONL(filepath.Join(t.TempDir(), "history.jsonl"), "")
	if err != nil {
		t.Fatalf("OpenJSONL failed: %v", err)
	}
	for _, rec := range records {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return NewPortfolio(store, market, fixedNow)
}

func owned(rec Record) Record {
	rec.Platform = "telegram"
	rec.UserID = "1"
	rec.Wallet = "default"
	return rec
}

var caller = Query{Platform: "telegram", UserID: "1", Wallet: "default"}

func TestSummaryUnrealizedAndROI(t *testing.T) {
	market := chaintest.New().SetFree("default", "3").SetAlpha("default", 31, "2").SetPrice(31, "0.75")
	p := newPortfolio(t, market, owned(stakeRecord(31, d("1"), d("0.5"))))

	sum, err := p.Summary(context.Background(), caller)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Positions) != 1 {
		t.Fatalf("expected one position, got %+v", sum.Positions)
	}
	pos := sum.Positions[0]
	if !pos.CostBasisKnown || !pos.AvgEntryPrice.Equal(d("0.5")) {
		t.Fatalf("unexpected basis: %+v", pos)
	}
	if !pos.ValueTAO.Equal(d("1.5")) || !pos.UnrealizedPnL.Equal(d("0.5")) {
		t.Fatalf("unexpected value/unrealized: %+v", pos)
	}
	approxEqual(t, "position roi", pos.ROIPercent, d("50"))
	approxEqual(t, "portfolio roi", sum.ROIPercent, d("50"))
	if !sum.FreeTAO.Equal(d("3")) || !sum.TotalValueTAO.Equal(d("1.5")) {
		t.Fatalf("unexpected totals: %+v", sum)
	}
}

func TestSummaryExternallyExitedPosition(t *testing.T) {
	// SN31 has no price: a read for it would fail the summary.
	market := chaintest.New().SetFree("default", "1")
	p := newPortfolio(t, market,
		owned(stakeRecord(31, d("1"), d("0.5"))),
	)
	sum, err := p.Summary(context.Background(), caller)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Positions) != 1 {
		t.Fatalf("expected exited position to be listed, got %+v", sum.Positions)
	}
	pos := sum.Positions[0]
	if !pos.AlphaBalance.IsZero() || !pos.UnrealizedPnL.IsZero() || !pos.ROIPercent.IsZero() {
		t.Fatalf("expected realized-only position, got %+v", pos)
	}
}

func TestSummaryPositionWithoutHistory(t *testing.T) {
	market := chaintest.New().SetAlpha("default", 8, "3").SetPrice(8, "0.1")
	p := newPortfolio(t, market)
	sum, err := p.Summary(context.Background(), caller)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Positions) != 1 {
		t.Fatalf("expected live position, got %+v", sum.Positions)
	}
	pos := sum.Positions[0]
	if pos.CostBasisKnown || !pos.UnrealizedPnL.IsZero() || !pos.ValueTAO.Equal(d("0.3")) {
		t.Fatalf("unexpected position without basis: %+v", pos)
	}
}

func TestSummaryNetuidFilterAndOrdering(t *testing.T) {
	market := chaintest.New().
		SetAlpha("default", 1, "1").SetPrice(1, "0.1").
		SetAlpha("default", 2, "1").SetPrice(2, "0.9")
	p := newPortfolio(t, market)

	sum, err := p.Summary(context.Background(), caller)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Positions) != 2 || sum.Positions[0].Netuid != 2 {
		t.Fatalf("expected positions ordered by value, got %+v", sum.Positions)
	}

	q := caller
	q.Netuid, q.HasNetuid = 1, true
	sum, err = p.Summary(context.Background(), q)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Positions) != 1 || sum.Positions[0].Netuid != 1 {
		t.Fatalf("expected filtered position, got %+v", sum.Positions)
	}

	q.Netuid = 77
	sum, err = p.Summary(context.Background(), q)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Positions) != 1 || !sum.Positions[0].AlphaBalance.IsZero() {
		t.Fatalf("expected empty position for filtered subnet, got %+v", sum.Positions)
	}
}

func TestSummaryIsIdempotent(t *testing.T) {
	market := chaintest.New().SetFree("default", "3").SetAlpha("default", 31, "6").SetPrice(31, "0.4")
	p := newPortfolio(t, market,
		owned(stakeRecord(31, d("1"), d("0.5"))),
		owned(stakeRecord(31, d("1"), d("0.25"))),
		owned(unstakeRecord(31, d("1"), d("0.3"))),
	)
	first, err := p.Summary(context.Background(), caller)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	second, err := p.Summary(context.Background(), caller)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical summaries:\n%+v\n%+v", first, second)
	}
}

func TestSummaryMarketFailure(t *testing.T) {
	market := chaintest.New().FailBalance(errors.New("gateway down"))
	p := newPortfolio(t, market)
	if _, err := p.Summary(context.Background(), caller); clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	var records []Record
	for i := 0; i < 5; i++ {
		rec := owned(stakeRecord(31, d("1"), d("0.5")))
		rec.Timestamp = fixedNow().Add(time.Duration(i) * time.Minute)
		if i == 3 {
			rec.Result = ResultFailure
		}
		records = append(records, rec)
	}
	p := newPortfolio(t, chaintest.New(), records...)

	got, err := p.History(context.Background(), caller, 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].ID != records[4].ID || got[1].ID != records[3].ID || got[2].ID != records[2].ID {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if got[1].Result != ResultFailure {
		t.Fatal("expected failures to be included")
	}

	all, err := p.History(context.Background(), caller, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("expected full history, got %d %v", len(all), err)
	}
}

func TestSummaryReadsBalanceByColdkey(t *testing.T) {
	market := chaintest.New().
		SetFree("default", "1").
		SetFree("ck-default", "7").SetAlpha("ck-default", 31, "2").SetPrice(31, "0.75")
	p := newPortfolio(t, market, owned(stakeRecord(31, d("1"), d("0.5"))))

	q := caller
	q.Coldkey = "ck-default"
	sum, err := p.Summary(context.Background(), q)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Wallet != "default" || !sum.FreeTAO.Equal(d("7")) {
		t.Fatalf("expected the coldkey's balance under the profile name, got %+v", sum)
	}
	if len(sum.Positions) != 1 || !sum.Positions[0].CostBasisKnown {
		t.Fatalf("expected records to still match the profile, got %+v", sum.Positions)
	}
}
