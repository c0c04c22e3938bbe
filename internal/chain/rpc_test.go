package chain_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/stakechat/internal/chain"
	"github.com/ggonzalez94/stakechat/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/shopspring/decimal"
)

func newGateway(t *testing.T, fake *chaintest.Fake) *chain.RPCClient {
	t.Helper()
	server, err := chain.NewGatewayServer(fake)
	if err != nil {
		t.Fatalf("NewGatewayServer failed: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Stop()
	})

	client, err := chain.DialRPC(context.Background(), ts.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("DialRPC failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestRPCClientReadsThroughGateway(t *testing.T) {
	fake := chaintest.New().SetFree("cold", "10").SetAlpha("cold", 31, "4.5").SetPrice(31, "0.02")
	client := newGateway(t, fake)
	ctx := context.Background()

	bal, err := client.Balance(ctx, "cold")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !bal.FreeTAO.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected free balance %s", bal.FreeTAO)
	}
	if !bal.AlphaOn(31).Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("unexpected alpha %s", bal.AlphaOn(31))
	}
	if !bal.AlphaOn(8).IsZero() {
		t.Fatalf("expected zero alpha on unknown subnet, got %s", bal.AlphaOn(8))
	}

	price, err := client.Price(ctx, 31)
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected price %s", price)
	}

	ok, err := client.ValidateNetuid(ctx, 31)
	if err != nil || !ok {
		t.Fatalf("expected SN31 to exist, ok=%v err=%v", ok, err)
	}
	ok, err = client.ValidateNetuid(ctx, 999)
	if err != nil || ok {
		t.Fatalf("expected SN999 to be unknown, ok=%v err=%v", ok, err)
	}

	if _, err := client.Price(ctx, 77); clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable for failed read, got %v", err)
	}
}

func TestRPCClientSubmitRoundTrip(t *testing.T) {
	fake := chaintest.New().SetFree("cold", "10").SetPrice(31, "0.5")
	client := newGateway(t, fake)

	receipt, err := client.SubmitStake(context.Background(), chain.StakeRequest{
		Wallet: "cold", Hotkey: "5Hot", Netuid: 31, AmountTAO: decimal.RequireFromString("1.25"),
	})
	if err != nil {
		t.Fatalf("SubmitStake failed: %v", err)
	}
	if len(receipt.Reference) != 66 {
		t.Fatalf("expected normalized 32-byte reference, got %q", receipt.Reference)
	}
	if !receipt.AlphaAmount.Valid || !receipt.AlphaAmount.Decimal.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected alpha amount %+v", receipt.AlphaAmount)
	}

	subs := fake.Submissions()
	if len(subs) != 1 || !subs[0].AmountTAO.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected rao amount to survive the wire, got %+v", subs)
	}

	receipt, err = client.SubmitUnstake(context.Background(), chain.UnstakeRequest{
		Wallet: "cold", Hotkey: "5Hot", Netuid: 31, All: true,
	})
	if err != nil {
		t.Fatalf("SubmitUnstake failed: %v", err)
	}
	if !receipt.TAOAmount.Valid || !receipt.TAOAmount.Decimal.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected tao amount %+v", receipt.TAOAmount)
	}
}

func TestRPCClientMapsRejection(t *testing.T) {
	fake := chaintest.New().SetFree("cold", "1").SetPrice(31, "0.5")
	fake.FailNext(chain.Rejected("subnet closed"), errors.New("connection reset"))
	client := newGateway(t, fake)
	req := chain.StakeRequest{Wallet: "cold", Hotkey: "5Hot", Netuid: 31, AmountTAO: decimal.RequireFromString("0.1")}

	_, err := client.SubmitStake(context.Background(), req)
	if chain.Classify(err) != chain.OutcomeFailed {
		t.Fatalf("expected rejection to classify as failed, got %v", err)
	}
	var rejected *chain.RejectedError
	if !errors.As(err, &rejected) || rejected.Code != chain.RejectedErrorCode {
		t.Fatalf("expected rejected error with gateway code, got %#v", err)
	}
	if rejected.Error() != "submission rejected: subnet closed" {
		t.Fatalf("unexpected rejection message %q", rejected.Error())
	}

	_, err = client.SubmitStake(context.Background(), req)
	if chain.Classify(err) != chain.OutcomeUncertain {
		t.Fatalf("expected generic gateway error to classify as uncertain, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if chain.Classify(nil) != chain.OutcomeSuccess {
		t.Fatal("expected nil to classify as success")
	}
	wrapped := errors.Join(errors.New("outer"), chain.Rejected("bad signature"))
	if chain.Classify(wrapped) != chain.OutcomeFailed {
		t.Fatal("expected wrapped rejection to classify as failed")
	}
	if chain.Classify(context.DeadlineExceeded) != chain.OutcomeUncertain {
		t.Fatal("expected deadline to classify as uncertain")
	}
}

func TestDialRPCRequiresEndpoint(t *testing.T) {
	if _, err := chain.DialRPC(context.Background(), " ", time.Second); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRPCClientReportsStakesPerHotkey(t *testing.T) {
	const foundry = "5C62Ck4UrFPiBtoCmeSrgF7x9yv9mn38446dhCpsi2mLHiFT"
	fake := chaintest.New().
		SetAlpha("cold", 31, "1.5").
		SetStake("cold", 31, foundry, "4").
		SetStake("cold", 8, foundry, "2").
		SetPrice(31, "0.02")
	client := newGateway(t, fake)

	bal, err := client.Balance(context.Background(), "cold")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if len(bal.Stakes) != 3 || bal.Stakes[0].Netuid != 8 {
		t.Fatalf("expected three stakes ordered by netuid, got %+v", bal.Stakes)
	}
	if !bal.AlphaOn(31).Equal(decimal.RequireFromString("5.5")) {
		t.Fatalf("unexpected subnet total %s", bal.AlphaOn(31))
	}
	if !bal.StakeOn(31, chaintest.DefaultHotkey).Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected default hotkey stake %s", bal.StakeOn(31, chaintest.DefaultHotkey))
	}
	if best, ok := bal.BestHotkey(31); !ok || best != foundry {
		t.Fatalf("expected %s to hold the most alpha, got %q", foundry, best)
	}
	if _, ok := bal.BestHotkey(64); ok {
		t.Fatal("expected no best hotkey without stake")
	}
}

func TestStakeOnFallsBackToSubnetTotal(t *testing.T) {
	bal := chain.Balance{Alpha: map[int]decimal.Decimal{31: decimal.RequireFromString("2")}}
	if got := bal.StakeOn(31, "5Any"); !got.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("expected subnet total without a breakdown, got %s", got)
	}
	bal.Stakes = []chain.Stake{{Netuid: 31, Hotkey: "5Other", Alpha: decimal.RequireFromString("2")}}
	if got := bal.StakeOn(31, "5Any"); !got.IsZero() {
		t.Fatalf("expected zero for an unused hotkey, got %s", got)
	}
}
