package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ggonzalez94/stakechat/internal/chain"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Market is the live half of a portfolio read.
type Market interface {
	Balance(ctx context.Context, wallet string) (chain.Balance, error)
	Price(ctx context.Context, netuid int) (decimal.Decimal, error)
}

type Position struct {
	Netuid         int
	AlphaBalance   decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	CurrentPrice   decimal.Decimal
	ValueTAO       decimal.Decimal
	CostBasisKnown bool
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	TotalStakedTAO decimal.Decimal
	ROIPercent     decimal.Decimal
}

type Summary struct {
	Wallet         string
	FreeTAO        decimal.Decimal
	Positions      []Position
	TotalValueTAO  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	TotalStakedTAO decimal.Decimal
	ROIPercent     decimal.Decimal
	AsOf           time.Time
}

// Portfolio derives positions on demand from the record log and a live
// market snapshot. Nothing derived is stored.
type Portfolio struct {
	store       Store
	market      Market
	now         func() time.Time
	concurrency int
}

func NewPortfolio(store Store, market Market, now func() time.Time) *Portfolio {
	if now == nil {
		now = time.Now
	}
	return &Portfolio{store: store, market: market, now: now, concurrency: 4}
}

func (p *Portfolio) Store() Store { return p.store }

// Summary computes every position of the caller's wallet, or only q.Netuid
// when set.
func (p *Portfolio) Summary(ctx context.Context, q Query) (Summary, error) {
	var (
		records []Record
		balance chain.Balance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = p.store.List(gctx, Query{Platform: q.Platform, UserID: q.UserID, Wallet: q.Wallet})
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "read history", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		balance, err = p.market.Balance(gctx, q.address())
		if err != nil {
			return wrapMarket("read balance", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	bases := Fold(records)
	netuids := positionNetuids(bases, balance, q)
	prices, err := p.prices(ctx, netuids, balance)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{Wallet: q.Wallet, FreeTAO: balance.FreeTAO, AsOf: p.now().UTC()}
	for _, netuid := range netuids {
		pos := position(netuid, bases[netuid], balance.AlphaOn(netuid), prices[netuid])
		out.Positions = append(out.Positions, pos)
		out.TotalValueTAO = out.TotalValueTAO.Add(pos.ValueTAO)
		out.UnrealizedPnL = out.UnrealizedPnL.Add(pos.UnrealizedPnL)
		out.RealizedPnL = out.RealizedPnL.Add(pos.RealizedPnL)
		out.TotalStakedTAO = out.TotalStakedTAO.Add(pos.TotalStakedTAO)
	}
	out.ROIPercent = ROI(out.RealizedPnL, out.UnrealizedPnL, out.TotalStakedTAO)
	sort.SliceStable(out.Positions, func(i, j int) bool {
		a, b := out.Positions[i], out.Positions[j]
		if !a.ValueTAO.Equal(b.ValueTAO) {
			return a.ValueTAO.GreaterThan(b.ValueTAO)
		}
		return a.Netuid < b.Netuid
	})
	return out, nil
}

// History returns up to limit records, newest first, failures included.
func (p *Portfolio) History(ctx context.Context, q Query, limit int) ([]Record, error) {
	records, err := p.store.List(ctx, q)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "read history", err)
	}
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]Record, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// prices reads the current price of every subnet with live alpha.
func (p *Portfolio) prices(ctx context.Context, netuids []int, balance chain.Balance) (map[int]decimal.Decimal, error) {
	out := make(map[int]decimal.Decimal, len(netuids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, netuid := range netuids {
		if !balance.AlphaOn(netuid).IsPositive() {
			continue
		}
		g.Go(func() error {
			price, err := p.market.Price(gctx, netuid)
			if err != nil {
				return wrapMarket(fmt.Sprintf("read SN%d price", netuid), err)
			}
			mu.Lock()
			out[netuid] = price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func position(netuid int, basis Basis, alpha, price decimal.Decimal) Position {
	pos := Position{
		Netuid:         netuid,
		AlphaBalance:   alpha,
		AvgEntryPrice:  basis.AvgEntry,
		CurrentPrice:   price,
		ValueTAO:       alpha.Mul(price),
		CostBasisKnown: basis.Known,
		RealizedPnL:    basis.Realized,
		TotalStakedTAO: basis.TotalStaked,
	}
	if basis.Known && alpha.IsPositive() {
		pos.UnrealizedPnL = price.Sub(basis.AvgEntry).Mul(alpha)
	}
	pos.ROIPercent = ROI(pos.RealizedPnL, pos.UnrealizedPnL, pos.TotalStakedTAO)
	return pos
}

func positionNetuids(bases map[int]Basis, balance chain.Balance, q Query) []int {
	seen := map[int]struct{}{}
	for netuid, b := range bases {
		if b.Known {
			seen[netuid] = struct{}{}
		}
	}
	for netuid, alpha := range balance.Alpha {
		if alpha.IsPositive() {
			seen[netuid] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for netuid := range seen {
		if q.HasNetuid && netuid != q.Netuid {
			continue
		}
		out = append(out, netuid)
	}
	if q.HasNetuid && len(out) == 0 {
		out = append(out, q.Netuid)
	}
	sort.Ints(out)
	return out
}

func wrapMarket(msg string, err error) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	return clierr.Wrap(clierr.CodeUnavailable, msg, err)
}
