package chain

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggonzalez94/stakechat/internal/units"
)

// ErrorCode makes a RejectedError travel as a JSON-RPC error with
// RejectedErrorCode when served by a gateway.
func (e *RejectedError) ErrorCode() int { return RejectedErrorCode }

// NewGatewayServer exposes client under the subtensor_* namespace. It is the
// server half of RPCClient and is used to front simulated chains.
func NewGatewayServer(client Client) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(namespace, &gatewayService{client: client}); err != nil {
		return nil, err
	}
	return server, nil
}

type gatewayService struct {
	client Client
}

func (s *gatewayService) GetBalance(ctx context.Context, wallet string) (balanceReply, error) {
	bal, err := s.client.Balance(ctx, wallet)
	if err != nil {
		return balanceReply{}, err
	}
	out := balanceReply{FreeTAO: bal.FreeTAO.String(), Alpha: make(map[string]string, len(bal.Alpha))}
	for netuid, amount := range bal.Alpha {
		out.Alpha[strconv.Itoa(netuid)] = amount.String()
	}
	for _, st := range bal.Stakes {
		out.Stakes = append(out.Stakes, stakeReply{Netuid: st.Netuid, Hotkey: st.Hotkey, Alpha: st.Alpha.String()})
	}
	return out, nil
}

func (s *gatewayService) GetPrice(ctx context.Context, netuid int) (string, error) {
	price, err := s.client.Price(ctx, netuid)
	if err != nil {
		return "", err
	}
	return price.String(), nil
}

func (s *gatewayService) SubnetExists(ctx context.Context, netuid int) (bool, error) {
	return s.client.ValidateNetuid(ctx, netuid)
}

func (s *gatewayService) AddStake(ctx context.Context, p stakeParams) (receiptReply, error) {
	amount, err := units.FromRao(p.AmountRao)
	if err != nil {
		return receiptReply{}, &RejectedError{Reason: "invalid amount_rao", Cause: err}
	}
	receipt, err := s.client.SubmitStake(ctx, StakeRequest{Wallet: p.Wallet, Hotkey: p.Hotkey, Netuid: p.Netuid, AmountTAO: amount})
	if err != nil {
		return receiptReply{}, err
	}
	return toReceiptReply(receipt), nil
}

func (s *gatewayService) RemoveStake(ctx context.Context, p unstakeParams) (receiptReply, error) {
	req := UnstakeRequest{Wallet: p.Wallet, Hotkey: p.Hotkey, Netuid: p.Netuid, All: p.All}
	if !p.All {
		amount, err := units.FromRao(p.AmountRao)
		if err != nil {
			return receiptReply{}, &RejectedError{Reason: "invalid amount_rao", Cause: err}
		}
		req.AmountAlpha = amount
	}
	receipt, err := s.client.SubmitUnstake(ctx, req)
	if err != nil {
		return receiptReply{}, err
	}
	return toReceiptReply(receipt), nil
}

func toReceiptReply(r Receipt) receiptReply {
	out := receiptReply{Reference: r.Reference, Hotkey: r.Hotkey}
	if r.TAOAmount.Valid {
		out.TAOAmount = r.TAOAmount.Decimal.String()
	}
	if r.AlphaAmount.Valid {
		out.AlphaAmount = r.AlphaAmount.Decimal.String()
	}
	return out
}
