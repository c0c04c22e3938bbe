package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/units"
	"github.com/shopspring/decimal"
)

// RejectedErrorCode is the JSON-RPC error code a signing gateway uses for
// definite refusals.
const RejectedErrorCode = -32010

const namespace = "subtensor"

type balanceReply struct {
	FreeTAO string            `json:"free_tao"`
	Alpha   map[string]string `json:"alpha"`
	Stakes  []stakeReply      `json:"stakes,omitempty"`
}

type stakeReply struct {
	Netuid int    `json:"netuid"`
	Hotkey string `json:"hotkey"`
	Alpha  string `json:"alpha"`
}

type stakeParams struct {
	Wallet    string `json:"wallet"`
	Hotkey    string `json:"hotkey"`
	Netuid    int    `json:"netuid"`
	AmountRao string `json:"amount_rao"`
}

type unstakeParams struct {
	Wallet    string `json:"wallet"`
	Hotkey    string `json:"hotkey"`
	Netuid    int    `json:"netuid"`
	AmountRao string `json:"amount_rao,omitempty"`
	All       bool   `json:"all,omitempty"`
}

type receiptReply struct {
	Reference   string `json:"reference"`
	Hotkey      string `json:"hotkey,omitempty"`
	TAOAmount   string `json:"tao_amount,omitempty"`
	AlphaAmount string `json:"alpha_amount,omitempty"`
}

// RPCClient talks JSON-RPC 2.0 to a signing gateway that exposes the
// subtensor_* namespace. Keys never leave the gateway.
type RPCClient struct {
	rpc     *rpc.Client
	timeout time.Duration
}

func DialRPC(ctx context.Context, endpoint string, timeout time.Duration) (*RPCClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, clierr.New(clierr.CodeUsage, "missing chain endpoint")
	}
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect chain gateway", err)
	}
	return NewRPCClient(c, timeout), nil
}

func NewRPCClient(c *rpc.Client, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPCClient{rpc: c, timeout: timeout}
}

func (c *RPCClient) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *RPCClient) Balance(ctx context.Context, wallet string) (Balance, error) {
	var reply balanceReply
	if err := c.read(ctx, &reply, "getBalance", wallet); err != nil {
		return Balance{}, err
	}
	free, err := parseAmount(reply.FreeTAO)
	if err != nil {
		return Balance{}, clierr.Wrap(clierr.CodeUnavailable, "decode free balance", err)
	}
	out := Balance{FreeTAO: free, Alpha: make(map[int]decimal.Decimal, len(reply.Alpha))}
	for k, v := range reply.Alpha {
		netuid, err := strconv.Atoi(k)
		if err != nil {
			return Balance{}, clierr.Wrap(clierr.CodeUnavailable, "decode alpha balance netuid", err)
		}
		amount, err := parseAmount(v)
		if err != nil {
			return Balance{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode alpha balance for SN%d", netuid), err)
		}
		out.Alpha[netuid] = amount
	}
	for _, st := range reply.Stakes {
		amount, err := parseAmount(st.Alpha)
		if err != nil {
			return Balance{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode stake on SN%d", st.Netuid), err)
		}
		out.Stakes = append(out.Stakes, Stake{Netuid: st.Netuid, Hotkey: strings.TrimSpace(st.Hotkey), Alpha: amount})
	}
	sortStakes(out.Stakes)
	return out, nil
}

func sortStakes(stakes []Stake) {
	sort.Slice(stakes, func(i, j int) bool {
		if stakes[i].Netuid != stakes[j].Netuid {
			return stakes[i].Netuid < stakes[j].Netuid
		}
		return stakes[i].Hotkey < stakes[j].Hotkey
	})
}

func (c *RPCClient) Price(ctx context.Context, netuid int) (decimal.Decimal, error) {
	var reply string
	if err := c.read(ctx, &reply, "getPrice", netuid); err != nil {
		return decimal.Zero, err
	}
	price, err := parseAmount(reply)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode price for SN%d", netuid), err)
	}
	return price, nil
}

func (c *RPCClient) ValidateNetuid(ctx context.Context, netuid int) (bool, error) {
	var exists bool
	if err := c.read(ctx, &exists, "subnetExists", netuid); err != nil {
		return false, err
	}
	return exists, nil
}

func (c *RPCClient) SubmitStake(ctx context.Context, req StakeRequest) (Receipt, error) {
	rao, err := units.ToRao(req.AmountTAO)
	if err != nil {
		return Receipt{}, &RejectedError{Reason: "invalid amount", Cause: err}
	}
	params := stakeParams{Wallet: req.Wallet, Hotkey: req.Hotkey, Netuid: req.Netuid, AmountRao: rao}
	return c.submit(ctx, "addStake", params)
}

func (c *RPCClient) SubmitUnstake(ctx context.Context, req UnstakeRequest) (Receipt, error) {
	params := unstakeParams{Wallet: req.Wallet, Hotkey: req.Hotkey, Netuid: req.Netuid, All: req.All}
	if !req.All {
		rao, err := units.ToRao(req.AmountAlpha)
		if err != nil {
			return Receipt{}, &RejectedError{Reason: "invalid amount", Cause: err}
		}
		params.AmountRao = rao
	}
	return c.submit(ctx, "removeStake", params)
}

func (c *RPCClient) read(ctx context.Context, result any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rpc.CallContext(ctx, result, namespace+"_"+method, args...); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, namespace+"_"+method, err)
	}
	return nil
}

// submit leaves deadline handling to the caller. Any failure that is not a
// gateway refusal is returned unwrapped so Classify tags it uncertain.
func (c *RPCClient) submit(ctx context.Context, method string, params any) (Receipt, error) {
	var reply receiptReply
	if err := c.rpc.CallContext(ctx, &reply, namespace+"_"+method, params); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == RejectedErrorCode {
			reason := strings.TrimPrefix(rpcErr.Error(), "submission rejected: ")
			return Receipt{}, &RejectedError{Reason: reason, Code: rpcErr.ErrorCode(), Cause: err}
		}
		return Receipt{}, fmt.Errorf("%s_%s: %w", namespace, method, err)
	}

	out := Receipt{Hotkey: reply.Hotkey}
	if ref, ok := normalizeReference(reply.Reference); ok {
		out.Reference = ref
	} else {
		out.Reference = strings.TrimSpace(reply.Reference)
	}
	if v, err := parseAmount(reply.TAOAmount); err == nil && reply.TAOAmount != "" {
		out.TAOAmount = decimal.NewNullDecimal(v)
	}
	if v, err := parseAmount(reply.AlphaAmount); err == nil && reply.AlphaAmount != "" {
		out.AlphaAmount = decimal.NewNullDecimal(v)
	}
	return out, nil
}

// normalizeReference canonicalises a 32-byte extrinsic hash to 0x-prefixed
// lowercase hex.
func normalizeReference(v string) (string, bool) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "", false
	}
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		clean = "0x" + clean
	}
	buf, err := hexutil.Decode(strings.ToLower(clean))
	if err != nil || len(buf) != common.HashLength {
		return "", false
	}
	return common.BytesToHash(buf).Hex(), true
}

func parseAmount(v string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return decimal.Zero, nil
	}
	if !units.IsDecimal(clean) {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
	}
	return decimal.NewFromString(clean)
}
