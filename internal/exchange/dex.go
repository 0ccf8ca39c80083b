package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"
)

// getAmountsOut fragment of the UniswapV2-style router interface.
const routerABIJSON = `[{"constant":true,"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"payable":false,"stateMutability":"view","type":"function"}]`

// RoutePreflight simulates a swap quote through an on-chain router
// before any DEX trade is approved. A revert or a zero output amount
// means the route cannot currently fill at the planned size.
type RoutePreflight struct {
	caller       ethereum.ContractCaller
	client       *ethclient.Client // set when this instance dialed the node
	router       ethcommon.Address
	base         ethcommon.Address
	baseDecimals int32
	routerABI    abi.ABI
	logger       core.ILogger
}

// NewRoutePreflight dials the configured RPC node.
func NewRoutePreflight(cfg config.ExchangeConfig, logger core.ILogger) (*RoutePreflight, error) {
	if cfg.DEXRPCURL == "" || cfg.DEXRouterAddress == "" {
		return nil, fmt.Errorf("route preflight: dex_rpc_url and dex_router_address are required")
	}
	client, err := ethclient.Dial(cfg.DEXRPCURL)
	if err != nil {
		return nil, fmt.Errorf("route preflight: dial %s: %w", cfg.DEXRPCURL, err)
	}
	r, err := NewRoutePreflightWithCaller(cfg, client, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.client = client
	return r, nil
}

// NewRoutePreflightWithCaller builds a preflight on an existing backend.
// Tests pass a stub caller.
func NewRoutePreflightWithCaller(cfg config.ExchangeConfig, caller ethereum.ContractCaller, logger core.ILogger) (*RoutePreflight, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("route preflight: parse router abi: %w", err)
	}
	return &RoutePreflight{
		caller:       caller,
		router:       ethcommon.HexToAddress(cfg.DEXRouterAddress),
		base:         ethcommon.HexToAddress(cfg.DEXBaseAsset),
		baseDecimals: int32(cfg.DEXBaseDecimals),
		routerABI:    parsed,
		logger:       logger.WithField("component", "route_preflight"),
	}, nil
}

// Quote simulates swapping notionalUSD of the base asset into the token
// and returns the output amount in the token's smallest unit.
func (r *RoutePreflight) Quote(ctx context.Context, tokenAddress string, notionalUSD decimal.Decimal) (*big.Int, error) {
	amountIn := notionalUSD.Shift(r.baseDecimals).BigInt()
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("route preflight %s: non-positive notional %s", tokenAddress, notionalUSD)
	}
	path := []ethcommon.Address{r.base, ethcommon.HexToAddress(tokenAddress)}
	data, err := r.routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("route preflight %s: pack: %w", tokenAddress, err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.router, Data: data}, nil)
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, fmt.Errorf("route preflight %s: reverted: %w", tokenAddress, apperrors.ErrThinBook)
		}
		return nil, fmt.Errorf("route preflight %s: %w: %v", tokenAddress, apperrors.ErrNetwork, err)
	}

	res, err := r.routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, fmt.Errorf("route preflight %s: unpack: %w", tokenAddress, err)
	}
	amounts, ok := res[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("route preflight %s: malformed amounts", tokenAddress)
	}
	output := amounts[len(amounts)-1]
	if output.Sign() <= 0 {
		return nil, fmt.Errorf("route preflight %s: zero output for %s USD in: %w",
			tokenAddress, notionalUSD.StringFixed(2), apperrors.ErrThinBook)
	}
	r.logger.Debug("route preflight ok",
		"token", tokenAddress, "notional_usd", notionalUSD.StringFixed(2), "amount_out", output.String())
	return output, nil
}

// Close releases the RPC connection when this instance owns it.
func (r *RoutePreflight) Close() {
	if r.client != nil {
		r.client.Close()
	}
}
