// Package chain wraps the escrow contract behind a typed client: reads of
// deal and milestone state, transaction submission with defensive gas
// parameters, receipt waiting, and historical event lookups.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

const defaultReceiptPoll = 3 * time.Second

// rpcLimitKey is the rate-limiter bucket shared by all RPC calls.
const rpcLimitKey = "chain:rpc"

// Config holds connection parameters for the chain client.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// PrivateKey is the operator key in hex. Optional: without it the
	// client is read-only and submits fail.
	PrivateKey string
	// ReceiptPollInterval is the delay between receipt lookups while
	// waiting for confirmation.
	ReceiptPollInterval time.Duration
	// RPCRateLimit caps RPC calls per second when a limiter is wired.
	RPCRateLimit int
}

// Client talks to the escrow contract over JSON-RPC.
type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	limiter  domain.RateLimiter
	rate     int
	poll     time.Duration
	logger   *slog.Logger
}

// NewClient dials the RPC endpoint and prepares the contract ABI. limiter is
// optional; when set, every RPC call waits on the shared bucket first.
func NewClient(ctx context.Context, cfg Config, limiter domain.RateLimiter, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("chain: rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		eth:      eth,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		limiter:  limiter,
		rate:     cfg.RPCRateLimit,
		poll:     cfg.ReceiptPollInterval,
		logger:   logger,
	}
	if c.poll <= 0 {
		c.poll = defaultReceiptPoll
	}
	if c.rate <= 0 {
		c.rate = 10
	}

	if keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); keyHex != "" {
		key, err := ethcrypto.HexToECDSA(keyHex)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: invalid operator key: %w", err)
		}
		c.key = key
		c.from = ethcrypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// OperatorAddress returns the hex address of the configured operator key,
// or the empty string for a read-only client.
func (c *Client) OperatorAddress() string {
	if c.key == nil {
		return ""
	}
	return c.from.Hex()
}

// wait blocks until the shared RPC rate limit admits one more call. Limiter
// errors are logged and the call proceeds; a broken limiter must not take the
// chain down with it.
func (c *Client) wait(ctx context.Context) {
	if c.limiter == nil {
		return
	}
	for {
		allowed, err := c.limiter.Allow(ctx, rpcLimitKey, c.rate, time.Second)
		if err != nil {
			if c.logger != nil {
				c.logger.WarnContext(ctx, "chain: rpc rate limit check failed", slog.String("error", err.Error()))
			}
			return
		}
		if allowed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// call packs and executes a view function against the contract.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	c.wait(ctx)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w: %w", method, domain.ErrChainUnavailable, err)
	}

	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// DealStatus reads the contract's status enum for a deal.
func (c *Client) DealStatus(ctx context.Context, dealID uint64) (domain.ChainStatus, error) {
	vals, err := c.call(ctx, "get_deal_status", new(big.Int).SetUint64(dealID))
	if err != nil {
		return 0, err
	}
	status, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: get_deal_status: unexpected return type %T", vals[0])
	}
	return domain.ChainStatus(status.Uint64()), nil
}

// DealAmount reads the deal's total escrowed amount in wei.
func (c *Client) DealAmount(ctx context.Context, dealID uint64) (*big.Int, error) {
	vals, err := c.call(ctx, "get_deal_amount", new(big.Int).SetUint64(dealID))
	if err != nil {
		return nil, err
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: get_deal_amount: unexpected return type %T", vals[0])
	}
	return amount, nil
}

// DealParties reads the client, freelancer, and arbiter addresses of a deal.
func (c *Client) DealParties(ctx context.Context, dealID uint64) (client, freelancer, arbiter string, err error) {
	id := new(big.Int).SetUint64(dealID)
	for _, q := range []struct {
		method string
		out    *string
	}{
		{"get_deal_client", &client},
		{"get_deal_freelancer", &freelancer},
		{"get_deal_arbiter", &arbiter},
	} {
		vals, callErr := c.call(ctx, q.method, id)
		if callErr != nil {
			return "", "", "", callErr
		}
		addr, ok := vals[0].(common.Address)
		if !ok {
			return "", "", "", fmt.Errorf("chain: %s: unexpected return type %T", q.method, vals[0])
		}
		*q.out = addr.Hex()
	}
	return client, freelancer, arbiter, nil
}

// Milestone reads the chain mirror of a single milestone.
func (c *Client) Milestone(ctx context.Context, dealID uint64, index int) (domain.MilestoneMirror, error) {
	vals, err := c.call(ctx, "get_milestone", new(big.Int).SetUint64(dealID), big.NewInt(int64(index)))
	if err != nil {
		return domain.MilestoneMirror{}, err
	}
	if len(vals) != 4 {
		return domain.MilestoneMirror{}, fmt.Errorf("chain: get_milestone: %d return values", len(vals))
	}

	amount, okA := vals[0].(*big.Int)
	released, okR := vals[1].(bool)
	endTS, okE := vals[2].(*big.Int)
	requiresApproval, okQ := vals[3].(bool)
	if !okA || !okR || !okE || !okQ {
		return domain.MilestoneMirror{}, fmt.Errorf("chain: get_milestone: unexpected return shape")
	}

	return domain.MilestoneMirror{
		AmountWei:        amount,
		Released:         released,
		EndTimestamp:     int64(endTS.Uint64()),
		RequiresApproval: requiresApproval,
	}, nil
}

// Milestones reads the chain mirrors for milestones [0, count).
func (c *Client) Milestones(ctx context.Context, dealID uint64, count int) ([]domain.MilestoneMirror, error) {
	mirrors := make([]domain.MilestoneMirror, 0, count)
	for i := 0; i < count; i++ {
		m, err := c.Milestone(ctx, dealID, i)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, m)
	}
	return mirrors, nil
}

// GasParams derives EIP-1559 fee caps from the current base fee: a +30%
// ceiling and a 10% priority fee, enough to avoid "fee below base fee"
// rejections without overpaying.
func (c *Client) GasParams(ctx context.Context) (maxFee, tip *big.Int, err error) {
	c.wait(ctx)
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: latest header: %w: %w", domain.ErrChainUnavailable, err)
	}
	base := header.BaseFee
	if base == nil || base.Sign() == 0 {
		base = big.NewInt(1_000_000_000) // 1 gwei floor for chains without a base fee
	}

	maxFee = new(big.Int).Mul(base, big.NewInt(13))
	maxFee.Quo(maxFee, big.NewInt(10))
	tip = new(big.Int).Quo(base, big.NewInt(10))
	return maxFee, tip, nil
}

// SubmitTransaction packs, signs, and broadcasts a contract call with the
// operator key. The returned hash identifies the submitted transaction; the
// caller decides whether and how long to wait for its receipt.
func (c *Client) SubmitTransaction(ctx context.Context, method string, value *big.Int, args ...any) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("chain: no operator key configured: %w", domain.ErrTxRejected)
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	maxFee, tip, err := c.GasParams(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	c.wait(ctx)
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: nonce: %w", err)
	}

	msg := ethereum.CallMsg{From: c.from, To: &c.contract, Value: value, Data: data}
	c.wait(ctx)
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: estimate %s: %w: %w", method, domain.ErrTxRejected, err)
	}
	gas += gas / 5

	tx, err := types.SignNewTx(c.key, types.LatestSignerForChainID(c.chainID), &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &c.contract,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign %s: %w", method, err)
	}

	c.wait(ctx)
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send %s: %w: %w", method, domain.ErrTxRejected, err)
	}

	if c.logger != nil {
		c.logger.InfoContext(ctx, "chain: transaction submitted",
			slog.String("method", method),
			slog.String("tx_hash", tx.Hash().Hex()),
			slog.Uint64("nonce", nonce),
		)
	}
	return tx.Hash(), nil
}

// WaitForReceipt polls for the receipt of a submitted transaction. There is
// no hard timeout: cancelling ctx stops the wait, it does not cancel the
// transaction itself.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		c.wait(ctx)
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			if c.logger != nil {
				c.logger.WarnContext(ctx, "chain: receipt lookup failed, retrying",
					slog.String("tx_hash", hash.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// ResolutionEvents fetches all DisputeResolved logs for a deal id. Logs
// that fail to decode are skipped rather than failing the whole lookup.
func (c *Client) ResolutionEvents(ctx context.Context, dealID uint64, fromBlock uint64) ([]domain.ResolutionEvent, error) {
	logs, err := c.filterDealLogs(ctx, dealID, fromBlock, DisputeResolvedEvent.Topic)
	if err != nil {
		return nil, err
	}

	events := make([]domain.ResolutionEvent, 0, len(logs))
	for _, lg := range logs {
		if ev, ok := DecodeResolution(lg); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// EventHistory fetches and decodes every known escrow event for a deal id.
func (c *Client) EventHistory(ctx context.Context, dealID uint64, fromBlock uint64) ([]DecodedLog, error) {
	logs, err := c.filterDealLogs(ctx, dealID, fromBlock)
	if err != nil {
		return nil, err
	}

	decoded := make([]DecodedLog, 0, len(logs))
	for _, lg := range logs {
		if dec, ok := DecodeLog(lg); ok {
			decoded = append(decoded, dec)
		}
	}
	return decoded, nil
}

// filterDealLogs queries contract logs with the deal id as the indexed
// topic, optionally restricted to specific event topics.
func (c *Client) filterDealLogs(ctx context.Context, dealID uint64, fromBlock uint64, topics ...common.Hash) ([]types.Log, error) {
	dealTopic := common.BigToHash(new(big.Int).SetUint64(dealID))
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Topics:    [][]common.Hash{topics, {dealTopic}},
	}

	c.wait(ctx)
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs deal %d: %w: %w", dealID, domain.ErrChainUnavailable, err)
	}
	return logs, nil
}
