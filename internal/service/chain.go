package service

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ChainReader is the read-only contract surface the services need. A failed
// read means the chain is temporarily unavailable, not that the deal is in
// any particular state; callers fall back to the off-chain cache.
type ChainReader interface {
	DealStatus(ctx context.Context, dealID uint64) (domain.ChainStatus, error)
	Milestones(ctx context.Context, dealID uint64, count int) ([]domain.MilestoneMirror, error)
	ResolutionEvents(ctx context.Context, dealID uint64, fromBlock uint64) ([]domain.ResolutionEvent, error)
}

// ChainSubmitter submits signed transactions and waits for their receipts.
type ChainSubmitter interface {
	SubmitTransaction(ctx context.Context, method string, value *big.Int, args ...any) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
