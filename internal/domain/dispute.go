package domain

import (
	"math/big"
	"time"
)

// Dispute is the off-chain narrative attached to an on-chain dispute. It is
// written once, after the dispute transaction confirms, and never edited.
type Dispute struct {
	ID            string // UUID
	DealID        string // off-chain deal UUID
	Initiator     string // hex address
	Reason        string
	EvidenceLinks []string
	CreatedAt     time.Time
}

// Ruling classifies a resolved dispute's outcome.
type Ruling string

const (
	RulingClient     Ruling = "client"
	RulingFreelancer Ruling = "freelancer"
	RulingSplit      Ruling = "split"
)

// ResolutionEvent is a decoded DisputeResolved log. The ruling is derived
// from the amount pair; the event itself is immutable chain history.
type ResolutionEvent struct {
	ChainDealID      uint64
	ClientAmount     *big.Int
	FreelancerAmount *big.Int
	ArbiterFee       *big.Int
	TxHash           string
	BlockNumber      uint64
}
