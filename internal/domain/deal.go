package domain

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DealStatus represents the off-chain lifecycle state of a deal. It is a
// best-effort cache of the on-chain status once a deal is bound; before
// binding it is the only status there is.
type DealStatus string

const (
	DealStatusPending   DealStatus = "pending"
	DealStatusFunded    DealStatus = "funded"
	DealStatusActive    DealStatus = "active"
	DealStatusDisputed  DealStatus = "disputed"
	DealStatusCompleted DealStatus = "completed"
	DealStatusCancelled DealStatus = "cancelled"
)

// Valid reports whether s is a known status value. Used to whitelist
// status transition writes.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusPending, DealStatusFunded, DealStatusActive,
		DealStatusDisputed, DealStatusCompleted, DealStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected from s.
func (s DealStatus) Terminal() bool {
	return s == DealStatusCompleted || s == DealStatusCancelled
}

// ChainStatus is the escrow contract's own status enum, in declaration order.
type ChainStatus uint8

const (
	ChainStatusCreated ChainStatus = iota
	ChainStatusFunded
	ChainStatusActive
	ChainStatusDisputed
	ChainStatusCompleted
	ChainStatusCancelled
)

// DealStatus maps the contract enum onto the off-chain status vocabulary.
func (s ChainStatus) DealStatus() DealStatus {
	switch s {
	case ChainStatusCreated:
		return DealStatusPending
	case ChainStatusFunded:
		return DealStatusFunded
	case ChainStatusActive:
		return DealStatusActive
	case ChainStatusDisputed:
		return DealStatusDisputed
	case ChainStatusCompleted:
		return DealStatusCompleted
	case ChainStatusCancelled:
		return DealStatusCancelled
	}
	return DealStatusPending
}

func (s ChainStatus) String() string {
	return string(s.DealStatus())
}

// EffectiveStatus resolves the status actually shown and acted on. A
// successful chain read always wins; the stored off-chain status is only a
// fallback for unbound deals or when the RPC is unavailable (chain == nil).
func EffectiveStatus(chain *ChainStatus, offchain DealStatus) DealStatus {
	if chain != nil {
		return chain.DealStatus()
	}
	return offchain
}

// Deal is an escrow agreement between a client and a freelancer, split into
// ordered milestones and supervised by an arbiter. The off-chain UUID exists
// before any transaction; ChainDealID is assigned exactly once, when the
// creation transaction confirms.
type Deal struct {
	ID          uuid.UUID // off-chain id, assigned before any transaction
	Title       string
	Description string
	Client      string // hex address
	Freelancer  string
	Arbiter     string
	Token       string // zero address = native value
	TotalWei    *big.Int
	Milestones  []Milestone
	ChainDealID *uint64 // nil until bound
	Status      DealStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Bound reports whether the deal has an on-chain id.
func (d Deal) Bound() bool {
	return d.ChainDealID != nil
}

// Milestone is a percentage slice of a deal's total. AmountWei is computed
// from the percentage with the last milestone absorbing the division
// remainder; Released mirrors the chain once the deal is bound.
type Milestone struct {
	Index      int         `json:"index"`
	Title      string      `json:"title"`
	Percentage int         `json:"percentage"`
	AmountWei  *big.Int    `json:"amount_wei"`
	Conditions []Condition `json:"conditions"`
	Released   bool        `json:"released"`
}

// MilestoneMirror is the contract's independent per-milestone state. It can
// disagree with the off-chain condition set; conditions carry intent, the
// mirror carries enforceable truth.
type MilestoneMirror struct {
	AmountWei        *big.Int
	Released         bool
	EndTimestamp     int64 // unix seconds, 0 = no time lock
	RequiresApproval bool
}

// Role identifies the viewer's relationship to a deal.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleArbiter    Role = "arbiter"
	RoleNone       Role = "none"
)

// RoleOf resolves addr against the deal's parties. Address comparison is
// case-insensitive since hex checksumming varies by source.
func RoleOf(d Deal, addr string) Role {
	if addr == "" {
		return RoleNone
	}
	switch {
	case strings.EqualFold(addr, d.Client):
		return RoleClient
	case strings.EqualFold(addr, d.Freelancer):
		return RoleFreelancer
	case strings.EqualFold(addr, d.Arbiter):
		return RoleArbiter
	}
	return RoleNone
}
