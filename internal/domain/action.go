package domain

import "time"

// ActionKind names the contract calls a user can trigger.
type ActionKind string

const (
	ActionFund    ActionKind = "fund"
	ActionRelease ActionKind = "release"
	ActionDispute ActionKind = "dispute"
	ActionResolve ActionKind = "resolve"
)

// ActionState tracks a single submitted transaction. Each action instance
// carries its own state; there is no shared in-flight flag, so independent
// actions on different deals never block each other.
type ActionState string

const (
	ActionStateIdle       ActionState = "idle"
	ActionStatePending    ActionState = "pending"    // submitted, waiting for hash
	ActionStateConfirming ActionState = "confirming" // hash known, waiting for receipt
	ActionStateConfirmed  ActionState = "confirmed"
	ActionStateFailed     ActionState = "failed"
)

// Action is one tracked transaction attempt against a deal.
type Action struct {
	ID             string // UUID
	DealID         string
	Kind           ActionKind
	MilestoneIndex int // release only
	State          ActionState
	TxHash         string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
