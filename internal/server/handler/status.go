package handler

import (
	"net/http"
)

// StatusHandler serves backend identity for the dashboard: run mode, the
// escrow contract address and the operator account in use.
type StatusHandler struct {
	Mode            string
	ContractAddress string
	Operator        string
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, contractAddress, operator string) *StatusHandler {
	return &StatusHandler{Mode: mode, ContractAddress: contractAddress, Operator: operator}
}

// GetStatus responds with the current backend mode and chain identity.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.Mode,
		"contract_address": h.ContractAddress,
		"operator":         h.Operator,
	})
}
