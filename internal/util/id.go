package util

import "github.com/google/uuid"

// NewID generates a unique identifier for agents, executions and ledger rows.
func NewID() string { return uuid.NewString() }
