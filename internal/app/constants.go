package app

// Draw sources reported in CardDrawnPayload.
const (
	SourceStock   = "stock"
	SourceDiscard = "discard"
)

// DefaultMaxConflictRetries bounds how often an action is re-run after losing a write race.
const DefaultMaxConflictRetries = 3
