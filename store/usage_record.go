package store

// UsageRecord is one persisted token usage measurement.
type UsageRecord struct {
	ID             int64
	UID            string
	ProjectKey     string
	PersonaID      string
	OriginalTokens int
	ContextTokens  int
	TotalTokens    int
	AlertLevel     string
	CreatedTs      int64 // unix milliseconds
}

// FindUsageRecord specifies the conditions for finding usage records.
// Results are ordered newest first.
type FindUsageRecord struct {
	ProjectKey *string
	PersonaID  *string
	SinceTs    *int64
	Limit      *int
}

// DeleteUsageRecord prunes a project's usage records down to the newest KeepLatest.
type DeleteUsageRecord struct {
	ProjectKey string
	KeepLatest int
}
