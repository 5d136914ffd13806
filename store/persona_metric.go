package store

// PersonaMetric is the persisted outcome of one persona session.
type PersonaMetric struct {
	ID              int64
	ProjectKey      string
	PersonaID       string
	Quality         float64
	DurationMs      int64
	TokenEfficiency float64
	CreatedTs       int64 // unix milliseconds
}

// FindPersonaMetric specifies the conditions for finding persona metrics.
// Results are ordered oldest first.
type FindPersonaMetric struct {
	ProjectKey *string
	PersonaID  *string
	Limit      int
}

// DeletePersonaMetric deletes a project's metrics created before BeforeTs.
type DeletePersonaMetric struct {
	ProjectKey string
	BeforeTs   int64
}
