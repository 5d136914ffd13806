package store

// PersonaSession is the persisted state of a persona state machine.
// History holds the JSON-encoded activation history.
type PersonaSession struct {
	ID               int64
	SessionID        string
	ProjectKey       string
	CurrentPersonaID string
	History          string
	CreatedTs        int64
	UpdatedTs        int64
}

// FindPersonaSession specifies the conditions for finding a persona session.
// Without a SessionID the most recently updated session of the project is returned.
type FindPersonaSession struct {
	SessionID  *string
	ProjectKey *string
}

// DeletePersonaSession specifies the persona session to delete.
type DeletePersonaSession struct {
	SessionID string
}
