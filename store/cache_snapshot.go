package store

// CacheSnapshot is a serialized resource cache of one project.
type CacheSnapshot struct {
	ProjectKey string
	Payload    []byte
	EntryCount int
	UpdatedTs  int64
}

// FindCacheSnapshot specifies the snapshot to load.
type FindCacheSnapshot struct {
	ProjectKey string
}
