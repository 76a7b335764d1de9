package model

// Sentinel identifiers. Assigned ids are always positive, so neither value
// can collide with a real entity.
const (
	// NoID marks an entity that has not been assigned an id yet.
	NoID int64 = -1
	// AlreadyPersistedID marks an invitation the store has already recorded
	// and which must not be persisted or materialised again.
	AlreadyPersistedID int64 = -2
	// DefaultFilterID is the reserved id of the always-present default
	// filter. Locally minted filter ids start above it.
	DefaultFilterID int64 = 1
)
