package specification

import "gorm.io/gorm"

// PinnedFirstNewest orders the session list the way the sidebar renders it:
// pinned sessions on top, then newest first.
type PinnedFirstNewest struct{}

func (s PinnedFirstNewest) Apply(db *gorm.DB) *gorm.DB {
	return db.Order("pinned DESC, created_at DESC")
}

// OnlyPinned filters to pinned sessions
type OnlyPinned struct{}

func (s OnlyPinned) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("pinned = ?", true)
}

// OnlyFailed filters to failed runs
type OnlyFailed struct{}

func (s OnlyFailed) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_failed = ?", true)
}
