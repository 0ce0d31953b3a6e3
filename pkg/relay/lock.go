package relay

import (
	"github.com/patrickmn/go-cache"
)

// ConversationLock guarantees that at most one streaming run is in flight
// per conversation within this process. There is no cross-instance
// coordination: a multi-instance deployment would need to promote this to a
// distributed lock (see DESIGN.md).
//
// There is deliberately no waiting: callers must treat a failed acquire as
// "reject this request", not "queue it".
type ConversationLock struct {
	held *cache.Cache
}

func NewConversationLock() *ConversationLock {
	// No expiration and no janitor: entries live exactly as long as the
	// owning session, which releases on every exit path.
	return &ConversationLock{held: cache.New(cache.NoExpiration, 0)}
}

// TryAcquire marks the conversation as held. Returns false if another
// session already holds it. Add is atomic within the cache, so two
// concurrent acquires for the same id cannot both succeed.
func (l *ConversationLock) TryAcquire(conversationId string) bool {
	return l.held.Add(conversationId, struct{}{}, cache.NoExpiration) == nil
}

// Release clears the held marker. Idempotent; releasing an unheld id is a
// no-op.
func (l *ConversationLock) Release(conversationId string) {
	l.held.Delete(conversationId)
}
