package relay

import (
	"context"

	"github.com/google/uuid"
)

// QARecord is the persisted outcome of one run, as handed to the session
// store. The id is generated at save time by the store; a run with nothing
// to persist never gets one.
type QARecord struct {
	Title               string
	Question            string
	Answer              string
	References          []Reference
	TopK                int
	EnableQueryRewriter bool
	IsFailed            bool
	FailReason          string
}

// SessionStore is the durable collaborator behind the gate. Its internal
// concurrency control is its own responsibility.
type SessionStore interface {
	InsertSession(ctx context.Context, rec *QARecord) (uuid.UUID, error)
}

// PersistenceGate decides whether a save is warranted and executes it at
// most once per session.
type PersistenceGate struct {
	store SessionStore
	req   *StreamRequest
}

func NewPersistenceGate(store SessionStore, req *StreamRequest) *PersistenceGate {
	return &PersistenceGate{store: store, req: req}
}

// Save persists the accumulated state. Returns nil without writing when the
// run produced nothing persistable, or when the save latch was already set.
// The check-and-latch is safe because Save only ever runs on the owning
// session's event loop.
func (g *PersistenceGate) Save(ctx context.Context, st *AccumulatorState) (*uuid.UUID, error) {
	if !st.HasAnyContent() {
		return nil, nil
	}
	if !st.LatchSaved() {
		return nil, nil
	}

	rec := &QARecord{
		Title:               DeriveTitle(g.req.Question, st.IsFailed()),
		Question:            g.req.Question,
		Answer:              st.Answer(),
		References:          st.References(),
		TopK:                g.req.TopK,
		EnableQueryRewriter: g.req.EnableQueryRewriter,
		IsFailed:            st.IsFailed(),
		FailReason:          st.FailReason(),
	}

	id, err := g.store.InsertSession(ctx, rec)
	if err != nil {
		// The latch stays set: a failed save is reported, never retried,
		// because a retry could write twice.
		return nil, err
	}
	return &id, nil
}
