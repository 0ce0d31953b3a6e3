package relay

import "strings"

const (
	titleMaxRunes = 30
	titleEllipsis = "..."

	// FailedTitlePrefix marks the stored title of a failed run.
	FailedTitlePrefix = "【失败】"

	failureNotePrefix = "\n\n【生成失败】原因："
)

// FailureNote is the human-readable suffix appended to the answer buffer
// when a run fails, so partial output keeps its failure context when stored.
func FailureNote(reason string) string {
	return failureNotePrefix + reason
}

// DeriveTitle truncates the originating question to the stored session
// title, prefixing the failure marker for failed runs. Rune-based: questions
// are frequently CJK and a byte cut would split characters.
func DeriveTitle(question string, failed bool) string {
	title := question
	if runes := []rune(question); len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes]) + titleEllipsis
	}
	if failed {
		title = FailedTitlePrefix + title
	}
	return title
}

// AccumulatorState is the mutable per-session buffer. It is owned by exactly
// one StreamSession and only ever touched from that session's event loop, so
// it carries no locking of its own.
type AccumulatorState struct {
	answer     strings.Builder
	references []Reference
	failed     bool
	failReason string
	saved      bool
}

func (a *AccumulatorState) AppendAnswer(text string) {
	a.answer.WriteString(text)
}

// ReplaceReferences keeps only the most recent references envelope; earlier
// lists are discarded wholesale, never merged.
func (a *AccumulatorState) ReplaceReferences(refs []Reference) {
	a.references = refs
}

// MarkFailed flips the failure flag. The first reason wins; later failures
// on the same session do not overwrite it.
func (a *AccumulatorState) MarkFailed(reason string) {
	if a.failed {
		return
	}
	a.failed = true
	a.failReason = reason
}

func (a *AccumulatorState) Answer() string          { return a.answer.String() }
func (a *AccumulatorState) References() []Reference { return a.references }
func (a *AccumulatorState) IsFailed() bool          { return a.failed }
func (a *AccumulatorState) FailReason() string      { return a.failReason }
func (a *AccumulatorState) HasSaved() bool          { return a.saved }

// HasAnyContent reports whether there is anything worth persisting. A run
// with no answer, no references and no failure never creates a row.
func (a *AccumulatorState) HasAnyContent() bool {
	return a.answer.Len() > 0 || len(a.references) > 0 || a.failed
}

// LatchSaved sets the one-way saved latch. It returns false if the latch
// was already set, guaranteeing at most one persistence attempt.
func (a *AccumulatorState) LatchSaved() bool {
	if a.saved {
		return false
	}
	a.saved = true
	return true
}
