package status

import (
	"sync"

	"github.com/notewell/synccore/errs"
)

// SendStatus accumulates the outcome of uploading one account's (or one
// linked notebook's) local changes in dependency order: tags, then
// notebooks, then saved searches, then notes. A failure against one
// entity never aborts the others in the same batch.
type SendStatus struct {
	mu sync.Mutex

	TagsAttempted         int
	TagsSucceeded         int
	TagFailures           []errs.EntityFailure

	NotebooksAttempted int
	NotebooksSucceeded int
	NotebookFailures   []errs.EntityFailure

	SavedSearchesAttempted int
	SavedSearchesSucceeded int
	SavedSearchFailures    []errs.EntityFailure

	NotesAttempted int
	NotesSucceeded int
	NoteFailures   []errs.EntityFailure

	// StopSynchronizationError is set at most once, by whichever
	// entity first hits a fatal protocol error (rate limit or
	// expired auth). Once set, the Sender stops issuing new uploads
	// for this scope.
	StopSynchronizationError error

	// NeedToRepeatIncrementalSync is set when an upload of any entity
	// kind returns a USN other than this scope's running USN plus one:
	// the server holds changes this cycle has not downloaded, so
	// another incremental pass is required before the client is caught up.
	NeedToRepeatIncrementalSync bool
}

func NewSendStatus() *SendStatus { return &SendStatus{} }

func (s *SendStatus) MarkTag(ok bool, f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TagsAttempted++
	if ok {
		s.TagsSucceeded++
		return
	}
	s.TagFailures = append(s.TagFailures, f)
}

func (s *SendStatus) MarkNotebook(ok bool, f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NotebooksAttempted++
	if ok {
		s.NotebooksSucceeded++
		return
	}
	s.NotebookFailures = append(s.NotebookFailures, f)
}

func (s *SendStatus) MarkSavedSearch(ok bool, f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SavedSearchesAttempted++
	if ok {
		s.SavedSearchesSucceeded++
		return
	}
	s.SavedSearchFailures = append(s.SavedSearchFailures, f)
}

func (s *SendStatus) MarkNote(ok bool, f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NotesAttempted++
	if ok {
		s.NotesSucceeded++
		return
	}
	s.NoteFailures = append(s.NoteFailures, f)
}

func (s *SendStatus) SetNeedToRepeatIncrementalSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NeedToRepeatIncrementalSync = true
}

func (s *SendStatus) SetStopError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StopSynchronizationError == nil {
		s.StopSynchronizationError = err
	}
}

func (s *SendStatus) StopError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopSynchronizationError
}

// SendSnapshot is the plain-data copy handed to progress callbacks.
type SendSnapshot struct {
	TagsAttempted, TagsSucceeded                 int
	NotebooksAttempted, NotebooksSucceeded       int
	SavedSearchesAttempted, SavedSearchesSucceeded int
	NotesAttempted, NotesSucceeded               int
	TotalFailures                                int
	NeedToRepeatIncrementalSync                  bool
}

func (s *SendStatus) Snapshot() SendSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SendSnapshot{
		TagsAttempted:                   s.TagsAttempted,
		TagsSucceeded:                   s.TagsSucceeded,
		NotebooksAttempted:              s.NotebooksAttempted,
		NotebooksSucceeded:              s.NotebooksSucceeded,
		SavedSearchesAttempted:          s.SavedSearchesAttempted,
		SavedSearchesSucceeded:          s.SavedSearchesSucceeded,
		NotesAttempted:                  s.NotesAttempted,
		NotesSucceeded:                  s.NotesSucceeded,
		TotalFailures: len(s.TagFailures) + len(s.NotebookFailures) +
			len(s.SavedSearchFailures) + len(s.NoteFailures),
		NeedToRepeatIncrementalSync: s.NeedToRepeatIncrementalSync,
	}
}
