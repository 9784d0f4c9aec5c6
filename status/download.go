package status

import (
	"sync"

	"github.com/notewell/synccore/errs"
)

// DownloadNotesStatus accumulates the outcome of downloading note
// bodies for one scope. Every terminal event for a note advances
// exactly one counter.
type DownloadNotesStatus struct {
	mu sync.Mutex

	Processed int
	Failed    []errs.EntityFailure // failed to download (RPC-level)
	FailedProcessing []errs.EntityFailure // downloaded but local-store write failed
	Cancelled int

	StopSynchronizationError      error // RateLimitReached / AuthExpired, nil otherwise
	NeedToRepeatIncrementalSync bool
}

func NewDownloadNotesStatus() *DownloadNotesStatus { return &DownloadNotesStatus{} }

func (s *DownloadNotesStatus) MarkProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
}

func (s *DownloadNotesStatus) MarkFailed(f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed = append(s.Failed, f)
}

func (s *DownloadNotesStatus) MarkFailedProcessing(f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailedProcessing = append(s.FailedProcessing, f)
}

func (s *DownloadNotesStatus) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancelled++
}

func (s *DownloadNotesStatus) SetStopError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StopSynchronizationError == nil {
		s.StopSynchronizationError = err
	}
}

type DownloadNotesSnapshot struct {
	Processed                   int
	FailedCount                 int
	FailedProcessingCount       int
	Cancelled                   int
	NeedToRepeatIncrementalSync bool
}

func (s *DownloadNotesStatus) Snapshot() DownloadNotesSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DownloadNotesSnapshot{
		Processed:                   s.Processed,
		FailedCount:                 len(s.Failed),
		FailedProcessingCount:       len(s.FailedProcessing),
		Cancelled:                   s.Cancelled,
		NeedToRepeatIncrementalSync: s.NeedToRepeatIncrementalSync,
	}
}

// DownloadResourcesStatus has the identical shape, kept distinct per
// spec.md so the two are never confused at the call site.
type DownloadResourcesStatus struct {
	mu sync.Mutex

	Processed        int
	Failed           []errs.EntityFailure
	FailedProcessing []errs.EntityFailure
	Cancelled        int

	StopSynchronizationError error
}

func NewDownloadResourcesStatus() *DownloadResourcesStatus { return &DownloadResourcesStatus{} }

func (s *DownloadResourcesStatus) MarkProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
}

func (s *DownloadResourcesStatus) MarkFailed(f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed = append(s.Failed, f)
}

func (s *DownloadResourcesStatus) MarkFailedProcessing(f errs.EntityFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailedProcessing = append(s.FailedProcessing, f)
}

func (s *DownloadResourcesStatus) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancelled++
}

func (s *DownloadResourcesStatus) SetStopError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StopSynchronizationError == nil {
		s.StopSynchronizationError = err
	}
}

type DownloadResourcesSnapshot struct {
	Processed             int
	FailedCount           int
	FailedProcessingCount int
	Cancelled             int
}

func (s *DownloadResourcesStatus) Snapshot() DownloadResourcesSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DownloadResourcesSnapshot{
		Processed:             s.Processed,
		FailedCount:           len(s.Failed),
		FailedProcessingCount: len(s.FailedProcessing),
		Cancelled:             s.Cancelled,
	}
}
