package status

import "weak"

// ProgressCallback is invoked with a read-only snapshot of the
// counters for the scope currently syncing. The Downloader and Sender
// store a registered callback as a plain function value, so whatever
// it references stays alive while it is registered; only
// WeakProgressObserver holds its callback weakly.
type ProgressCallback func(CountersSnapshot)

// SendProgressCallback is the Sender equivalent of ProgressCallback.
type SendProgressCallback func(SendSnapshot)

// WeakProgressObserver holds a weak.Pointer to a callback, so that
// holding the observer does not by itself keep the callback alive.
// Go has no equivalent of a Qt QPointer or a C++ weak_ptr callable;
// weak.Pointer (package weak, added in Go 1.24) is the closest
// primitive. The Downloader and Sender do not wrap callbacks in this
// type themselves; they hold whatever plain closure is registered.
type WeakProgressObserver struct {
	ptr weak.Pointer[ProgressCallback]
}

// NewWeakProgressObserver wraps cb. The caller retains ownership of
// cb's backing value; once nothing else references it, the observer
// silently stops firing.
func NewWeakProgressObserver(cb *ProgressCallback) WeakProgressObserver {
	return WeakProgressObserver{ptr: weak.Make(cb)}
}

// Fire calls the wrapped callback if it is still alive, and reports
// whether it was.
func (o WeakProgressObserver) Fire(snap CountersSnapshot) bool {
	cb := o.ptr.Value()
	if cb == nil {
		return false
	}
	(*cb)(snap)
	return true
}

// WeakSendProgressObserver is the SendProgressCallback counterpart of
// WeakProgressObserver.
type WeakSendProgressObserver struct {
	ptr weak.Pointer[SendProgressCallback]
}

func NewWeakSendProgressObserver(cb *SendProgressCallback) WeakSendProgressObserver {
	return WeakSendProgressObserver{ptr: weak.Make(cb)}
}

func (o WeakSendProgressObserver) Fire(snap SendSnapshot) bool {
	cb := o.ptr.Value()
	if cb == nil {
		return false
	}
	(*cb)(snap)
	return true
}
