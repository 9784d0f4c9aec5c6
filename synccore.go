// Package synccore ties the synchronization subsystems together: one
// Engine per account drives a download cycle followed by a send
// cycle. The Engine does not write SyncState itself: the Downloader
// and the Sender each persist it at the end of their own cycle. There is no global
// mutable state at this level — every Engine is constructed
// explicitly by its caller, holding only the collaborators it was
// given.
package synccore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/download"
	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/send"
	"github.com/notewell/synccore/status"
	"github.com/notewell/synccore/syncstate"
)

// Report is the combined outcome of one Sync call.
type Report struct {
	Download download.Result
	Send     send.Result
}

// Engine runs one account's full sync: download then send, against a
// single shared SyncState.
type Engine struct {
	syncState syncstate.Store
	downloader *download.Downloader
	sender     *send.Sender
}

// New builds an Engine. The downloader and sender are constructed by
// the caller (see cmd/synccore-demo for the full wiring) so each can
// be given its own narrow collaborator set.
func New(syncState syncstate.Store, downloader *download.Downloader, sender *send.Sender) *Engine {
	return &Engine{syncState: syncState, downloader: downloader, sender: sender}
}

// OnDownloadProgress forwards to the Downloader.
func (e *Engine) OnDownloadProgress(cb func(status.CountersSnapshot)) {
	e.downloader.OnCountersUpdate(cb)
}

// OnSendProgress forwards to the Sender.
func (e *Engine) OnSendProgress(cb func(status.SendSnapshot)) {
	e.sender.OnProgress(cb)
}

// Sync runs exactly one download cycle followed by one send cycle for
// account. A canceled context stops whichever cycle is in flight;
// the other never starts.
func (e *Engine) Sync(ctx context.Context, account model.Account) (Report, error) {
	if !account.IsEvernoteAccount() {
		return Report{}, errs.InvalidArgument("synccore: account %q is not an Evernote account", account.Username)
	}

	downloadResult, err := e.downloader.Cycle(ctx, account)
	if err != nil {
		return Report{}, err
	}

	if err := ctx.Err(); err != nil {
		return Report{Download: downloadResult}, errs.Canceled(err)
	}

	sendResult, err := e.sender.Cycle(ctx, account)
	if err != nil {
		return Report{Download: downloadResult}, err
	}

	return Report{Download: downloadResult, Send: sendResult}, nil
}

// SyncLoop runs Sync repeatedly, waiting interval between the end of
// one cycle and the start of the next, until ctx is canceled. Each
// cycle's error is handed to onError rather than stopping the loop,
// matching the spec's framing of sync as an ongoing background
// activity that outlives any single cycle's failure.
func (e *Engine) SyncLoop(ctx context.Context, account model.Account, interval time.Duration, onError func(error)) {
	for {
		if _, err := e.Sync(ctx, account); err != nil && onError != nil {
			onError(err)
		}

		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Msg("synccore: sync loop stopped")
			return
		case <-time.After(interval):
		}
	}
}
