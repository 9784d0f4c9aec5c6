// Package localstore defines the transactional persistence contract
// the Downloader writes into and the Sender reads from. pgstore
// provides a pgx-backed reference implementation; boltstore could
// equally host one for an embedded deployment.
package localstore

import (
	"context"

	"github.com/notewell/synccore/model"
)

// NoteFetchOption controls how much of a note FindNoteByLocalID,
// FindNoteByGuid and ListNotes (through ListNotesOptions.Fetch)
// return, since resource binary data can be large.
type NoteFetchOption int

const (
	WithResourceMetadata NoteFetchOption = iota
	WithResourceBinaryData
)

// ListNotesOptions filters the notes returned by ListNotes.
type ListNotesOptions struct {
	LocallyModifiedOnly bool
	ExcludeLocalOnly    bool
	NotebookLocalID     string // empty means all notebooks
	Fetch               []NoteFetchOption
}

// Store is the per-account local persistence surface. Every mutating
// method commits atomically with respect to its own call; the
// Downloader and Sender never require cross-call transactions.
type Store interface {
	// Notebooks
	PutNotebook(ctx context.Context, account model.Account, nb model.Notebook) error
	FindNotebookByLocalID(ctx context.Context, account model.Account, localID string) (model.Notebook, bool, error)
	FindNotebookByGuid(ctx context.Context, account model.Account, guid string) (model.Notebook, bool, error)
	ListNotebooks(ctx context.Context, account model.Account) ([]model.Notebook, error)
	ExpungeNotebook(ctx context.Context, account model.Account, guid string) error

	// Tags
	PutTag(ctx context.Context, account model.Account, tag model.Tag) error
	FindTagByLocalID(ctx context.Context, account model.Account, localID string) (model.Tag, bool, error)
	FindTagByGuid(ctx context.Context, account model.Account, guid string) (model.Tag, bool, error)
	ListTags(ctx context.Context, account model.Account) ([]model.Tag, error)
	ExpungeTag(ctx context.Context, account model.Account, guid string) error

	// Saved searches
	PutSavedSearch(ctx context.Context, account model.Account, s model.SavedSearch) error
	FindSavedSearchByLocalID(ctx context.Context, account model.Account, localID string) (model.SavedSearch, bool, error)
	ListSavedSearches(ctx context.Context, account model.Account) ([]model.SavedSearch, error)
	ExpungeSavedSearch(ctx context.Context, account model.Account, guid string) error

	// Linked notebooks
	PutLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook) error
	ListLinkedNotebooks(ctx context.Context, account model.Account) ([]model.LinkedNotebook, error)
	ExpungeLinkedNotebook(ctx context.Context, account model.Account, guid string) error

	// Notes
	PutNote(ctx context.Context, account model.Account, note model.Note) error
	FindNoteByLocalID(ctx context.Context, account model.Account, localID string, fetch ...NoteFetchOption) (model.Note, bool, error)
	FindNoteByGuid(ctx context.Context, account model.Account, guid string, fetch ...NoteFetchOption) (model.Note, bool, error)
	ListNotes(ctx context.Context, account model.Account, opts ListNotesOptions) ([]model.Note, error)
	ExpungeNote(ctx context.Context, account model.Account, guid string) error

	// Resources
	PutResource(ctx context.Context, account model.Account, r model.Resource) error
	ListResourcesForNote(ctx context.Context, account model.Account, noteLocalID string) ([]model.Resource, error)
	ExpungeResource(ctx context.Context, account model.Account, guid string) error

	// LinkedNotebookFinder support: resolve whether a notebook belongs
	// to a linked notebook, needed by NoteStoreProvider's routing.
	LinkedNotebookGuidForNotebookLocalID(ctx context.Context, account model.Account, notebookLocalID string) (guid string, ok bool, err error)
	LinkedNotebookGuidForNotebookGuid(ctx context.Context, account model.Account, notebookGuid string) (guid string, ok bool, err error)
}
