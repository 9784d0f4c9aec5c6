// Package pgstore is a pgx-backed reference implementation of
// localstore.Store. Each entity kind gets its own table keyed by
// (host, user_id, local_id), with the entity serialized as JSON —
// the same payload_json idiom the teacher's syncservice tables use
// for its mobile-client sync payloads.
package pgstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/localstore"
	"github.com/notewell/synccore/model"
)

// Store implements localstore.Store against a pgxpool.Pool.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Schema is the DDL for all tables this store uses. Callers run
// it once at startup (or via a migration tool); pgstore itself never
// issues DDL against a live pool.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_notebooks (
	host TEXT NOT NULL, user_id INT NOT NULL, local_id TEXT NOT NULL,
	guid TEXT NOT NULL DEFAULT '', payload_json JSONB NOT NULL,
	PRIMARY KEY (host, user_id, local_id)
);
CREATE INDEX IF NOT EXISTS sync_notebooks_guid_idx ON sync_notebooks (host, user_id, guid);

CREATE TABLE IF NOT EXISTS sync_tags (
	host TEXT NOT NULL, user_id INT NOT NULL, local_id TEXT NOT NULL,
	guid TEXT NOT NULL DEFAULT '', payload_json JSONB NOT NULL,
	PRIMARY KEY (host, user_id, local_id)
);
CREATE INDEX IF NOT EXISTS sync_tags_guid_idx ON sync_tags (host, user_id, guid);

CREATE TABLE IF NOT EXISTS sync_saved_searches (
	host TEXT NOT NULL, user_id INT NOT NULL, local_id TEXT NOT NULL,
	guid TEXT NOT NULL DEFAULT '', payload_json JSONB NOT NULL,
	PRIMARY KEY (host, user_id, local_id)
);

CREATE TABLE IF NOT EXISTS sync_linked_notebooks (
	host TEXT NOT NULL, user_id INT NOT NULL, local_id TEXT NOT NULL,
	guid TEXT NOT NULL DEFAULT '', payload_json JSONB NOT NULL,
	PRIMARY KEY (host, user_id, local_id)
);

CREATE TABLE IF NOT EXISTS sync_notes (
	host TEXT NOT NULL, user_id INT NOT NULL, local_id TEXT NOT NULL,
	guid TEXT NOT NULL DEFAULT '', notebook_local_id TEXT NOT NULL,
	locally_modified BOOLEAN NOT NULL DEFAULT FALSE,
	local_only BOOLEAN NOT NULL DEFAULT FALSE,
	payload_json JSONB NOT NULL,
	PRIMARY KEY (host, user_id, local_id)
);
CREATE INDEX IF NOT EXISTS sync_notes_guid_idx ON sync_notes (host, user_id, guid);
CREATE INDEX IF NOT EXISTS sync_notes_notebook_idx ON sync_notes (host, user_id, notebook_local_id);

CREATE TABLE IF NOT EXISTS sync_resources (
	host TEXT NOT NULL, user_id INT NOT NULL, local_id TEXT NOT NULL,
	guid TEXT NOT NULL DEFAULT '', note_local_id TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	PRIMARY KEY (host, user_id, local_id)
);
CREATE INDEX IF NOT EXISTS sync_resources_note_idx ON sync_resources (host, user_id, note_local_id);
`

func acctKeys(account model.Account) (host string, userID int32) {
	return account.EvernoteHost, account.UserID
}

// -- Notebooks --

func (s *Store) PutNotebook(ctx context.Context, account model.Account, nb model.Notebook) error {
	host, userID := acctKeys(account)
	payload, err := json.Marshal(nb)
	if err != nil {
		return errs.Runtime(err, "pgstore: marshal notebook")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_notebooks (host, user_id, local_id, guid, payload_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host, user_id, local_id) DO UPDATE SET
			guid = EXCLUDED.guid, payload_json = EXCLUDED.payload_json
	`, host, userID, nb.LocalID, nb.Guid, payload)
	if err != nil {
		return errs.Runtime(err, "pgstore: upsert notebook %s", nb.LocalID)
	}
	return nil
}

func (s *Store) FindNotebookByLocalID(ctx context.Context, account model.Account, localID string) (model.Notebook, bool, error) {
	host, userID := acctKeys(account)
	return scanOneNotebook(s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_notebooks WHERE host=$1 AND user_id=$2 AND local_id=$3`,
		host, userID, localID))
}

func (s *Store) FindNotebookByGuid(ctx context.Context, account model.Account, guid string) (model.Notebook, bool, error) {
	host, userID := acctKeys(account)
	return scanOneNotebook(s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_notebooks WHERE host=$1 AND user_id=$2 AND guid=$3`,
		host, userID, guid))
}

func scanOneNotebook(row pgx.Row) (model.Notebook, bool, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return model.Notebook{}, false, nil
		}
		return model.Notebook{}, false, errs.Runtime(err, "pgstore: scan notebook")
	}
	var nb model.Notebook
	if err := json.Unmarshal(raw, &nb); err != nil {
		return model.Notebook{}, false, errs.Runtime(err, "pgstore: unmarshal notebook")
	}
	return nb, true, nil
}

func (s *Store) ListNotebooks(ctx context.Context, account model.Account) ([]model.Notebook, error) {
	host, userID := acctKeys(account)
	rows, err := s.db.Query(ctx, `SELECT payload_json FROM sync_notebooks WHERE host=$1 AND user_id=$2`, host, userID)
	if err != nil {
		return nil, errs.Runtime(err, "pgstore: list notebooks")
	}
	defer rows.Close()

	var out []model.Notebook
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Runtime(err, "pgstore: scan notebook row")
		}
		var nb model.Notebook
		if err := json.Unmarshal(raw, &nb); err != nil {
			return nil, errs.Runtime(err, "pgstore: unmarshal notebook row")
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

func (s *Store) ExpungeNotebook(ctx context.Context, account model.Account, guid string) error {
	host, userID := acctKeys(account)
	_, err := s.db.Exec(ctx, `DELETE FROM sync_notebooks WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid)
	if err != nil {
		return errs.Runtime(err, "pgstore: expunge notebook %s", guid)
	}
	return nil
}

// -- Tags --

func (s *Store) PutTag(ctx context.Context, account model.Account, tag model.Tag) error {
	host, userID := acctKeys(account)
	payload, err := json.Marshal(tag)
	if err != nil {
		return errs.Runtime(err, "pgstore: marshal tag")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_tags (host, user_id, local_id, guid, payload_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host, user_id, local_id) DO UPDATE SET
			guid = EXCLUDED.guid, payload_json = EXCLUDED.payload_json
	`, host, userID, tag.LocalID, tag.Guid, payload)
	if err != nil {
		return errs.Runtime(err, "pgstore: upsert tag %s", tag.LocalID)
	}
	return nil
}

func (s *Store) FindTagByLocalID(ctx context.Context, account model.Account, localID string) (model.Tag, bool, error) {
	host, userID := acctKeys(account)
	return scanOneTag(s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_tags WHERE host=$1 AND user_id=$2 AND local_id=$3`, host, userID, localID))
}

func (s *Store) FindTagByGuid(ctx context.Context, account model.Account, guid string) (model.Tag, bool, error) {
	host, userID := acctKeys(account)
	return scanOneTag(s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_tags WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid))
}

func scanOneTag(row pgx.Row) (model.Tag, bool, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return model.Tag{}, false, nil
		}
		return model.Tag{}, false, errs.Runtime(err, "pgstore: scan tag")
	}
	var t model.Tag
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Tag{}, false, errs.Runtime(err, "pgstore: unmarshal tag")
	}
	return t, true, nil
}

func (s *Store) ListTags(ctx context.Context, account model.Account) ([]model.Tag, error) {
	host, userID := acctKeys(account)
	rows, err := s.db.Query(ctx, `SELECT payload_json FROM sync_tags WHERE host=$1 AND user_id=$2`, host, userID)
	if err != nil {
		return nil, errs.Runtime(err, "pgstore: list tags")
	}
	defer rows.Close()

	var out []model.Tag
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Runtime(err, "pgstore: scan tag row")
		}
		var t model.Tag
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, errs.Runtime(err, "pgstore: unmarshal tag row")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ExpungeTag(ctx context.Context, account model.Account, guid string) error {
	host, userID := acctKeys(account)
	_, err := s.db.Exec(ctx, `DELETE FROM sync_tags WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid)
	if err != nil {
		return errs.Runtime(err, "pgstore: expunge tag %s", guid)
	}
	return nil
}

// -- Saved searches --

func (s *Store) PutSavedSearch(ctx context.Context, account model.Account, ss model.SavedSearch) error {
	host, userID := acctKeys(account)
	payload, err := json.Marshal(ss)
	if err != nil {
		return errs.Runtime(err, "pgstore: marshal saved search")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_saved_searches (host, user_id, local_id, guid, payload_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host, user_id, local_id) DO UPDATE SET
			guid = EXCLUDED.guid, payload_json = EXCLUDED.payload_json
	`, host, userID, ss.LocalID, ss.Guid, payload)
	if err != nil {
		return errs.Runtime(err, "pgstore: upsert saved search %s", ss.LocalID)
	}
	return nil
}

func (s *Store) FindSavedSearchByLocalID(ctx context.Context, account model.Account, localID string) (model.SavedSearch, bool, error) {
	host, userID := acctKeys(account)
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_saved_searches WHERE host=$1 AND user_id=$2 AND local_id=$3`,
		host, userID, localID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.SavedSearch{}, false, nil
		}
		return model.SavedSearch{}, false, errs.Runtime(err, "pgstore: scan saved search")
	}
	var ss model.SavedSearch
	if err := json.Unmarshal(raw, &ss); err != nil {
		return model.SavedSearch{}, false, errs.Runtime(err, "pgstore: unmarshal saved search")
	}
	return ss, true, nil
}

func (s *Store) ListSavedSearches(ctx context.Context, account model.Account) ([]model.SavedSearch, error) {
	host, userID := acctKeys(account)
	rows, err := s.db.Query(ctx, `SELECT payload_json FROM sync_saved_searches WHERE host=$1 AND user_id=$2`, host, userID)
	if err != nil {
		return nil, errs.Runtime(err, "pgstore: list saved searches")
	}
	defer rows.Close()

	var out []model.SavedSearch
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Runtime(err, "pgstore: scan saved search row")
		}
		var ss model.SavedSearch
		if err := json.Unmarshal(raw, &ss); err != nil {
			return nil, errs.Runtime(err, "pgstore: unmarshal saved search row")
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (s *Store) ExpungeSavedSearch(ctx context.Context, account model.Account, guid string) error {
	host, userID := acctKeys(account)
	_, err := s.db.Exec(ctx, `DELETE FROM sync_saved_searches WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid)
	if err != nil {
		return errs.Runtime(err, "pgstore: expunge saved search %s", guid)
	}
	return nil
}

// -- Linked notebooks --

func (s *Store) PutLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook) error {
	host, userID := acctKeys(account)
	payload, err := json.Marshal(lnb)
	if err != nil {
		return errs.Runtime(err, "pgstore: marshal linked notebook")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_linked_notebooks (host, user_id, local_id, guid, payload_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host, user_id, local_id) DO UPDATE SET
			guid = EXCLUDED.guid, payload_json = EXCLUDED.payload_json
	`, host, userID, lnb.LocalID, lnb.Guid, payload)
	if err != nil {
		return errs.Runtime(err, "pgstore: upsert linked notebook %s", lnb.LocalID)
	}
	return nil
}

func (s *Store) ListLinkedNotebooks(ctx context.Context, account model.Account) ([]model.LinkedNotebook, error) {
	host, userID := acctKeys(account)
	rows, err := s.db.Query(ctx, `SELECT payload_json FROM sync_linked_notebooks WHERE host=$1 AND user_id=$2`, host, userID)
	if err != nil {
		return nil, errs.Runtime(err, "pgstore: list linked notebooks")
	}
	defer rows.Close()

	var out []model.LinkedNotebook
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Runtime(err, "pgstore: scan linked notebook row")
		}
		var lnb model.LinkedNotebook
		if err := json.Unmarshal(raw, &lnb); err != nil {
			return nil, errs.Runtime(err, "pgstore: unmarshal linked notebook row")
		}
		out = append(out, lnb)
	}
	return out, rows.Err()
}

func (s *Store) ExpungeLinkedNotebook(ctx context.Context, account model.Account, guid string) error {
	host, userID := acctKeys(account)
	_, err := s.db.Exec(ctx, `DELETE FROM sync_linked_notebooks WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid)
	if err != nil {
		return errs.Runtime(err, "pgstore: expunge linked notebook %s", guid)
	}
	return nil
}

func (s *Store) LinkedNotebookGuidForNotebookLocalID(ctx context.Context, account model.Account, notebookLocalID string) (string, bool, error) {
	nb, ok, err := s.FindNotebookByLocalID(ctx, account, notebookLocalID)
	if err != nil || !ok || nb.LinkedNotebook == nil {
		return "", false, err
	}
	return *nb.LinkedNotebook, true, nil
}

func (s *Store) LinkedNotebookGuidForNotebookGuid(ctx context.Context, account model.Account, notebookGuid string) (string, bool, error) {
	nb, ok, err := s.FindNotebookByGuid(ctx, account, notebookGuid)
	if err != nil || !ok || nb.LinkedNotebook == nil {
		return "", false, err
	}
	return *nb.LinkedNotebook, true, nil
}

// LinkedNotebookGuidForNoteLocalID resolves via the note's notebook.
func (s *Store) LinkedNotebookGuidForNoteLocalID(ctx context.Context, account model.Account, noteLocalID string) (string, bool, error) {
	note, ok, err := s.FindNoteByLocalID(ctx, account, noteLocalID)
	if err != nil || !ok {
		return "", false, err
	}
	return s.LinkedNotebookGuidForNotebookLocalID(ctx, account, note.NotebookLocalID)
}

func (s *Store) LinkedNotebookGuidForNoteGuid(ctx context.Context, account model.Account, noteGuid string) (string, bool, error) {
	note, ok, err := s.FindNoteByGuid(ctx, account, noteGuid)
	if err != nil || !ok {
		return "", false, err
	}
	return s.LinkedNotebookGuidForNotebookLocalID(ctx, account, note.NotebookLocalID)
}

// -- Notes --

func (s *Store) PutNote(ctx context.Context, account model.Account, note model.Note) error {
	host, userID := acctKeys(account)
	payload, err := json.Marshal(note)
	if err != nil {
		return errs.Runtime(err, "pgstore: marshal note")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_notes (host, user_id, local_id, guid, notebook_local_id, locally_modified, local_only, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (host, user_id, local_id) DO UPDATE SET
			guid = EXCLUDED.guid, notebook_local_id = EXCLUDED.notebook_local_id,
			locally_modified = EXCLUDED.locally_modified, local_only = EXCLUDED.local_only,
			payload_json = EXCLUDED.payload_json
	`, host, userID, note.LocalID, note.Guid, note.NotebookLocalID, note.LocallyModified, note.LocalOnly, payload)
	if err != nil {
		return errs.Runtime(err, "pgstore: upsert note %s", note.LocalID)
	}
	return nil
}

func (s *Store) FindNoteByLocalID(ctx context.Context, account model.Account, localID string, fetch ...localstore.NoteFetchOption) (model.Note, bool, error) {
	host, userID := acctKeys(account)
	note, ok, err := scanOneNote(s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_notes WHERE host=$1 AND user_id=$2 AND local_id=$3`, host, userID, localID))
	if err != nil || !ok {
		return note, ok, err
	}
	return s.attachResources(ctx, account, note, fetch)
}

func (s *Store) FindNoteByGuid(ctx context.Context, account model.Account, guid string, fetch ...localstore.NoteFetchOption) (model.Note, bool, error) {
	host, userID := acctKeys(account)
	note, ok, err := scanOneNote(s.db.QueryRow(ctx,
		`SELECT payload_json FROM sync_notes WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid))
	if err != nil || !ok {
		return note, ok, err
	}
	return s.attachResources(ctx, account, note, fetch)
}

func scanOneNote(row pgx.Row) (model.Note, bool, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return model.Note{}, false, nil
		}
		return model.Note{}, false, errs.Runtime(err, "pgstore: scan note")
	}
	var n model.Note
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.Note{}, false, errs.Runtime(err, "pgstore: unmarshal note")
	}
	return n, true, nil
}

func hasFetchOption(opts []localstore.NoteFetchOption, want localstore.NoteFetchOption) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

func (s *Store) attachResources(ctx context.Context, account model.Account, note model.Note, fetch []localstore.NoteFetchOption) (model.Note, bool, error) {
	if !hasFetchOption(fetch, localstore.WithResourceMetadata) && !hasFetchOption(fetch, localstore.WithResourceBinaryData) {
		return note, true, nil
	}
	resources, err := s.ListResourcesForNote(ctx, account, note.LocalID)
	if err != nil {
		return note, true, err
	}
	if !hasFetchOption(fetch, localstore.WithResourceBinaryData) {
		for i := range resources {
			resources[i].Data = nil
		}
	}
	note.ResourceLocalIDs = nil
	for _, r := range resources {
		note.ResourceLocalIDs = append(note.ResourceLocalIDs, r.LocalID)
	}
	return note, true, nil
}

func (s *Store) ListNotes(ctx context.Context, account model.Account, opts localstore.ListNotesOptions) ([]model.Note, error) {
	host, userID := acctKeys(account)
	query := `SELECT payload_json FROM sync_notes WHERE host=$1 AND user_id=$2`
	args := []any{host, userID}

	if opts.LocallyModifiedOnly {
		query += ` AND locally_modified = TRUE`
	}
	if opts.ExcludeLocalOnly {
		query += ` AND local_only = FALSE`
	}
	if opts.NotebookLocalID != "" {
		args = append(args, opts.NotebookLocalID)
		query += ` AND notebook_local_id = $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Runtime(err, "pgstore: list notes")
	}
	defer rows.Close()

	var out []model.Note
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Runtime(err, "pgstore: scan note row")
		}
		var n model.Note
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, errs.Runtime(err, "pgstore: unmarshal note row")
		}
		n, _, err = s.attachResources(ctx, account, n, opts.Fetch)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ExpungeNote(ctx context.Context, account model.Account, guid string) error {
	host, userID := acctKeys(account)
	_, err := s.db.Exec(ctx, `DELETE FROM sync_notes WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid)
	if err != nil {
		return errs.Runtime(err, "pgstore: expunge note %s", guid)
	}
	return nil
}

// -- Resources --

func (s *Store) PutResource(ctx context.Context, account model.Account, r model.Resource) error {
	host, userID := acctKeys(account)
	payload, err := json.Marshal(r)
	if err != nil {
		return errs.Runtime(err, "pgstore: marshal resource")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_resources (host, user_id, local_id, guid, note_local_id, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (host, user_id, local_id) DO UPDATE SET
			guid = EXCLUDED.guid, note_local_id = EXCLUDED.note_local_id, payload_json = EXCLUDED.payload_json
	`, host, userID, r.LocalID, r.Guid, r.NoteLocalID, payload)
	if err != nil {
		return errs.Runtime(err, "pgstore: upsert resource %s", r.LocalID)
	}
	return nil
}

func (s *Store) ListResourcesForNote(ctx context.Context, account model.Account, noteLocalID string) ([]model.Resource, error) {
	host, userID := acctKeys(account)
	rows, err := s.db.Query(ctx,
		`SELECT payload_json FROM sync_resources WHERE host=$1 AND user_id=$2 AND note_local_id=$3`,
		host, userID, noteLocalID)
	if err != nil {
		return nil, errs.Runtime(err, "pgstore: list resources for note %s", noteLocalID)
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Runtime(err, "pgstore: scan resource row")
		}
		var r model.Resource
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, errs.Runtime(err, "pgstore: unmarshal resource row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ExpungeResource(ctx context.Context, account model.Account, guid string) error {
	host, userID := acctKeys(account)
	_, err := s.db.Exec(ctx, `DELETE FROM sync_resources WHERE host=$1 AND user_id=$2 AND guid=$3`, host, userID, guid)
	if err != nil {
		return errs.Runtime(err, "pgstore: expunge resource %s", guid)
	}
	return nil
}
