package localstore

import (
	"context"

	"github.com/notewell/synccore/model"
)

// Maintenance implements download.StaleDataExpunger and
// download.LinkedNotebookTagsCleaner purely in terms of Store, so any
// Store backend gets both for free without widening its own
// interface.
type Maintenance struct {
	store Store
}

func NewMaintenance(store Store) *Maintenance {
	return &Maintenance{store: store}
}

// ExpungeStaleData removes every notebook (and its notes/resources)
// for scope that is no longer present on the server, identified by
// not being in preservedGuids. scope is "user-own" or
// "linked:<guid>"; only notebooks belonging to that scope are
// considered.
func (m *Maintenance) ExpungeStaleData(ctx context.Context, account model.Account, preservedGuids []string, scope string) error {
	preserved := make(map[string]bool, len(preservedGuids))
	for _, g := range preservedGuids {
		preserved[g] = true
	}

	notebooks, err := m.store.ListNotebooks(ctx, account)
	if err != nil {
		return err
	}

	for _, nb := range notebooks {
		if !nb.HasGuid() || preserved[nb.Guid] {
			continue
		}
		if !notebookInScope(nb, scope) {
			continue
		}
		if err := m.expungeNotebookAndChildren(ctx, account, nb.Guid); err != nil {
			return err
		}
	}
	return nil
}

func notebookInScope(nb model.Notebook, scope string) bool {
	if scope == "user-own" {
		return nb.LinkedNotebook == nil || *nb.LinkedNotebook == ""
	}
	guid := scope
	if len(scope) > len("linked:") && scope[:len("linked:")] == "linked:" {
		guid = scope[len("linked:"):]
	}
	return nb.LinkedNotebook != nil && *nb.LinkedNotebook == guid
}

func (m *Maintenance) expungeNotebookAndChildren(ctx context.Context, account model.Account, notebookGuid string) error {
	notes, err := m.store.ListNotes(ctx, account, ListNotesOptions{})
	if err != nil {
		return err
	}
	for _, n := range notes {
		if n.NotebookGuid != notebookGuid {
			continue
		}
		resources, err := m.store.ListResourcesForNote(ctx, account, n.LocalID)
		if err == nil {
			for _, r := range resources {
				if r.HasGuid() {
					_ = m.store.ExpungeResource(ctx, account, r.Guid)
				}
			}
		}
		if n.HasGuid() {
			_ = m.store.ExpungeNote(ctx, account, n.Guid)
		}
	}
	return m.store.ExpungeNotebook(ctx, account, notebookGuid)
}

// CleanStaleLinkedNotebookTags removes tags scoped to a linked
// notebook once that linked notebook itself is gone, preventing
// orphaned tag records from accumulating across repeated
// revocation/re-share cycles.
func (m *Maintenance) CleanStaleLinkedNotebookTags(ctx context.Context, account model.Account) error {
	linked, err := m.store.ListLinkedNotebooks(ctx, account)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(linked))
	for _, lnb := range linked {
		if lnb.HasGuid() {
			live[lnb.Guid] = true
		}
	}

	tags, err := m.store.ListTags(ctx, account)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if t.LinkedNotebookGuid == nil || *t.LinkedNotebookGuid == "" {
			continue
		}
		if live[*t.LinkedNotebookGuid] {
			continue
		}
		if t.HasGuid() {
			_ = m.store.ExpungeTag(ctx, account, t.Guid)
		}
	}
	return nil
}
