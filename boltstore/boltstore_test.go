package boltstore

import (
	"context"
	"testing"
	"time"

	"github.com/notewell/synccore/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSecrets_SetGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = found=%v, err=%v", found, err)
	}

	if err := s.Set(ctx, "auth-token", "secret-value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, found, err := s.Get(ctx, "auth-token")
	if err != nil || !found || v != "secret-value" {
		t.Fatalf("Get = %q, found=%v, err=%v", v, found, err)
	}

	if err := s.Delete(ctx, "auth-token"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := s.Get(ctx, "auth-token"); found {
		t.Error("expected the key to be gone after Delete")
	}
}

func TestSettings_DeletePrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	settings := s.Settings()

	for _, kv := range []struct{ k, v string }{
		{"user/1/shard", "s1"},
		{"user/1/host", "www.evernote.com"},
		{"user/2/shard", "s2"},
	} {
		if err := settings.Set(ctx, kv.k, kv.v); err != nil {
			t.Fatalf("Set(%s) failed: %v", kv.k, err)
		}
	}

	if err := settings.DeletePrefix(ctx, "user/1/"); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	if _, found, _ := settings.Get(ctx, "user/1/shard"); found {
		t.Error("expected user/1/shard to be deleted")
	}
	if _, found, _ := settings.Get(ctx, "user/1/host"); found {
		t.Error("expected user/1/host to be deleted")
	}
	if v, found, _ := settings.Get(ctx, "user/2/shard"); !found || v != "s2" {
		t.Errorf("expected user/2/shard to survive the prefix delete, got %q found=%v", v, found)
	}
}

func TestSyncState_RoundTripsLinkedNotebookCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	store := s.SyncState()
	account := model.Account{EvernoteHost: "www.evernote.com", UserID: 7}

	initial, err := store.Get(ctx, account)
	if err != nil {
		t.Fatalf("Get on empty store failed: %v", err)
	}
	if initial.UserDataUpdateCount != 0 || !initial.UserDataLastSyncTime.IsZero() {
		t.Errorf("expected a zero sync state for an unseen account, got %+v", initial)
	}

	state := model.ZeroSyncState()
	state.UserDataUpdateCount = 42
	state.UserDataLastSyncTime = time.UnixMilli(1700000000000)
	state.LinkedNotebookUpdateCounts["lnb-1"] = 9
	state.LinkedNotebookLastSync["lnb-1"] = time.UnixMilli(1700000001000)

	if err := store.Set(ctx, account, state); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, account)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserDataUpdateCount != 42 {
		t.Errorf("UserDataUpdateCount = %d, want 42", got.UserDataUpdateCount)
	}
	if !got.UserDataLastSyncTime.Equal(state.UserDataLastSyncTime) {
		t.Errorf("UserDataLastSyncTime = %v, want %v", got.UserDataLastSyncTime, state.UserDataLastSyncTime)
	}
	if got.LinkedNotebookUpdateCounts["lnb-1"] != 9 {
		t.Errorf("LinkedNotebookUpdateCounts[lnb-1] = %d, want 9", got.LinkedNotebookUpdateCounts["lnb-1"])
	}
	if !got.LinkedNotebookLastSync["lnb-1"].Equal(state.LinkedNotebookLastSync["lnb-1"]) {
		t.Errorf("LinkedNotebookLastSync[lnb-1] = %v, want %v", got.LinkedNotebookLastSync["lnb-1"], state.LinkedNotebookLastSync["lnb-1"])
	}
}

func TestSyncState_DistinctAccountsDoNotCollide(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	store := s.SyncState()

	a1 := model.Account{EvernoteHost: "www.evernote.com", UserID: 1}
	a2 := model.Account{EvernoteHost: "www.evernote.com", UserID: 2}

	s1 := model.ZeroSyncState()
	s1.UserDataUpdateCount = 10
	if err := store.Set(ctx, a1, s1); err != nil {
		t.Fatalf("Set(a1) failed: %v", err)
	}

	got2, err := store.Get(ctx, a2)
	if err != nil {
		t.Fatalf("Get(a2) failed: %v", err)
	}
	if got2.UserDataUpdateCount != 0 {
		t.Errorf("expected account 2 to be unaffected by account 1's state, got %+v", got2)
	}
}

func TestSyncState_WatchNotifiesOnSet(t *testing.T) {
	s := openTestStore(t)
	store := s.SyncState()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := store.Watch(ctx)
	account := model.Account{EvernoteHost: "www.evernote.com", UserID: 1}

	if err := store.Set(context.Background(), account, model.ZeroSyncState()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.UserID != account.UserID {
			t.Errorf("notified account = %+v, want %+v", got, account)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a watch notification")
	}
}
