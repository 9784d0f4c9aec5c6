package httprpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Client{baseURL: server.URL, httpClient: server.Client()}
}

func TestCreateNotebook_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/notebooks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok123" {
			t.Errorf("expected bearer token header, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"LocalID":"nb1","Guid":"server-guid","Name":"Notes"}`))
	})

	got, err := client.CreateNotebook(context.Background(), notestore.RequestContext{AuthToken: "tok123"}, model.Notebook{Name: "Notes"})
	if err != nil {
		t.Fatalf("CreateNotebook failed: %v", err)
	}
	if got.Guid != "server-guid" {
		t.Errorf("got guid %q, want server-guid", got.Guid)
	}
}

func TestDoJSON_ClassifiesNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such guid"))
	})

	_, err := client.GetResource(context.Background(), notestore.RequestContext{}, "missing-guid", false)

	pe, ok := errs.AsProtocolError(err)
	if !ok {
		t.Fatalf("expected a *errs.ProtocolError, got %v", err)
	}
	if pe.Kind != errs.KindNotFound {
		t.Errorf("got kind %s, want %s", pe.Kind, errs.KindNotFound)
	}
}

func TestDoJSON_ClassifiesDataConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := client.CreateSearch(context.Background(), notestore.RequestContext{}, model.SavedSearch{})

	pe, ok := errs.AsProtocolError(err)
	if !ok || pe.Kind != errs.KindDataConflict {
		t.Fatalf("got %v, want KindDataConflict", err)
	}
	if pe.IsFatal() {
		t.Error("data conflict must not be classified as fatal")
	}
}

func TestDoJSON_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Name":"tag"}`))
	})

	_, err := client.CreateTag(context.Background(), notestore.RequestContext{MaxRetries: 3}, model.Tag{Name: "tag"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestDoJSON_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.CreateTag(context.Background(), notestore.RequestContext{MaxRetries: 1}, model.Tag{Name: "tag"})

	pe, ok := errs.AsProtocolError(err)
	if !ok || pe.Kind != errs.KindRateLimitReached {
		t.Fatalf("got %v, want KindRateLimitReached", err)
	}
	if !pe.IsFatal() {
		t.Error("rate limit must be classified as fatal")
	}
	if calls != 2 { // the original attempt plus MaxRetries retries
		t.Errorf("expected 2 calls (1 original + 1 retry), got %d", calls)
	}
}

func TestNewFactory_RejectsEmptyURL(t *testing.T) {
	f := NewFactory(0)
	_, err := f.NewClient("")
	if err == nil {
		t.Fatal("expected an error for an empty note store url")
	}
}
