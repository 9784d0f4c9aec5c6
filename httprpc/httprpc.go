// Package httprpc is a reference notestore.RPCClient backed by
// net/http with JSON payloads, grounded on the teacher's retry-aware
// HTTP client idiom: correlation ids, a bounded retry loop driven by
// status code, and Retry-After-aware backoff — reimplemented here
// with cenkalti/backoff's exponential policy instead of a hand-rolled
// doubling loop.
package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
)

// Client is a notestore.RPCClient over a plain HTTP+JSON transport.
// It is "reference" in the sense the spec uses the term: it shows one
// way to implement the RPCClient contract, not the production
// Evernote thrift transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Factory builds Client instances, one per note store URL, satisfying
// notestore.Factory.
type Factory struct {
	httpClient *http.Client
}

func NewFactory(timeout time.Duration) *Factory {
	return &Factory{httpClient: &http.Client{Timeout: timeout}}
}

func (f *Factory) NewClient(noteStoreURL string) (notestore.RPCClient, error) {
	if noteStoreURL == "" {
		return nil, errs.InvalidArgument("httprpc: empty note store url")
	}
	return &Client{baseURL: noteStoreURL, httpClient: f.httpClient}, nil
}

// doJSON issues one request/response JSON round trip with retry on
// 429 only, classifying terminal failures into errs.ProtocolError; a
// 401 is returned without retry.
func (c *Client) doJSON(ctx context.Context, rc notestore.RequestContext, method, path string, reqBody, respBody any) error {
	correlationID := uuid.New().String()
	logger := log.Ctx(ctx).With().Str("correlation_id", correlationID).Str("path", path).Logger()

	maxRetries := rc.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	if !rc.ExponentialBackoff {
		bo.Multiplier = 1
	}

	var attempt int
	for {
		err := c.doOnce(ctx, rc, method, path, reqBody, respBody, correlationID)
		if err == nil {
			return nil
		}

		pe, isProtocol := errs.AsProtocolError(err)
		retryable := isProtocol && (pe.Kind == errs.KindRateLimitReached)
		if !retryable || attempt >= maxRetries {
			return err
		}

		wait := bo.NextBackOff()
		if pe.RetryAfterSeconds > 0 {
			wait = time.Duration(pe.RetryAfterSeconds) * time.Second
		}
		logger.Warn().Int("attempt", attempt).Dur("wait", wait).Msg("httprpc: rate limited, backing off")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errs.Canceled(ctx.Err())
		}
		attempt++
	}
}

func (c *Client) doOnce(ctx context.Context, rc notestore.RequestContext, method, path string, reqBody, respBody any, correlationID string) error {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return errs.Runtime(err, "httprpc: marshal request body")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return errs.Runtime(err, "httprpc: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if rc.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rc.AuthToken)
	}
	for _, ck := range rc.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Runtime(err, "httprpc: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if respBody == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return errs.Runtime(err, "httprpc: decode response body")
		}
		return nil
	}

	return classifyError(resp)
}

func classifyError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		seconds := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &errs.ProtocolError{Kind: errs.KindRateLimitReached, RetryAfterSeconds: seconds, Message: string(body)}
	case http.StatusUnauthorized:
		return &errs.ProtocolError{Kind: errs.KindAuthExpired, Message: string(body)}
	case http.StatusNotFound:
		return &errs.ProtocolError{Kind: errs.KindNotFound, Message: string(body)}
	case http.StatusConflict:
		return &errs.ProtocolError{Kind: errs.KindDataConflict, Message: string(body)}
	case http.StatusForbidden:
		return &errs.ProtocolError{Kind: errs.KindPermissionDenied, Message: string(body)}
	case http.StatusPaymentRequired:
		return &errs.ProtocolError{Kind: errs.KindQuotaReached, Message: string(body)}
	case http.StatusUnprocessableEntity:
		return &errs.ProtocolError{Kind: errs.KindEnmlValidation, Message: string(body)}
	case http.StatusBadRequest:
		return &errs.ProtocolError{Kind: errs.KindBadDataFormat, Message: string(body)}
	default:
		return &errs.ProtocolError{Kind: errs.KindUnknown, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}
}

func parseRetryAfter(value string) int {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return seconds
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}

// -- notestore.RPCClient --

func (c *Client) CreateNotebook(ctx context.Context, rc notestore.RequestContext, nb model.Notebook) (model.Notebook, error) {
	var out model.Notebook
	err := c.doJSON(ctx, rc, http.MethodPost, "/notebooks", nb, &out)
	return out, err
}

func (c *Client) UpdateNotebook(ctx context.Context, rc notestore.RequestContext, nb model.Notebook) (model.Notebook, error) {
	var out model.Notebook
	err := c.doJSON(ctx, rc, http.MethodPut, "/notebooks/"+nb.Guid, nb, &out)
	return out, err
}

func (c *Client) CreateTag(ctx context.Context, rc notestore.RequestContext, tag model.Tag) (model.Tag, error) {
	var out model.Tag
	err := c.doJSON(ctx, rc, http.MethodPost, "/tags", tag, &out)
	return out, err
}

func (c *Client) UpdateTag(ctx context.Context, rc notestore.RequestContext, tag model.Tag) (model.Tag, error) {
	var out model.Tag
	err := c.doJSON(ctx, rc, http.MethodPut, "/tags/"+tag.Guid, tag, &out)
	return out, err
}

type noteEnvelope struct {
	Note      model.Note       `json:"note"`
	Resources []model.Resource `json:"resources"`
}

func (c *Client) CreateNote(ctx context.Context, rc notestore.RequestContext, note model.Note, resources []model.Resource) (model.Note, []model.Resource, error) {
	var out noteEnvelope
	err := c.doJSON(ctx, rc, http.MethodPost, "/notes", noteEnvelope{Note: note, Resources: resources}, &out)
	return out.Note, out.Resources, err
}

func (c *Client) UpdateNote(ctx context.Context, rc notestore.RequestContext, note model.Note, resources []model.Resource) (model.Note, []model.Resource, error) {
	var out noteEnvelope
	err := c.doJSON(ctx, rc, http.MethodPut, "/notes/"+note.Guid, noteEnvelope{Note: note, Resources: resources}, &out)
	return out.Note, out.Resources, err
}

func (c *Client) CreateSearch(ctx context.Context, rc notestore.RequestContext, s model.SavedSearch) (model.SavedSearch, error) {
	var out model.SavedSearch
	err := c.doJSON(ctx, rc, http.MethodPost, "/searches", s, &out)
	return out, err
}

func (c *Client) UpdateSearch(ctx context.Context, rc notestore.RequestContext, s model.SavedSearch) (model.SavedSearch, error) {
	var out model.SavedSearch
	err := c.doJSON(ctx, rc, http.MethodPut, "/searches/"+s.Guid, s, &out)
	return out, err
}

func (c *Client) GetSyncState(ctx context.Context, rc notestore.RequestContext) (notestore.SyncState, error) {
	var out notestore.SyncState
	err := c.doJSON(ctx, rc, http.MethodGet, "/sync/state", nil, &out)
	return out, err
}

func (c *Client) GetFilteredSyncChunk(ctx context.Context, rc notestore.RequestContext, afterUSN, maxEntries int32) (model.SyncChunk, error) {
	var out model.SyncChunk
	path := fmt.Sprintf("/sync/chunk?after=%d&max=%d", afterUSN, maxEntries)
	err := c.doJSON(ctx, rc, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetLinkedNotebookSyncState(ctx context.Context, rc notestore.RequestContext, linkedNotebookGuid string) (notestore.SyncState, error) {
	var out notestore.SyncState
	err := c.doJSON(ctx, rc, http.MethodGet, "/sync/linked/"+linkedNotebookGuid+"/state", nil, &out)
	return out, err
}

func (c *Client) GetLinkedNotebookSyncChunk(ctx context.Context, rc notestore.RequestContext, linkedNotebookGuid string, afterUSN, maxEntries int32) (model.SyncChunk, error) {
	var out model.SyncChunk
	path := fmt.Sprintf("/sync/linked/%s/chunk?after=%d&max=%d", linkedNotebookGuid, afterUSN, maxEntries)
	err := c.doJSON(ctx, rc, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetNoteWithResultSpec(ctx context.Context, rc notestore.RequestContext, guid string, withResourceMetadata, withResourceBinaryData bool) (model.Note, []model.Resource, error) {
	var out noteEnvelope
	path := fmt.Sprintf("/notes/%s?meta=%t&binary=%t", guid, withResourceMetadata, withResourceBinaryData)
	err := c.doJSON(ctx, rc, http.MethodGet, path, nil, &out)
	return out.Note, out.Resources, err
}

func (c *Client) GetResource(ctx context.Context, rc notestore.RequestContext, guid string, withBinaryData bool) (model.Resource, error) {
	var out model.Resource
	path := fmt.Sprintf("/resources/%s?binary=%t", guid, withBinaryData)
	err := c.doJSON(ctx, rc, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) AuthenticateToSharedNotebook(ctx context.Context, rc notestore.RequestContext, sharedNotebookGlobalID string) (notestore.SharedNotebookAuthResult, error) {
	var out notestore.SharedNotebookAuthResult
	path := "/shared-notebooks/" + sharedNotebookGlobalID + "/authenticate"
	err := c.doJSON(ctx, rc, http.MethodPost, path, nil, &out)
	return out, err
}
