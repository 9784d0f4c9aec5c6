// Package authprovider implements AuthenticationProvider: it produces
// a valid model.AuthenticationInfo for the user's own account and for
// each linked notebook, backed by an in-memory cache, the settings
// store for non-secret fields, and the secret store for tokens.
package authprovider

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/secretstore"
	"github.com/notewell/synccore/settingsstore"
)

// Mode selects whether authentication may be served from cache.
type Mode int

const (
	Cache Mode = iota
	NoCache
)

// aboutToExpireWindow is fixed by the spec at 30 minutes for every
// token-selection decision in this package.
const aboutToExpireWindow = 30 * time.Minute

// Authenticator drives the interactive OAuth handshake. Implementations
// talk to whatever UI or device flow the host application provides;
// jwtauth offers a reference implementation for a headless client.
type Authenticator interface {
	AuthenticateNewAccount(ctx context.Context) (model.Account, model.AuthenticationInfo, error)
	AuthenticateAccount(ctx context.Context, account model.Account) (model.AuthenticationInfo, error)
}

// SharedNotebookAuthenticator issues authenticate_to_shared_notebook
// calls against a linked notebook's own note store, using the user's
// cached own token as bearer credential. NoteStoreProvider satisfies
// the client-resolution half of this; authprovider only needs the one
// RPC, so it takes a narrow function type instead of the whole
// notestore.RPCClient surface.
type SharedNotebookAuthenticator func(ctx context.Context, linkedNotebook model.LinkedNotebook, ownToken string) (model.AuthenticationInfo, error)

// ClearSelector picks which caches ClearCaches drops.
type ClearSelector struct {
	All              bool
	AllUsers         bool
	AllLinkedNotebooks bool
	UserID           int32 // used when no All flag and no LinkedNotebookGuid is set; 0 means the passed account's user
	LinkedNotebookGuid string
}

var cookiePattern = regexp.MustCompile(`^web.*PreUserGuid$`)

type userCacheEntry struct {
	account model.Account
	info    model.AuthenticationInfo
}

type linkedCacheEntry struct {
	account model.Account
	info    model.LinkedNotebookAuthInfo
}

// Provider is the AuthenticationProvider implementation. It owns two
// reader/writer-locked caches, exactly as described in the spec's
// concurrency model: reads take the read lock, population and
// invalidation take the write lock.
type Provider struct {
	appName string

	secrets  secretstore.Store
	settings settingsstore.Store
	authn    Authenticator
	sharedNB SharedNotebookAuthenticator

	userMu    sync.RWMutex
	userCache map[int32]userCacheEntry

	linkedMu    sync.RWMutex
	linkedCache map[string]linkedCacheEntry
}

func New(appName string, secrets secretstore.Store, settings settingsstore.Store, authn Authenticator, sharedNB SharedNotebookAuthenticator) *Provider {
	return &Provider{
		appName:     appName,
		secrets:     secrets,
		settings:    settings,
		authn:       authn,
		sharedNB:    sharedNB,
		userCache:   make(map[int32]userCacheEntry),
		linkedCache: make(map[string]linkedCacheEntry),
	}
}

func aboutToExpire(t time.Time, now time.Time) bool {
	return t.Sub(now) < aboutToExpireWindow
}

func settingsPrefix(host string, userID int32) string {
	return "Authentication/" + host + "/" + int32key(userID) + "/"
}

// AuthenticateNewAccount drives the interactive OAuth handshake and
// persists the result. Persistence failures never fail the call.
func (p *Provider) AuthenticateNewAccount(ctx context.Context) (model.Account, model.AuthenticationInfo, error) {
	account, info, err := p.authn.AuthenticateNewAccount(ctx)
	if err != nil {
		return model.Account{}, model.AuthenticationInfo{}, errs.Runtime(err, "authprovider: interactive authentication failed")
	}

	p.persistUserInfo(ctx, account, info)
	p.cacheUser(account, info)
	return account, info, nil
}

// AuthenticateAccount honors the Cache/NoCache policy: Cache serves a
// cached token while it has more than its expiry window left, NoCache
// always re-authenticates.
func (p *Provider) AuthenticateAccount(ctx context.Context, account model.Account, mode Mode) (model.AuthenticationInfo, error) {
	if !account.IsEvernoteAccount() {
		return model.AuthenticationInfo{}, errs.InvalidArgument("authprovider: account %q is not an Evernote account", account.Username)
	}

	now := time.Now()

	if mode == Cache {
		p.userMu.RLock()
		entry, ok := p.userCache[account.UserID]
		p.userMu.RUnlock()
		if ok && !aboutToExpire(entry.info.TokenExpirationTime, now) {
			return entry.info, nil
		}

		if info, ok, err := p.readUserFromSettingsAndSecrets(ctx, account, now); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("authprovider: settings/secret read failed, falling back to interactive auth")
		} else if ok {
			p.cacheUser(account, info)
			return info, nil
		}
	}

	info, err := p.authn.AuthenticateAccount(ctx, account)
	if err != nil {
		return model.AuthenticationInfo{}, errs.Runtime(err, "authprovider: interactive re-authentication failed")
	}
	p.persistUserInfo(ctx, account, info)
	p.cacheUser(account, info)
	return info, nil
}

// readUserFromSettingsAndSecrets reads the non-secret fields first; on
// a miss or an about-to-expire result it returns ok=false so the
// caller falls through to NoCache. On a hit it reads auth_token and
// shard_id concurrently from the secret store.
func (p *Provider) readUserFromSettingsAndSecrets(ctx context.Context, account model.Account, now time.Time) (model.AuthenticationInfo, bool, error) {
	prefix := settingsPrefix(account.EvernoteHost, account.UserID)

	noteStoreURL, ok, err := p.settings.Get(ctx, prefix+"NoteStoreUrl")
	if err != nil || !ok {
		return model.AuthenticationInfo{}, false, err
	}
	webAPIPrefix, _, err := p.settings.Get(ctx, prefix+"WebApiUrlPrefix")
	if err != nil {
		return model.AuthenticationInfo{}, false, err
	}
	expStr, ok, err := p.settings.Get(ctx, prefix+"ExpirationTimestamp")
	if err != nil || !ok {
		return model.AuthenticationInfo{}, false, err
	}
	authTimeStr, _, err := p.settings.Get(ctx, prefix+"AuthenticationTimestamp")
	if err != nil {
		return model.AuthenticationInfo{}, false, err
	}

	expiry := parseMillisTimestamp(expStr)
	if aboutToExpire(expiry, now) {
		return model.AuthenticationInfo{}, false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var authToken, shardID string
	g.Go(func() error {
		v, ok, err := p.secrets.Get(gctx, secretstore.AuthTokenKey(account.EvernoteHost, account.UserID))
		if err != nil || !ok {
			return err
		}
		authToken = v
		return nil
	})
	g.Go(func() error {
		v, ok, err := p.secrets.Get(gctx, secretstore.ShardIDKey(account.EvernoteHost, account.UserID))
		if err != nil || !ok {
			return err
		}
		shardID = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.AuthenticationInfo{}, false, err
	}
	if authToken == "" || shardID == "" {
		return model.AuthenticationInfo{}, false, nil
	}

	cookie := p.readPersistedCookie(ctx, prefix)

	return model.AuthenticationInfo{
		UserID:              account.UserID,
		AuthToken:           authToken,
		ShardID:             shardID,
		NoteStoreURL:        noteStoreURL,
		WebAPIURLPrefix:     webAPIPrefix,
		TokenExpirationTime: expiry,
		AuthenticationTime:  parseMillisTimestamp(authTimeStr),
		UserStoreCookies:    cookie,
	}, true, nil
}

func (p *Provider) readPersistedCookie(ctx context.Context, prefix string) []model.Cookie {
	raw, ok, err := p.settings.Get(ctx, prefix+"UserStoreCookie")
	if err != nil || !ok || raw == "" {
		return nil
	}
	name, value, found := splitCookie(raw)
	if !found {
		return nil
	}
	return []model.Cookie{{Name: name, Value: value}}
}

// AuthenticateToLinkedNotebook implements the linked-notebook policy,
// including the public-notebook fast path.
func (p *Provider) AuthenticateToLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook, mode Mode) (model.LinkedNotebookAuthInfo, error) {
	if !lnb.HasGuid() {
		return model.LinkedNotebookAuthInfo{}, errs.InvalidArgument("authprovider: linked notebook has no guid")
	}

	if lnb.IsPublic() {
		ownInfo, err := p.AuthenticateAccount(ctx, account, Cache)
		if err != nil {
			return model.LinkedNotebookAuthInfo{}, err
		}
		return model.LinkedNotebookAuthInfo{AuthenticationInfo: ownInfo, LinkedNotebookGuid: lnb.Guid}, nil
	}

	now := time.Now()

	if mode == Cache {
		p.linkedMu.RLock()
		entry, ok := p.linkedCache[lnb.Guid]
		p.linkedMu.RUnlock()
		if ok && !aboutToExpire(entry.info.TokenExpirationTime, now) &&
			entry.info.NoteStoreURL == lnb.NoteStoreURL && entry.info.UserID == account.UserID {
			return entry.info, nil
		}

		if info, ok, err := p.readLinkedFromSettingsAndSecrets(ctx, account, lnb, now); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("linked_notebook_guid", lnb.Guid).Msg("authprovider: linked-notebook settings/secret read failed")
		} else if ok {
			p.cacheLinked(account, info)
			return info, nil
		}
	}

	ownInfo, err := p.AuthenticateAccount(ctx, account, Cache)
	if err != nil {
		return model.LinkedNotebookAuthInfo{}, err
	}
	shared, err := p.sharedNB(ctx, lnb, ownInfo.AuthToken)
	if err != nil {
		return model.LinkedNotebookAuthInfo{}, errs.Runtime(err, "authprovider: authenticate_to_shared_notebook failed for %s", lnb.Guid)
	}
	info := model.LinkedNotebookAuthInfo{AuthenticationInfo: shared, LinkedNotebookGuid: lnb.Guid}

	p.persistLinkedInfo(ctx, account, info)
	p.cacheLinked(account, info)
	return info, nil
}

func (p *Provider) readLinkedFromSettingsAndSecrets(ctx context.Context, account model.Account, lnb model.LinkedNotebook, now time.Time) (model.LinkedNotebookAuthInfo, bool, error) {
	prefix := settingsPrefix(account.EvernoteHost, account.UserID)
	expStr, ok, err := p.settings.Get(ctx, prefix+"LinkedNotebookExpirationTimestamp_"+lnb.Guid)
	if err != nil || !ok {
		return model.LinkedNotebookAuthInfo{}, false, err
	}
	authTimeStr, _, err := p.settings.Get(ctx, prefix+"LinkedNotebookAuthenticationTimestamp_"+lnb.Guid)
	if err != nil {
		return model.LinkedNotebookAuthInfo{}, false, err
	}
	expiry := parseMillisTimestamp(expStr)
	if aboutToExpire(expiry, now) {
		return model.LinkedNotebookAuthInfo{}, false, nil
	}
	token, ok, err := p.secrets.Get(ctx, secretstore.LinkedNotebookTokenKey(account.EvernoteHost, account.UserID, lnb.Guid))
	if err != nil || !ok || token == "" {
		return model.LinkedNotebookAuthInfo{}, false, err
	}

	return model.LinkedNotebookAuthInfo{
		AuthenticationInfo: model.AuthenticationInfo{
			UserID:              account.UserID,
			AuthToken:           token,
			NoteStoreURL:        lnb.NoteStoreURL,
			WebAPIURLPrefix:     lnb.WebAPIURLPrefix,
			TokenExpirationTime: expiry,
			AuthenticationTime:  parseMillisTimestamp(authTimeStr),
		},
		LinkedNotebookGuid: lnb.Guid,
	}, true, nil
}

// ClearCaches drops in-memory, secret-store and settings entries per
// selector. Secret-store deletion failures are logged, not propagated.
func (p *Provider) ClearCaches(ctx context.Context, account model.Account, sel ClearSelector) {
	switch {
	case sel.All:
		p.clearAllUsers(ctx)
		p.clearAllLinkedNotebooks(ctx)
	case sel.AllUsers:
		p.clearAllUsers(ctx)
	case sel.AllLinkedNotebooks:
		p.clearAllLinkedNotebooks(ctx)
	case sel.LinkedNotebookGuid != "":
		p.clearOneLinkedNotebook(ctx, account, sel.LinkedNotebookGuid)
	default:
		target := account
		if sel.UserID != 0 {
			target.UserID = sel.UserID
		}
		p.clearOneUser(ctx, target)
	}
}

func (p *Provider) clearOneUser(ctx context.Context, account model.Account) {
	p.userMu.Lock()
	delete(p.userCache, account.UserID)
	p.userMu.Unlock()

	if err := p.secrets.Delete(ctx, secretstore.AuthTokenKey(account.EvernoteHost, account.UserID)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: clear auth_token secret failed")
	}
	if err := p.secrets.Delete(ctx, secretstore.ShardIDKey(account.EvernoteHost, account.UserID)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: clear shard_id secret failed")
	}
	if err := p.settings.DeletePrefix(ctx, settingsPrefix(account.EvernoteHost, account.UserID)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: clear settings prefix failed")
	}
}

func (p *Provider) clearAllUsers(ctx context.Context) {
	p.userMu.Lock()
	accounts := make([]model.Account, 0, len(p.userCache))
	for _, e := range p.userCache {
		accounts = append(accounts, e.account)
	}
	p.userCache = make(map[int32]userCacheEntry)
	p.userMu.Unlock()

	for _, a := range accounts {
		p.clearOneUser(ctx, a)
	}
}

func (p *Provider) clearOneLinkedNotebook(ctx context.Context, account model.Account, guid string) {
	p.linkedMu.Lock()
	delete(p.linkedCache, guid)
	p.linkedMu.Unlock()

	if err := p.secrets.Delete(ctx, secretstore.LinkedNotebookTokenKey(account.EvernoteHost, account.UserID, guid)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: clear linked-notebook secret failed")
	}
	prefix := settingsPrefix(account.EvernoteHost, account.UserID)
	if err := p.settings.Delete(ctx, prefix+"LinkedNotebookExpirationTimestamp_"+guid); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: clear linked-notebook expiration setting failed")
	}
	if err := p.settings.Delete(ctx, prefix+"LinkedNotebookAuthenticationTimestamp_"+guid); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: clear linked-notebook auth timestamp setting failed")
	}
}

func (p *Provider) clearAllLinkedNotebooks(ctx context.Context) {
	p.linkedMu.Lock()
	entries := make([]linkedCacheEntry, 0, len(p.linkedCache))
	for _, e := range p.linkedCache {
		entries = append(entries, e)
	}
	p.linkedCache = make(map[string]linkedCacheEntry)
	p.linkedMu.Unlock()

	for _, e := range entries {
		p.clearOneLinkedNotebook(ctx, e.account, e.info.LinkedNotebookGuid)
	}
}

func (p *Provider) cacheUser(account model.Account, info model.AuthenticationInfo) {
	p.userMu.Lock()
	p.userCache[account.UserID] = userCacheEntry{account: account, info: info}
	p.userMu.Unlock()
}

func (p *Provider) cacheLinked(account model.Account, info model.LinkedNotebookAuthInfo) {
	p.linkedMu.Lock()
	p.linkedCache[info.LinkedNotebookGuid] = linkedCacheEntry{account: account, info: info}
	p.linkedMu.Unlock()
}

// persistUserInfo writes non-secret fields to settings and secrets to
// the secret store. Failures are logged, never propagated.
func (p *Provider) persistUserInfo(ctx context.Context, account model.Account, info model.AuthenticationInfo) {
	prefix := settingsPrefix(account.EvernoteHost, account.UserID)
	writes := map[string]string{
		prefix + "NoteStoreUrl":              info.NoteStoreURL,
		prefix + "WebApiUrlPrefix":           info.WebAPIURLPrefix,
		prefix + "ExpirationTimestamp":       formatMillisTimestamp(info.TokenExpirationTime),
		prefix + "AuthenticationTimestamp":   formatMillisTimestamp(info.AuthenticationTime),
	}
	for k, v := range writes {
		if err := p.settings.Set(ctx, k, v); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("authprovider: settings write failed")
		}
	}
	if cookie := filterPersistableCookie(info.UserStoreCookies); cookie != "" {
		if err := p.settings.Set(ctx, prefix+"UserStoreCookie", cookie); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("authprovider: cookie persist failed")
		}
	}
	if err := p.secrets.Set(ctx, secretstore.AuthTokenKey(account.EvernoteHost, account.UserID), info.AuthToken); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: auth_token persist failed")
	}
	if err := p.secrets.Set(ctx, secretstore.ShardIDKey(account.EvernoteHost, account.UserID), info.ShardID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: shard_id persist failed")
	}
}

func (p *Provider) persistLinkedInfo(ctx context.Context, account model.Account, info model.LinkedNotebookAuthInfo) {
	prefix := settingsPrefix(account.EvernoteHost, account.UserID)
	if err := p.settings.Set(ctx, prefix+"LinkedNotebookExpirationTimestamp_"+info.LinkedNotebookGuid, formatMillisTimestamp(info.TokenExpirationTime)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: linked-notebook expiration persist failed")
	}
	if err := p.settings.Set(ctx, prefix+"LinkedNotebookAuthenticationTimestamp_"+info.LinkedNotebookGuid, formatMillisTimestamp(info.AuthenticationTime)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: linked-notebook auth timestamp persist failed")
	}
	if err := p.secrets.Set(ctx, secretstore.LinkedNotebookTokenKey(account.EvernoteHost, account.UserID, info.LinkedNotebookGuid), info.AuthToken); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("authprovider: linked-notebook token persist failed")
	}
}

// filterPersistableCookie keeps only the first cookie matching
// web*PreUserGuid; everything else is dropped from persistence.
func filterPersistableCookie(cookies []model.Cookie) string {
	for _, c := range cookies {
		if cookiePattern.MatchString(c.Name) {
			return c.Name + "=" + c.Value
		}
	}
	return ""
}

func splitCookie(raw string) (name, value string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '=' {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", "", false
}
