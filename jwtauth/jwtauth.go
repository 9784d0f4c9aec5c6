// Package jwtauth is a reference authprovider.Authenticator for
// deployments that front Evernote OAuth with their own backend token
// issuer: the interactive flow is delegated to an injected callback
// (typically a device-code or browser redirect flow the host
// application owns), and the token it returns is verified against a
// JWKS endpoint before being trusted, mirroring the teacher's RS256
// backend-token verification.
package jwtauth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
)

// Config configures token validation.
type Config struct {
	Issuer            string
	AcceptedAudiences []string
	JWKSUrl           string
	CacheTTL          time.Duration
}

// jwksCache caches the issuer's public keys by kid, refreshed after
// CacheTTL elapses since the last successful fetch.
type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

func (c *jwksCache) keyFor(ctx context.Context, kid string, fetch func(ctx context.Context) (map[string]*rsa.PublicKey, error)) (*rsa.PublicKey, error) {
	c.mu.RLock()
	stale := time.Since(c.lastFetch) > c.cacheTTL
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[kid]; ok && time.Since(c.lastFetch) <= c.cacheTTL {
		return key, nil
	}

	fresh, err := fetch(ctx)
	if err != nil {
		if key, ok := c.keys[kid]; ok {
			// Serve stale key rather than fail outright on a transient
			// JWKS fetch error.
			return key, nil
		}
		return nil, err
	}
	c.keys = fresh
	c.lastFetch = time.Now()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("jwtauth: no key for kid %q", kid)
}

// InteractiveFlow drives whatever device-code or browser redirect flow
// the host application implements, returning a signed JWT asserting
// the user's identity and an Evernote auth token/shard id pair in its
// claims.
type InteractiveFlow func(ctx context.Context) (tokenString string, err error)

// Authenticator implements authprovider.Authenticator.
type Authenticator struct {
	cfg   Config
	flow  InteractiveFlow
	cache *jwksCache
	http  *http.Client
}

func New(cfg Config, flow InteractiveFlow) *Authenticator {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Authenticator{
		cfg:   cfg,
		flow:  flow,
		cache: &jwksCache{keys: map[string]*rsa.PublicKey{}, cacheTTL: cfg.CacheTTL},
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type claims struct {
	jwt.RegisteredClaims
	EvernoteUserID       int32  `json:"evernote_user_id"`
	EvernoteHost         string `json:"evernote_host"`
	EvernoteAuthToken    string `json:"evernote_auth_token"`
	EvernoteShardID      string `json:"evernote_shard_id"`
	EvernoteNoteStoreURL string `json:"evernote_note_store_url"`
	EvernoteWebAPIPrefix string `json:"evernote_web_api_prefix"`
	Email                string `json:"email"`
}

func (a *Authenticator) validate(ctx context.Context, tokenString string) (claims, error) {
	var parsed claims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.cache.keyFor(ctx, kid, a.fetchJWKS)
	})
	if err != nil {
		return claims{}, errs.Runtime(err, "jwtauth: token validation failed")
	}
	if a.cfg.Issuer != "" && parsed.Issuer != a.cfg.Issuer {
		return claims{}, errs.Runtime(nil, "jwtauth: unexpected issuer %q", parsed.Issuer)
	}
	if len(a.cfg.AcceptedAudiences) > 0 && !audienceAccepted(parsed.Audience, a.cfg.AcceptedAudiences) {
		return claims{}, errs.Runtime(nil, "jwtauth: unexpected audience")
	}
	return parsed, nil
}

func audienceAccepted(got []string, accepted []string) bool {
	for _, g := range got {
		for _, a := range accepted {
			if g == a {
				return true
			}
		}
	}
	return false
}

// fetchJWKS is a placeholder network fetch; real deployments replace
// this with a proper JWKS client. Left minimal since the sync core's
// contract is with Authenticator, not with the JWKS wire format.
func (a *Authenticator) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	return nil, fmt.Errorf("jwtauth: JWKS fetch not configured for %s", a.cfg.JWKSUrl)
}

func claimsToInfo(c claims) model.AuthenticationInfo {
	return model.AuthenticationInfo{
		UserID:              c.EvernoteUserID,
		AuthToken:           c.EvernoteAuthToken,
		ShardID:             c.EvernoteShardID,
		NoteStoreURL:        c.EvernoteNoteStoreURL,
		WebAPIURLPrefix:     c.EvernoteWebAPIPrefix,
		TokenExpirationTime: c.ExpiresAt.Time,
		AuthenticationTime:  c.IssuedAt.Time,
	}
}

// AuthenticateNewAccount drives the interactive flow and derives the
// Account from the validated token's claims.
func (a *Authenticator) AuthenticateNewAccount(ctx context.Context) (model.Account, model.AuthenticationInfo, error) {
	tokenString, err := a.flow(ctx)
	if err != nil {
		return model.Account{}, model.AuthenticationInfo{}, errs.Runtime(err, "jwtauth: interactive flow failed")
	}
	c, err := a.validate(ctx, tokenString)
	if err != nil {
		return model.Account{}, model.AuthenticationInfo{}, err
	}
	account := model.Account{UserID: c.EvernoteUserID, EvernoteHost: c.EvernoteHost, Email: c.Email}
	return account, claimsToInfo(c), nil
}

// AuthenticateAccount re-runs the interactive flow for an existing
// account; the host application's flow implementation is expected to
// target the same account (e.g. by pre-filling its login form).
func (a *Authenticator) AuthenticateAccount(ctx context.Context, account model.Account) (model.AuthenticationInfo, error) {
	tokenString, err := a.flow(ctx)
	if err != nil {
		return model.AuthenticationInfo{}, errs.Runtime(err, "jwtauth: interactive flow failed")
	}
	c, err := a.validate(ctx, tokenString)
	if err != nil {
		return model.AuthenticationInfo{}, err
	}
	if c.EvernoteUserID != account.UserID {
		log.Ctx(ctx).Warn().Int32("got", c.EvernoteUserID).Int32("want", account.UserID).Msg("jwtauth: re-authenticated user id mismatch")
	}
	return claimsToInfo(c), nil
}
