package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/localstore"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/preferences"
	"go.uber.org/zap"
)

type session struct {
	AccessToken string               `json:"access_token"`
	Identity    preferences.Identity `json:"identity"`
}

type identityPayload struct {
	UserID      string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func (p identityPayload) identity() preferences.Identity {
	return preferences.Identity{UID: p.UserID, Email: p.Email, IsAnonymous: p.IsAnonymous}
}

type authResponsePayload struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int64           `json:"expires_in"`
	TokenType   string          `json:"token_type"`
	User        identityPayload `json:"user"`
}

type credentialsPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type mePayload struct {
	User identityPayload `json:"user"`
}

// Subscribe delivers the current identity (nil when signed out) followed by
// every transition. Undelivered transitions are coalesced so a slow reader
// always observes the latest identity.
func (c *Client) Subscribe(ctx context.Context) (<-chan *preferences.Identity, func()) {
	stream := make(chan *preferences.Identity, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = stream
	offer(stream, c.identityLocked())
	c.mu.Unlock()

	unsubscribe := sync.OnceFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
		close(stream)
	})
	stop := context.AfterFunc(ctx, unsubscribe)
	return stream, func() {
		stop()
		unsubscribe()
	}
}

// Identity returns the identity of the held session, nil when signed out.
func (c *Client) Identity() *preferences.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identityLocked()
}

// SignInAnonymously creates a fresh anonymous backend identity.
func (c *Client) SignInAnonymously(ctx context.Context) (preferences.Identity, error) {
	var response authResponsePayload
	if err := c.do(ctx, http.MethodPost, "/auth/anonymous", nil, nil, &response, false); err != nil {
		return preferences.Identity{}, err
	}
	return c.adopt(response), nil
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (preferences.Identity, error) {
	var response authResponsePayload
	request := credentialsPayload{Email: strings.TrimSpace(email), Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, request, &response, false); err != nil {
		return preferences.Identity{}, err
	}
	return c.adopt(response), nil
}

// Register creates an email identity and signs it in.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (preferences.Identity, error) {
	var response authResponsePayload
	request := credentialsPayload{Email: strings.TrimSpace(email), Password: password, DisplayName: displayName}
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, request, &response, false); err != nil {
		return preferences.Identity{}, err
	}
	return c.adopt(response), nil
}

// SignOut drops the session locally. Tokens are stateless so the backend is
// not contacted.
func (c *Client) SignOut(context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.broadcastLocked()
	c.mu.Unlock()
	if c.local != nil {
		c.local.Remove(localstore.KeySession)
	}
	return nil
}

// Restore resumes the session persisted by a previous run. A token the
// backend rejects is discarded and Restore reports a signed-out client.
func (c *Client) Restore(ctx context.Context) (*preferences.Identity, error) {
	if c.local == nil {
		return nil, nil
	}
	raw, ok := c.local.Get(localstore.KeySession)
	if !ok || raw == "" {
		return nil, nil
	}
	var stored session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.AccessToken == "" {
		c.logger.Warn("discarding unreadable session", zap.Error(err))
		c.local.Remove(localstore.KeySession)
		return nil, nil
	}

	probe := stored
	c.mu.Lock()
	c.session = &probe
	c.mu.Unlock()

	var me mePayload
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &me, true); err != nil {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, preferences.ErrPermissionDenied) {
			c.logger.Info("stored session rejected", zap.Error(err))
			c.local.Remove(localstore.KeySession)
			return nil, nil
		}
		return nil, err
	}

	stored.Identity = me.User.identity()
	c.mu.Lock()
	c.session = &stored
	c.broadcastLocked()
	c.mu.Unlock()
	c.persistSession(stored)
	identity := stored.Identity
	return &identity, nil
}

func (c *Client) adopt(response authResponsePayload) preferences.Identity {
	current := session{AccessToken: response.AccessToken, Identity: response.User.identity()}
	c.mu.Lock()
	c.session = &current
	c.broadcastLocked()
	c.mu.Unlock()
	c.persistSession(current)
	return current.Identity
}

func (c *Client) persistSession(current session) {
	if c.local == nil {
		return
	}
	encoded, err := json.Marshal(current)
	if err != nil {
		c.logger.Warn("failed to encode session", zap.Error(err))
		return
	}
	c.local.Set(localstore.KeySession, string(encoded))
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) identityLocked() *preferences.Identity {
	if c.session == nil {
		return nil
	}
	identity := c.session.Identity
	return &identity
}

func (c *Client) broadcastLocked() {
	for _, stream := range c.subscribers {
		offer(stream, c.identityLocked())
	}
}

// offer replaces any undelivered value with identity.
func offer(stream chan *preferences.Identity, identity *preferences.Identity) {
	for {
		select {
		case stream <- identity:
			return
		default:
		}
		select {
		case <-stream:
		default:
		}
	}
}
