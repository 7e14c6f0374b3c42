// Package mojang resolves Minecraft player names to game identities and
// back using the public Mojang profile APIs.
package mojang

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ernie/mcauth/internal/domain"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultAPIURL     = "https://api.mojang.com"
	DefaultSessionURL = "https://sessionserver.mojang.com"
)

// Options configures a Client
type Options struct {
	APIURL      string
	SessionURL  string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration // first retry delay, doubled per attempt
}

// Client talks to the Mojang profile APIs
type Client struct {
	http        *http.Client
	apiURL      string
	sessionURL  string
	maxAttempts int
	backoff     time.Duration
}

// New creates a Client, filling in defaults for zero options
func New(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.SessionURL == "" {
		opts.SessionURL = DefaultSessionURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	return &Client{
		http:        &http.Client{Timeout: opts.Timeout},
		apiURL:      strings.TrimRight(opts.APIURL, "/"),
		sessionURL:  strings.TrimRight(opts.SessionURL, "/"),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
	}
}

// profile is the body of both the name lookup and the session profile
type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// statusError is a non-200 response that is not "player unknown"
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mojang: unexpected status %d", e.code)
}

// Lookup resolves a player name to its profile. Unknown names yield
// domain.ErrUnknownPlayer.
func (c *Client) Lookup(ctx context.Context, name string) (domain.GameProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/?#") {
		return domain.GameProfile{}, domain.ErrUnknownPlayer
	}
	return c.fetch(ctx, c.apiURL+"/users/profiles/minecraft/"+url.PathEscape(name))
}

// Profile resolves a game identity to its profile
func (c *Client) Profile(ctx context.Context, gameID string) (domain.GameProfile, error) {
	u, err := uuid.Parse(gameID)
	if err != nil {
		return domain.GameProfile{}, domain.ErrUnknownPlayer
	}
	undashed := strings.ReplaceAll(u.String(), "-", "")
	return c.fetch(ctx, c.sessionURL+"/session/minecraft/profile/"+undashed)
}

// fetch GETs target with bounded retry on transient errors. Transient
// errors are connection failures, 429 and 5xx; anything else is final.
func (c *Client) fetch(ctx context.Context, target string) (domain.GameProfile, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return domain.GameProfile{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		p, err := c.get(ctx, target)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !isTransient(err) {
			return domain.GameProfile{}, err
		}
		log.WithError(err).WithFields(log.Fields{
			"url":     target,
			"attempt": attempt + 1,
		}).Warn("Transient Mojang API failure, retrying")
	}
	return domain.GameProfile{}, lastErr
}

func (c *Client) get(ctx context.Context, target string) (domain.GameProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.GameProfile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.GameProfile{}, fmt.Errorf("mojang: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound, http.StatusBadRequest:
		return domain.GameProfile{}, domain.ErrUnknownPlayer
	default:
		return domain.GameProfile{}, &statusError{code: resp.StatusCode}
	}

	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.GameProfile{}, fmt.Errorf("mojang: decoding profile: %w", err)
	}
	if p.ID == "" {
		return domain.GameProfile{}, domain.ErrUnknownPlayer
	}
	return domain.GameProfile{ID: domain.CanonicalGameID(p.ID), Name: p.Name}, nil
}

func isTransient(err error) bool {
	if errors.Is(err, domain.ErrUnknownPlayer) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Transport failures and decode errors of truncated bodies
	return true
}
