// Package linking holds the authorization decision engine and the
// workflows that create and destroy account links.
package linking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/mcauth/internal/domain"
	log "github.com/sirupsen/logrus"
)

// Store is the durable state the engine decides over
type Store interface {
	ResolveGameID(ctx context.Context, chatID string) (string, bool, error)
	ResolveChatID(ctx context.Context, gameID string) (string, bool, error)
	CheckLink(ctx context.Context, chatID, gameID string) error
	RemoveLinkByChat(ctx context.Context, chatID string) (*domain.AccountLink, bool, error)
	RemoveLinkByGame(ctx context.Context, gameID string) (*domain.AccountLink, bool, error)

	AssertCode(ctx context.Context, gameID, chatID string) (*domain.PendingAuthorization, bool, error)
	PendingByChat(ctx context.Context, chatID string) (*domain.PendingAuthorization, bool, error)
	RedeemAndLink(ctx context.Context, code, chatID string) (*domain.AccountLink, error)

	Ban(ctx context.Context, chatID string) (bool, error)
	Pardon(ctx context.Context, chatID string) (bool, error)
	IsBanned(ctx context.Context, chatID string) (bool, error)

	AddAlt(ctx context.Context, owner, gameID, name string) (*domain.AltAccount, error)
	RemoveAlt(ctx context.Context, name string) (*domain.AltAccount, bool, error)
	IsAlt(ctx context.Context, gameID string) (bool, error)
	ListAlts(ctx context.Context, owner string) ([]domain.AltAccount, error)

	Counts(ctx context.Context) (domain.Counts, error)
}

// Directory is the role/membership oracle of the chat platform. ok is
// false when the chat identity is not a member at all.
type Directory interface {
	MemberRoles(ctx context.Context, chatID string) (roles domain.RoleSet, ok bool, err error)
}

// Resolver maps player names to game identities and back. Unknown
// players yield domain.ErrUnknownPlayer.
type Resolver interface {
	Lookup(ctx context.Context, name string) (domain.GameProfile, error)
	Profile(ctx context.Context, gameID string) (domain.GameProfile, error)
}

// Publisher receives state-change events
type Publisher interface {
	Publish(event domain.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

// Policy holds the role ids that grant access
type Policy struct {
	WhitelistRoles domain.RoleSet
	AdminRoles     domain.RoleSet
}

// Access is the outcome of gating a chat identity before it may use
// any chat command.
type Access int

const (
	AccessGranted Access = iota
	AccessBanned
	AccessMaintenance
	AccessNoRole
)

// Status is a snapshot for the admin status report
type Status struct {
	Counts         domain.Counts `json:"counts"`
	Maintenance    bool          `json:"maintenance"`
	WhitelistRoles []string      `json:"whitelist_roles"`
	AdminRoles     []string      `json:"admin_roles"`
}

// Engine is the single source of truth for whether a game identity may
// join, and the owner of every mutation of link, alt and ban state.
type Engine struct {
	store       Store
	directory   Directory
	players     Resolver
	policy      Policy
	maintenance *Maintenance
	events      Publisher
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithMaintenance shares a maintenance flag with the engine
func WithMaintenance(m *Maintenance) Option {
	return func(e *Engine) { e.maintenance = m }
}

// WithPublisher sets where events are sent
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a decision engine
func NewEngine(store Store, directory Directory, players Resolver, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		directory:   directory,
		players:     players,
		policy:      policy,
		maintenance: &Maintenance{},
		events:      nopPublisher{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) publish(eventType string, data interface{}) {
	e.events.Publish(domain.Event{
		Type:      eventType,
		Timestamp: e.now().UTC(),
		Data:      data,
	})
}

// Decide evaluates a game identity. The checks run in a fixed order and
// the first match wins: alt, link, ban, maintenance, role.
func (e *Engine) Decide(ctx context.Context, gameID string) (domain.Decision, error) {
	gameID = domain.CanonicalGameID(gameID)
	d := domain.Decision{GameID: gameID}

	alt, err := e.store.IsAlt(ctx, gameID)
	if err != nil {
		return d, fmt.Errorf("checking alt: %w", err)
	}
	if alt {
		d.Verdict = domain.VerdictAuthorized
		d.ViaAlt = true
		return d, nil
	}

	chatID, linked, err := e.store.ResolveChatID(ctx, gameID)
	if err != nil {
		return d, fmt.Errorf("resolving link: %w", err)
	}
	if !linked {
		pending, created, err := e.store.AssertCode(ctx, gameID, "")
		if err != nil {
			return d, fmt.Errorf("issuing auth code: %w", err)
		}
		if created {
			e.publish(domain.EventAuthCodeIssued, domain.AuthCodeEvent{GameID: gameID})
		}
		d.Verdict = domain.VerdictNotLinked
		d.AuthCode = pending.Code
		return d, nil
	}
	d.ChatID = chatID

	banned, err := e.store.IsBanned(ctx, chatID)
	if err != nil {
		return d, fmt.Errorf("checking ban: %w", err)
	}
	if banned {
		d.Verdict = domain.VerdictBanned
		return d, nil
	}

	roles, _, err := e.directory.MemberRoles(ctx, chatID)
	if err != nil {
		return d, fmt.Errorf("fetching member roles: %w", err)
	}

	switch {
	case e.maintenance.Enabled():
		if roles.Intersects(e.policy.AdminRoles) {
			d.Verdict = domain.VerdictAuthorized
		} else {
			d.Verdict = domain.VerdictMaintenance
		}
	case roles.Intersects(e.policy.WhitelistRoles):
		d.Verdict = domain.VerdictAuthorized
	default:
		d.Verdict = domain.VerdictNoRole
	}
	return d, nil
}

// ChatAccess gates a chat identity before any chat command runs
func (e *Engine) ChatAccess(ctx context.Context, chatID string) (Access, error) {
	banned, err := e.store.IsBanned(ctx, chatID)
	if err != nil {
		return AccessNoRole, fmt.Errorf("checking ban: %w", err)
	}
	if banned {
		return AccessBanned, nil
	}

	roles, ok, err := e.directory.MemberRoles(ctx, chatID)
	if err != nil {
		return AccessNoRole, fmt.Errorf("fetching member roles: %w", err)
	}
	if !ok {
		return AccessNoRole, nil
	}
	if e.maintenance.Enabled() {
		if roles.Intersects(e.policy.AdminRoles) {
			return AccessGranted, nil
		}
		return AccessMaintenance, nil
	}
	if roles.Intersects(e.policy.WhitelistRoles) || roles.Intersects(e.policy.AdminRoles) {
		return AccessGranted, nil
	}
	return AccessNoRole, nil
}

// IsAdmin reports whether the chat identity holds an admin role
func (e *Engine) IsAdmin(ctx context.Context, chatID string) (bool, error) {
	roles, ok, err := e.directory.MemberRoles(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("fetching member roles: %w", err)
	}
	return ok && roles.Intersects(e.policy.AdminRoles), nil
}

// RequestLink records a claim that chatID owns the named player. No link
// is created; the player must join the game server to receive the code
// and present it from chat. A game identity that already has a pending
// code keeps it.
func (e *Engine) RequestLink(ctx context.Context, chatID, playerName string) (*domain.PendingAuthorization, error) {
	profile, err := e.players.Lookup(ctx, playerName)
	if err != nil {
		return nil, err
	}

	if err := e.store.CheckLink(ctx, chatID, profile.ID); err != nil {
		return nil, err
	}

	pending, created, err := e.store.AssertCode(ctx, profile.ID, chatID)
	if err != nil {
		return nil, fmt.Errorf("issuing auth code: %w", err)
	}
	if created {
		e.publish(domain.EventAuthCodeIssued, domain.AuthCodeEvent{GameID: profile.ID, ChatID: chatID})
	}
	log.WithFields(log.Fields{
		"chat_id": chatID,
		"game_id": profile.ID,
		"created": created,
	}).Info("Link requested")
	return pending, nil
}

// RedeemCode consumes an auth code and links the game identity it was
// issued for to chatID. Presenting the code is the proof of ownership.
func (e *Engine) RedeemCode(ctx context.Context, chatID, code string) (*domain.AccountLink, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	link, err := e.store.RedeemAndLink(ctx, code, chatID)
	if err != nil {
		return nil, err
	}
	e.publish(domain.EventLinkCreated, domain.LinkEvent{ChatID: link.ChatID, GameID: link.GameID})
	log.WithFields(log.Fields{
		"chat_id": link.ChatID,
		"game_id": link.GameID,
	}).Info("Account linked")
	return link, nil
}

// UnlinkChat removes the link of a chat identity along with any pending
// authorizations tied to it
func (e *Engine) UnlinkChat(ctx context.Context, chatID string) (bool, error) {
	link, removed, err := e.store.RemoveLinkByChat(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("removing link: %w", err)
	}
	e.linkRemoved(link, removed)
	return removed, nil
}

// UnlinkGame removes the link of a game identity
func (e *Engine) UnlinkGame(ctx context.Context, gameID string) (bool, error) {
	link, removed, err := e.store.RemoveLinkByGame(ctx, domain.CanonicalGameID(gameID))
	if err != nil {
		return false, fmt.Errorf("removing link: %w", err)
	}
	e.linkRemoved(link, removed)
	return removed, nil
}

// UnlinkPlayer resolves a player name and removes its link
func (e *Engine) UnlinkPlayer(ctx context.Context, playerName string) (domain.GameProfile, bool, error) {
	profile, err := e.players.Lookup(ctx, playerName)
	if err != nil {
		return domain.GameProfile{}, false, err
	}
	removed, err := e.UnlinkGame(ctx, profile.ID)
	return profile, removed, err
}

func (e *Engine) linkRemoved(link *domain.AccountLink, removed bool) {
	if !removed {
		return
	}
	e.publish(domain.EventLinkRemoved, domain.LinkEvent{ChatID: link.ChatID, GameID: link.GameID})
	log.WithFields(log.Fields{
		"chat_id": link.ChatID,
		"game_id": link.GameID,
	}).Info("Account unlinked")
}

// Ban bars a chat identity. added is false if it was already banned.
func (e *Engine) Ban(ctx context.Context, chatID string) (bool, error) {
	added, err := e.store.Ban(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("banning: %w", err)
	}
	if added {
		e.publish(domain.EventBanned, domain.BanEvent{ChatID: chatID})
	}
	return added, nil
}

// Pardon lifts a ban. removed is false if there was none.
func (e *Engine) Pardon(ctx context.Context, chatID string) (bool, error) {
	removed, err := e.store.Pardon(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("pardoning: %w", err)
	}
	if removed {
		e.publish(domain.EventPardoned, domain.BanEvent{ChatID: chatID})
	}
	return removed, nil
}

// AddAlt resolves a player name and whitelists it as an alt of owner
func (e *Engine) AddAlt(ctx context.Context, owner, playerName string) (*domain.AltAccount, error) {
	profile, err := e.players.Lookup(ctx, playerName)
	if err != nil {
		return nil, err
	}
	name := profile.Name
	if name == "" {
		name = strings.TrimSpace(playerName)
	}

	alt, err := e.store.AddAlt(ctx, owner, profile.ID, name)
	if err != nil {
		return nil, err
	}
	e.publish(domain.EventAltAdded, domain.AltEvent{Owner: alt.Owner, GameID: alt.GameID, Name: alt.Name})
	return alt, nil
}

// RemoveAlt deletes an alt by display name
func (e *Engine) RemoveAlt(ctx context.Context, name string) (bool, error) {
	alt, removed, err := e.store.RemoveAlt(ctx, strings.TrimSpace(name))
	if err != nil {
		return false, fmt.Errorf("removing alt: %w", err)
	}
	if removed {
		e.publish(domain.EventAltRemoved, domain.AltEvent{Owner: alt.Owner, GameID: alt.GameID, Name: alt.Name})
	}
	return removed, nil
}

// ListAlts returns the alts of owner, or every alt when owner is empty
func (e *Engine) ListAlts(ctx context.Context, owner string) ([]domain.AltAccount, error) {
	return e.store.ListAlts(ctx, owner)
}

// Whois gathers everything known about a chat identity. The player name
// is left empty when the resolver no longer knows the game identity.
func (e *Engine) Whois(ctx context.Context, chatID string) (domain.Profile, error) {
	p := domain.Profile{ChatID: chatID}

	gameID, linked, err := e.store.ResolveGameID(ctx, chatID)
	if err != nil {
		return p, fmt.Errorf("resolving link: %w", err)
	}
	if linked {
		p.GameID = gameID
		profile, err := e.players.Profile(ctx, gameID)
		switch {
		case err == nil:
			p.PlayerName = profile.Name
		case errors.Is(err, domain.ErrUnknownPlayer):
		default:
			return p, err
		}
	}

	if p.Banned, err = e.store.IsBanned(ctx, chatID); err != nil {
		return p, fmt.Errorf("checking ban: %w", err)
	}

	pending, ok, err := e.store.PendingByChat(ctx, chatID)
	if err != nil {
		return p, fmt.Errorf("looking up pending: %w", err)
	}
	if ok {
		p.Pending = pending
	}
	return p, nil
}

// Status reports table sizes, the maintenance flag and configured roles
func (e *Engine) Status(ctx context.Context) (Status, error) {
	counts, err := e.store.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("counting: %w", err)
	}
	return Status{
		Counts:         counts,
		Maintenance:    e.maintenance.Enabled(),
		WhitelistRoles: e.policy.WhitelistRoles.IDs(),
		AdminRoles:     e.policy.AdminRoles.IDs(),
	}, nil
}

// Maintenance reports whether maintenance mode is on
func (e *Engine) Maintenance() bool {
	return e.maintenance.Enabled()
}

// ToggleMaintenance flips maintenance mode and returns the new state
func (e *Engine) ToggleMaintenance() bool {
	on := e.maintenance.Toggle()
	e.publish(domain.EventMaintenance, domain.MaintenanceEvent{Enabled: on})
	log.WithField("enabled", on).Info("Maintenance mode toggled")
	return on
}
