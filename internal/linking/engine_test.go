package linking

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ernie/mcauth/internal/domain"
	"github.com/ernie/mcauth/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	members map[string]domain.RoleSet
}

func (d *fakeDirectory) MemberRoles(ctx context.Context, chatID string) (domain.RoleSet, bool, error) {
	roles, ok := d.members[chatID]
	return roles, ok, nil
}

// fakeResolver knows players by lowercase name
type fakeResolver struct {
	players map[string]string
}

func (r *fakeResolver) Lookup(ctx context.Context, name string) (domain.GameProfile, error) {
	id, ok := r.players[strings.ToLower(name)]
	if !ok {
		return domain.GameProfile{}, domain.ErrUnknownPlayer
	}
	return domain.GameProfile{ID: id, Name: name}, nil
}

func (r *fakeResolver) Profile(ctx context.Context, gameID string) (domain.GameProfile, error) {
	for name, id := range r.players {
		if id == gameID {
			return domain.GameProfile{ID: id, Name: name}, nil
		}
	}
	return domain.GameProfile{}, domain.ErrUnknownPlayer
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type fixture struct {
	engine    *Engine
	store     *storage.Store
	directory *fakeDirectory
	events    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store: store,
		directory: &fakeDirectory{members: map[string]domain.RoleSet{
			"discord-alice": domain.NewRoleSet("role-A"),
			"discord-admin": domain.NewRoleSet("role-admin"),
			"discord-nobody": domain.NewRoleSet("role-other"),
		}},
		events: &recordingPublisher{},
	}
	players := &fakeResolver{players: map[string]string{
		"steve":    "steve-123",
		"alex":     "alex-456",
		"altsteve": "alt-uuid-1",
	}}
	policy := Policy{
		WhitelistRoles: domain.NewRoleSet("role-A"),
		AdminRoles:     domain.NewRoleSet("role-admin"),
	}
	f.engine = NewEngine(store, f.directory, players, policy, WithPublisher(f.events))
	return f
}

func (f *fixture) link(t *testing.T, chatID, gameID string) {
	t.Helper()
	_, err := f.store.CreateLink(context.Background(), chatID, gameID)
	require.NoError(t, err)
}

func TestDecideFullLinkingFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.Decide(ctx, "steve-123")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictNotLinked, d.Verdict)
	require.NotEmpty(t, d.AuthCode)
	code := d.AuthCode

	pending, ok, err := f.store.PendingByGame(ctx, "steve-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d.AuthCode, pending.Code)

	// Polling again returns the same code
	again, err := f.engine.Decide(ctx, "steve-123")
	require.NoError(t, err)
	assert.Equal(t, d.AuthCode, again.AuthCode)

	link, err := f.engine.RedeemCode(ctx, "discord-alice", "  "+strings.ToUpper(d.AuthCode)+" ")
	require.NoError(t, err)
	assert.Equal(t, "steve-123", link.GameID)

	d, err = f.engine.Decide(ctx, "steve-123")
	require.NoError(t, err)
	assert.True(t, d.Authorized())
	assert.Equal(t, "discord-alice", d.ChatID)

	_, err = f.engine.RedeemCode(ctx, "discord-nobody", code)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	assert.Equal(t, []string{domain.EventAuthCodeIssued, domain.EventLinkCreated}, f.events.types())
}

func TestDecideVerdicts(t *testing.T) {
	tests := []struct {
		name        string
		chatID      string
		banned      bool
		maintenance bool
		verdict     domain.Verdict
	}{
		{"whitelisted", "discord-alice", false, false, domain.VerdictAuthorized},
		{"no role", "discord-nobody", false, false, domain.VerdictNoRole},
		{"admin without whitelist role", "discord-admin", false, false, domain.VerdictNoRole},
		{"not a member", "discord-ghost", false, false, domain.VerdictNoRole},
		{"banned with whitelist role", "discord-alice", true, false, domain.VerdictBanned},
		{"banned admin in maintenance", "discord-admin", true, true, domain.VerdictBanned},
		{"maintenance admin", "discord-admin", false, true, domain.VerdictAuthorized},
		{"maintenance whitelisted", "discord-alice", false, true, domain.VerdictMaintenance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.link(t, tt.chatID, "steve-123")
			if tt.banned {
				_, err := f.engine.Ban(ctx, tt.chatID)
				require.NoError(t, err)
			}
			if tt.maintenance {
				f.engine.ToggleMaintenance()
			}

			d, err := f.engine.Decide(ctx, "steve-123")
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Empty(t, d.AuthCode)
		})
	}
}

func TestDecideAltBypassesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddAlt(ctx, "discord-admin", "AltSteve")
	require.NoError(t, err)

	// Even a link to a banned member without roles, in maintenance
	f.link(t, "discord-nobody", "alt-uuid-1")
	_, err = f.engine.Ban(ctx, "discord-nobody")
	require.NoError(t, err)
	f.engine.ToggleMaintenance()

	d, err := f.engine.Decide(ctx, "alt-uuid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictAuthorized, d.Verdict)
	assert.True(t, d.ViaAlt)

	has, ok, err := f.store.PendingByGame(ctx, "alt-uuid-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, has)
}

func TestRequestLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.engine.RequestLink(ctx, "discord-alice", "Steve")
	require.NoError(t, err)
	assert.Equal(t, "steve-123", pending.GameID)
	assert.Equal(t, "discord-alice", pending.ChatID)

	// Idempotent: the same code comes back
	again, err := f.engine.RequestLink(ctx, "discord-alice", "steve")
	require.NoError(t, err)
	assert.Equal(t, pending.Code, again.Code)

	_, ok, err := f.store.ResolveGameID(ctx, "discord-alice")
	require.NoError(t, err)
	assert.False(t, ok, "requesting must not link")

	_, err = f.engine.RequestLink(ctx, "discord-alice", "Herobrine")
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)
}

func TestRequestLinkConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.link(t, "discord-alice", "steve-123")

	tests := []struct {
		chatID string
		player string
		side   domain.ConflictSide
	}{
		{"discord-alice", "steve", domain.SideBoth},
		{"discord-alice", "alex", domain.SideChat},
		{"discord-nobody", "steve", domain.SideGame},
	}
	for _, tt := range tests {
		_, err := f.engine.RequestLink(ctx, tt.chatID, tt.player)
		ce, ok := domain.AsConflict(err)
		require.True(t, ok, "%s/%s: %v", tt.chatID, tt.player, err)
		assert.Equal(t, tt.side, ce.Side)
	}
}

func TestUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	removed, err := f.engine.UnlinkChat(ctx, "discord-never")
	require.NoError(t, err)
	assert.False(t, removed)

	f.link(t, "discord-alice", "steve-123")
	_, err = f.engine.RequestLink(ctx, "discord-alice", "alex")
	require.Error(t, err) // chat side already linked

	removed, err = f.engine.UnlinkChat(ctx, "discord-alice")
	require.NoError(t, err)
	assert.True(t, removed)

	f.link(t, "discord-alice", "alex-456")
	profile, removed, err := f.engine.UnlinkPlayer(ctx, "Alex")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "alex-456", profile.ID)

	_, _, err = f.engine.UnlinkPlayer(ctx, "Herobrine")
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)
}

func TestUnlinkClearsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestLink(ctx, "discord-alice", "alex")
	require.NoError(t, err)
	f.link(t, "discord-alice", "steve-123")

	removed, err := f.engine.UnlinkChat(ctx, "discord-alice")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := f.store.PendingByChat(ctx, "discord-alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBanPardon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.engine.Ban(ctx, "discord-alice")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.engine.Ban(ctx, "discord-alice")
	require.NoError(t, err)
	assert.False(t, added)

	access, err := f.engine.ChatAccess(ctx, "discord-alice")
	require.NoError(t, err)
	assert.Equal(t, AccessBanned, access)

	removed, err := f.engine.Pardon(ctx, "discord-alice")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.engine.Pardon(ctx, "discord-alice")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{domain.EventBanned, domain.EventPardoned}, f.events.types())
}

func TestChatAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	check := func(chatID string, want Access) {
		t.Helper()
		got, err := f.engine.ChatAccess(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, want, got, chatID)
	}

	check("discord-alice", AccessGranted)
	check("discord-admin", AccessGranted)
	check("discord-nobody", AccessNoRole)
	check("discord-ghost", AccessNoRole)

	assert.True(t, f.engine.ToggleMaintenance())
	check("discord-alice", AccessMaintenance)
	check("discord-admin", AccessGranted)

	assert.False(t, f.engine.ToggleMaintenance())
	check("discord-alice", AccessGranted)
}

func TestAlts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alt, err := f.engine.AddAlt(ctx, "admin1", "AltSteve")
	require.NoError(t, err)
	assert.Equal(t, "alt-uuid-1", alt.GameID)

	_, err = f.engine.AddAlt(ctx, "admin2", "altsteve")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.engine.AddAlt(ctx, "admin1", "Herobrine")
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)

	alts, err := f.engine.ListAlts(ctx, "admin1")
	require.NoError(t, err)
	require.Len(t, alts, 1)

	removed, err := f.engine.RemoveAlt(ctx, "altsteve")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.engine.RemoveAlt(ctx, "AltSteve")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestWhoisAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.engine.Whois(ctx, "discord-alice")
	require.NoError(t, err)
	assert.Empty(t, p.GameID)
	assert.Nil(t, p.Pending)

	_, err = f.engine.RequestLink(ctx, "discord-alice", "steve")
	require.NoError(t, err)
	p, err = f.engine.Whois(ctx, "discord-alice")
	require.NoError(t, err)
	require.NotNil(t, p.Pending)
	assert.Equal(t, "steve-123", p.Pending.GameID)

	f.link(t, "discord-nobody", "alex-456")
	_, err = f.engine.Ban(ctx, "discord-nobody")
	require.NoError(t, err)
	p, err = f.engine.Whois(ctx, "discord-nobody")
	require.NoError(t, err)
	assert.Equal(t, "alex-456", p.GameID)
	assert.Equal(t, "alex", p.PlayerName)
	assert.True(t, p.Banned)

	status, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Counts{Links: 1, Pending: 1, Bans: 1}, status.Counts)
	assert.False(t, status.Maintenance)
	assert.Equal(t, []string{"role-A"}, status.WhitelistRoles)
	assert.Equal(t, []string{"role-admin"}, status.AdminRoles)
}

func TestMaintenanceToggleConcurrent(t *testing.T) {
	var m Maintenance
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Toggle()
		}()
	}
	wg.Wait()
	assert.False(t, m.Enabled())
}
