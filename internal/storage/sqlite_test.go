package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ernie/mcauth/internal/domain"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "accounts.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateLinkResolvesBothWays(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	link, err := store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", link.ChatID)

	gameID, ok, err := store.ResolveGameID(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "game-1", gameID)

	chatID, ok, err := store.ResolveChatID(ctx, "game-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chat-1", chatID)

	_, ok, err = store.ResolveChatID(ctx, "game-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateLinkConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)
	_, err = store.CreateLink(ctx, "chat-2", "game-2")
	require.NoError(t, err)

	tests := []struct {
		name   string
		chatID string
		gameID string
		want      domain.ConflictSide
		gameTaken bool
	}{
		{"same pair", "chat-1", "game-1", domain.SideBoth, false},
		{"chat taken", "chat-1", "game-9", domain.SideChat, false},
		{"game taken", "chat-9", "game-1", domain.SideGame, false},
		{"both taken elsewhere", "chat-1", "game-2", domain.SideChat, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateLink(ctx, tt.chatID, tt.gameID)
			require.ErrorIs(t, err, domain.ErrConflict)
			ce, ok := domain.AsConflict(err)
			require.True(t, ok)
			assert.Equal(t, domain.ConflictLink, ce.Kind)
			assert.Equal(t, tt.want, ce.Side)
			assert.Equal(t, tt.gameTaken, ce.GameTaken)

			assert.Equal(t, err, store.CheckLink(ctx, tt.chatID, tt.gameID))
		})
	}
	assert.NoError(t, store.CheckLink(ctx, "chat-3", "game-3"))
}

func TestConcurrentCreateLinkHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CreateLink(ctx, "chat-1", "game-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestRemoveLinkClearsPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)
	_, _, err = store.AssertCode(ctx, "game-2", "chat-1")
	require.NoError(t, err)
	_, _, err = store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)

	link, removed, err := store.RemoveLinkByChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "game-1", link.GameID)

	for _, gameID := range []string{"game-1", "game-2"} {
		_, ok, err := store.PendingByGame(ctx, gameID)
		require.NoError(t, err)
		assert.False(t, ok, "pending for %s should be cleared", gameID)
	}
}

func TestRemoveLinkByGame(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)

	_, removed, err := store.RemoveLinkByGame(ctx, "game-1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := store.ResolveGameID(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveMissingLink(t *testing.T) {
	store := newTestStore(t)

	link, removed, err := store.RemoveLinkByChat(context.Background(), "never-linked")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Nil(t, link)
}

func TestAssertCodeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, created, err := store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.Code, 8)

	second, created, err := store.AssertCode(ctx, "game-1", "chat-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, "chat-1", second.ChatID)

	byCode, ok, err := store.PendingByCode(ctx, first.Code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "game-1", byCode.GameID)
	assert.Equal(t, "chat-1", byCode.ChatID)

	byChat, ok, err := store.PendingByChat(ctx, "chat-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Code, byChat.Code)
}

func TestRedeemIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pending, _, err := store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)

	gameID, ok, err := store.Redeem(ctx, pending.Code)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "game-1", gameID)

	_, ok, err = store.Redeem(ctx, pending.Code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pending, _, err := store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := store.Redeem(ctx, pending.Code)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestRedeemAndLink(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pending, _, err := store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)

	link, err := store.RedeemAndLink(ctx, pending.Code, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "game-1", link.GameID)

	_, err = store.RedeemAndLink(ctx, pending.Code, "chat-1")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, ok, err := store.PendingByGame(ctx, "game-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemAndLinkDropsOtherRequests(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	first, _, err := store.AssertCode(ctx, "game-1", "chat-1")
	require.NoError(t, err)
	second, _, err := store.AssertCode(ctx, "game-2", "chat-1")
	require.NoError(t, err)
	other, _, err := store.AssertCode(ctx, "game-3", "chat-2")
	require.NoError(t, err)

	_, err = store.RedeemAndLink(ctx, first.Code, "chat-1")
	require.NoError(t, err)

	_, ok, err := store.PendingByChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.PendingByCode(ctx, second.Code)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.PendingByCode(ctx, other.Code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedeemAndLinkConflictKeepsCode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)
	pending, _, err := store.AssertCode(ctx, "game-2", "")
	require.NoError(t, err)

	_, err = store.RedeemAndLink(ctx, pending.Code, "chat-1")
	ce, ok := domain.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, domain.SideChat, ce.Side)

	_, ok, err = store.PendingByCode(ctx, pending.Code)
	require.NoError(t, err)
	assert.True(t, ok, "code must survive a failed redeem")
}

func TestPendingExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithPendingTTL(time.Hour), WithClock(func() time.Time { return now }))

	first, _, err := store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, ok, err := store.PendingByCode(ctx, first.Code)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Redeem(ctx, first.Code)
	require.NoError(t, err)
	assert.False(t, ok)

	second, created, err := store.AssertCode(ctx, "game-1", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.Code, second.Code)

	_, _, err = store.AssertCode(ctx, "game-2", "")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	n, err := store.CleanupExpiredPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAlts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddAlt(ctx, "admin1", "alt-uuid-1", "AltSteve")
	require.NoError(t, err)

	_, err = store.AddAlt(ctx, "admin2", "alt-uuid-1", "AltJohn")
	ce, ok := domain.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, domain.ConflictAlt, ce.Kind)
	assert.Equal(t, domain.SideGame, ce.Side)

	_, err = store.AddAlt(ctx, "admin2", "alt-uuid-2", "altsteve")
	ce, ok = domain.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, domain.SideName, ce.Side)

	isAlt, err := store.IsAlt(ctx, "alt-uuid-1")
	require.NoError(t, err)
	assert.True(t, isAlt)

	alts, err := store.ListAlts(ctx, "admin1")
	require.NoError(t, err)
	assert.Equal(t, []domain.AltAccount{{Owner: "admin1", GameID: "alt-uuid-1", Name: "AltSteve"}}, alts)

	alts, err = store.ListAlts(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, alts)
	assert.NotNil(t, alts)

	removed, ok, err := store.RemoveAlt(ctx, "ALTSTEVE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alt-uuid-1", removed.GameID)

	_, ok, err = store.RemoveAlt(ctx, "AltSteve")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBans(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	added, err := store.Ban(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.Ban(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, added)

	banned, err := store.IsBanned(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, banned)

	ids, err := store.ListBans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-1"}, ids)

	removed, err := store.Pardon(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Pardon(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCountsAndBackup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)
	_, _, err = store.AssertCode(ctx, "game-2", "")
	require.NoError(t, err)
	_, err = store.AddAlt(ctx, "chat-1", "game-3", "Alt")
	require.NoError(t, err)
	_, err = store.Ban(ctx, "chat-9")
	require.NoError(t, err)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Counts{Links: 1, Pending: 1, Alts: 1, Bans: 1}, counts)

	var buf bytes.Buffer
	require.NoError(t, store.Backup(ctx, &buf))

	dec, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer dec.Close()
	restored := filepath.Join(t.TempDir(), "restored.db")
	out, err := os.Create(restored)
	require.NoError(t, err)
	_, err = dec.WriteTo(out)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	copyStore, err := New(restored)
	require.NoError(t, err)
	defer copyStore.Close()
	gameID, ok, err := copyStore.ResolveGameID(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "game-1", gameID)
}

func TestListLinks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	links, err := store.ListLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)

	_, err = store.CreateLink(ctx, "chat-1", "game-1")
	require.NoError(t, err)
	links, err = store.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.False(t, links[0].CreatedAt.IsZero())
	assert.True(t, errors.Is(store.CheckLink(ctx, "chat-1", "x"), domain.ErrConflict))
}
