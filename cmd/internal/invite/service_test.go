package invite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chirp/cmd/security/token"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	svc, err := NewService(st, opts...)
	require.NoError(t, err)
	return svc, st
}

func strPtr(s string) *string { return &s }

func TestService_CreateValidateConsume(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	inv, tok, err := svc.CreateInvite(ctx, CreateInput{CreatedBy: strPtr("creator"), TTL: 24 * time.Hour, Now: now})
	require.NoError(t, err)
	require.Len(t, inv.ID, 26)
	require.NotEmpty(t, tok)
	require.Equal(t, 1, inv.MaxUses)
	require.True(t, now.Add(24*time.Hour).Equal(inv.ExpiresAt))

	ok, _, err := svc.ValidateInvite(ctx, tok, now)
	require.NoError(t, err)
	require.True(t, ok)

	consumed, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: strPtr("ada"), Now: now.Add(time.Second)})
	require.NoError(t, err)
	require.Equal(t, 1, consumed.UsedCount)
	require.Equal(t, "ada", *consumed.ConsumedBy)

	ok, _, err = svc.ValidateInvite(ctx, tok, now.Add(2*time.Second))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: strPtr("bob"), Now: now.Add(3 * time.Second)})
	require.ErrorIs(t, err, ErrNotActive)
}

func TestService_ExpiredAndUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, tok, err := svc.CreateInvite(ctx, CreateInput{TTL: time.Hour, Now: now})
	require.NoError(t, err)

	ok, _, err := svc.ValidateInvite(ctx, tok, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "expiry is exclusive")

	_, err = svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: strPtr("ada"), Now: now.Add(2 * time.Hour)})
	require.ErrorIs(t, err, ErrNotActive)

	ok, _, err = svc.ValidateInvite(ctx, "not-a-real-token", now)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.ConsumeInvite(ctx, ConsumeInput{Token: "not-a-real-token", ConsumedBy: strPtr("ada"), Now: now})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, WithMaxTTL(48*time.Hour))
	ctx := context.Background()

	_, _, err := svc.CreateInvite(ctx, CreateInput{TTL: 72 * time.Hour})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.CreateInvite(ctx, CreateInput{Note: strPtr(strings.Repeat("n", maxNoteLen+1))})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.ValidateInvite(ctx, "   ", time.Time{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.ConsumeInvite(ctx, ConsumeInput{Token: "x", ConsumedBy: strPtr("  ")})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewService(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewService(NewMemoryStore(), WithTokenBytes(4))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_StoresOnlyDigest(t *testing.T) {
	h, err := token.NewHasher([]byte(strings.Repeat("p", token.MinHMACKeyBytes)))
	require.NoError(t, err)
	svc, st := newTestService(t, WithHasher(h))

	_, tok, err := svc.CreateInvite(context.Background(), CreateInput{})
	require.NoError(t, err)

	_, err = st.GetByTokenHash(context.Background(), tok)
	require.True(t, errors.Is(err, ErrNotFound), "plaintext token must not be a lookup key")
	_, err = st.GetByTokenHash(context.Background(), h.Hash(tok))
	require.NoError(t, err)
}

func TestService_ConcurrentConsumeHonorsMaxUses(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, tok, err := svc.CreateInvite(ctx, CreateInput{MaxUses: 3, Now: now})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: strPtr("u"), Now: now}); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 3, success)
}

func TestService_RevokeInvite(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	inv, tok, err := svc.CreateInvite(ctx, CreateInput{CreatedBy: strPtr("owner"), MaxUses: 5, Now: now})
	require.NoError(t, err)

	err = svc.RevokeInvite(ctx, RevokeInput{ID: inv.ID, RevokedBy: strPtr("someone-else"), Now: now})
	require.ErrorIs(t, err, ErrNotFound, "only the creator may revoke")

	require.NoError(t, svc.RevokeInvite(ctx, RevokeInput{ID: inv.ID, RevokedBy: strPtr("owner"), Now: now.Add(time.Minute)}))
	require.NoError(t, svc.RevokeInvite(ctx, RevokeInput{ID: inv.ID, Now: now.Add(time.Hour)}), "revoke is idempotent")

	ok, got, err := svc.ValidateInvite(ctx, tok, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)
	require.NotNil(t, got.RevokedAt)
	require.True(t, now.Add(time.Minute).Equal(*got.RevokedAt))

	_, err = svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: strPtr("ada"), Now: now.Add(2 * time.Minute)})
	require.ErrorIs(t, err, ErrNotActive)

	require.ErrorIs(t, svc.RevokeInvite(ctx, RevokeInput{ID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Now: now}), ErrNotFound)
	require.ErrorIs(t, svc.RevokeInvite(ctx, RevokeInput{ID: "  ", Now: now}), ErrInvalidInput)
}
