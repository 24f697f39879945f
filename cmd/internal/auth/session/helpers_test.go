package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[UserID]UserState
	err   error
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[UserID]UserState{}} }

func (f *fakeUsers) put(id UserID, st UserState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st.Exists = true
	f.users[id] = st
}

func (f *fakeUsers) LookupUserState(_ context.Context, id UserID) (UserState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return UserState{}, f.err
	}
	return f.users[id], nil
}

type notice struct {
	userID  UserID
	message string
}

type chanNotifier struct{ ch chan notice }

func newChanNotifier() *chanNotifier { return &chanNotifier{ch: make(chan notice, 16)} }

func (n *chanNotifier) NotifySessionRevoked(_ context.Context, userID UserID, message string) error {
	n.ch <- notice{userID: userID, message: message}
	return nil
}

func (n *chanNotifier) expect(t *testing.T, userID UserID) notice {
	t.Helper()
	select {
	case got := <-n.ch:
		require.Equal(t, userID, got.userID)
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a session revoked notice for %s", userID)
		return notice{}
	}
}

func (n *chanNotifier) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-n.ch:
		t.Fatalf("unexpected notice: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	auth     *Authority
	store    *MemoryStore
	users    *fakeUsers
	clock    *fakeClock
	notifier *chanNotifier
	metrics  *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore builds an Authority over a fresh MemoryStore, or over
// wrap(memoryStore) when wrap is non-nil.
func newHarnessWithStore(t *testing.T, wrap func(*MemoryStore) Store) *harness {
	t.Helper()

	clk := &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	cfg := testConfig()
	codec, err := NewAccessTokenCodec(cfg, clk)
	require.NoError(t, err)

	mem := NewMemoryStore()
	var store Store = mem
	if wrap != nil {
		store = wrap(mem)
	}

	users := newFakeUsers()
	users.put("u1", UserState{DisplayName: "Ada", Username: "ada", PasswordChangedAt: clk.t.Add(-time.Hour)})

	h := &harness{
		store:    mem,
		users:    users,
		clock:    clk,
		notifier: newChanNotifier(),
		metrics:  NewMetrics(nil),
	}
	h.auth, err = NewAuthority(cfg, Deps{
		Store:    store,
		Users:    users,
		Codec:    codec,
		Clock:    clk,
		Notifier: h.notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) login(t *testing.T) Issued {
	t.Helper()
	issued, err := h.auth.Login(context.Background(), "u1", "Ada", "ada")
	require.NoError(t, err)
	return issued
}

func (h *harness) record(t *testing.T, secret string) Record {
	t.Helper()
	rec, err := h.store.FindByHash(context.Background(), TokenHash(h.auth.hasher.Hash(secret)))
	require.NoError(t, err)
	return rec
}

var errStoreDown = errors.New("store down")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Save(context.Context, Record) error { return errStoreDown }
func (brokenStore) FindByHash(context.Context, TokenHash) (Record, error) {
	return Record{}, errStoreDown
}
func (brokenStore) RevokeIfActive(context.Context, TokenHash, time.Time, RevocationReason) (bool, error) {
	return false, errStoreDown
}
func (brokenStore) FindLatestRevokedInFamily(context.Context, FamilyID) (Record, error) {
	return Record{}, errStoreDown
}
func (brokenStore) RevokeFamily(context.Context, FamilyID, time.Time, RevocationReason) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) RevokeAllForUser(context.Context, UserID, time.Time, RevocationReason) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, errStoreDown }

// failingSaveTx is a MemoryStore whose transactional Save always fails.
type failingSaveTx struct{ *MemoryStore }

func (s failingSaveTx) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, failingSave{tx})
	})
}

type failingSave struct{ Store }

func (failingSave) Save(context.Context, Record) error { return errStoreDown }
