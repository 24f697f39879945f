package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"chirp/cmd/internal/auth/session"
	v1 "chirp/shared/contracts/realtime/v1"

	"github.com/stretchr/testify/require"
)

func TestHub_NotifySessionRevoked_ReachesAllUserConnections(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	now := time.Now()
	a := NewClient("a", "u1", now, 4)
	b := NewClient("b", "u1", now, 4)
	other := NewClient("c", "u2", now, 4)
	h.Register(a)
	h.Register(b)
	h.Register(other)

	require.NoError(t, h.NotifySessionRevoked(context.Background(), "u1", "bye"))

	for _, c := range []*Client{a, b} {
		select {
		case env := <-c.Send:
			require.Equal(t, v1.TypeSessionRevoked, env.Type)
			require.Equal(t, v1.Version, env.V)
			require.NotEmpty(t, env.ID)
			var p v1.SessionRevokedPayload
			require.NoError(t, json.Unmarshal(env.Payload, &p))
			require.Equal(t, "bye", p.Message)
		default:
			t.Fatalf("client %s got nothing", c.ID)
		}
	}
	require.Len(t, other.Send, 0)
}

func TestHub_NotifySessionRevoked_ClosesFullQueues(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := NewClient("a", "u1", time.Now(), 1)
	h.Register(c)
	require.True(t, c.Offer(v1.Envelope{V: v1.Version, Type: v1.TypeError}))

	require.NoError(t, h.NotifySessionRevoked(context.Background(), "u1", "bye"))

	select {
	case <-c.Done():
	default:
		t.Fatal("expected client to be closed")
	}
}

func TestHub_NotifySessionRevoked_NoConnectionsIsNoop(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	require.NoError(t, h.NotifySessionRevoked(context.Background(), "nobody", "bye"))
}

func TestHub_NotifySessionRevoked_HonoursCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewHub(nil).NotifySessionRevoked(ctx, "u1", "bye"), context.Canceled)
}

func TestHub_Register_EvictsOldestPastCap(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	base := time.Now()
	clients := make([]*Client, 0, maxConnsPerUser+1)
	for i := 0; i <= maxConnsPerUser; i++ {
		c := NewClient(fmt.Sprintf("c%d", i), "u1", base.Add(time.Duration(i)*time.Second), 1)
		clients = append(clients, c)
		h.Register(c)
	}

	require.Equal(t, maxConnsPerUser, h.Count("u1"))
	select {
	case <-clients[0].Done():
	default:
		t.Fatal("oldest connection should be closed")
	}
	select {
	case <-clients[1].Done():
		t.Fatal("second connection should stay open")
	default:
	}
}

func TestHub_Unregister(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := NewClient("a", session.UserID("u1"), time.Now(), 1)
	h.Register(c)
	require.Equal(t, 1, h.Count("u1"))

	h.Unregister(c)
	h.Unregister(c)
	require.Equal(t, 0, h.Count("u1"))
}

func TestClient_OfferAfterClose(t *testing.T) {
	t.Parallel()

	c := NewClient("a", "u1", time.Now(), 2)
	c.Close()
	c.Close()
	require.False(t, c.Offer(v1.Envelope{}))
}
