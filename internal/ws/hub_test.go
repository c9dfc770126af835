package ws

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atharvavshelke/SecureConnect/internal/protocol"
)

func drain(c *Client) []protocol.Event {
	var evs []protocol.Event
	for {
		select {
		case ev := <-c.Send:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func liveClient(h *Hub, userID uint, username string, isAdmin bool) *Client {
	c := newClient(nil)
	c.Bind(userID, username, isAdmin)
	h.Register(c)
	return c
}

func TestRegisterLastWriterWins(t *testing.T) {
	h := NewHub()

	first := liveClient(h, 1, "alice", false)
	second := liveClient(h, 1, "alice", false)

	got, ok := h.Resolve(1)
	require.True(t, ok)
	require.Same(t, second, got)

	// the stale connection closing must not evict the fresh one
	require.False(t, h.Deregister(first))
	got, ok = h.Resolve(1)
	require.True(t, ok)
	require.Same(t, second, got)

	require.True(t, h.Deregister(second))
	require.False(t, h.Online(1))
}

func TestDeregisterAnonymous(t *testing.T) {
	h := NewHub()
	c := newClient(nil)
	require.False(t, h.Deregister(c))
}

func TestOnlineIDsExcludesAdmins(t *testing.T) {
	h := NewHub()
	liveClient(h, 3, "carol", false)
	liveClient(h, 1, "alice", false)
	liveClient(h, 2, "admin", true)

	require.Equal(t, []uint{1, 3}, h.OnlineIDs())
}

func TestSendToUserOffline(t *testing.T) {
	h := NewHub()
	require.False(t, h.SendToUser(42, protocol.Event{Type: protocol.EventUsersOnline}))
}

func TestGroupBroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	alice := liveClient(h, 1, "alice", false)
	bob := liveClient(h, 2, "bob", false)
	carol := liveClient(h, 3, "carol", false)

	h.Subscribe(1, 10)
	h.Subscribe(2, 10)
	h.Subscribe(2, 10) // idempotent

	ev := protocol.Event{Type: protocol.EventReceiveGroupMessage, Data: "x"}
	h.BroadcastGroup(10, ev, 1)

	require.Empty(t, drain(alice))
	require.Len(t, drain(bob), 1)
	require.Empty(t, drain(carol))
}

func TestDeregisterDropsRoomSubscriptions(t *testing.T) {
	h := NewHub()
	liveClient(h, 1, "alice", false)
	bob := liveClient(h, 2, "bob", false)
	h.Subscribe(1, 10)
	h.Subscribe(2, 10)

	require.True(t, h.Deregister(bob))
	h.BroadcastGroup(10, protocol.Event{Type: protocol.EventReceiveGroupMessage}, 1)
	require.Empty(t, drain(bob))
}

func TestReconnectDropsOldSubscriptions(t *testing.T) {
	h := NewHub()
	old := liveClient(h, 1, "alice", false)
	h.Subscribe(1, 10)

	// fresh login for the same identity; the old connection's room
	// membership must not leak deliveries
	fresh := liveClient(h, 1, "alice", false)
	h.BroadcastGroup(10, protocol.Event{Type: protocol.EventReceiveGroupMessage}, 99)
	require.Empty(t, drain(old))
	require.Empty(t, drain(fresh))

	h.Subscribe(1, 10)
	h.BroadcastGroup(10, protocol.Event{Type: protocol.EventReceiveGroupMessage}, 99)
	require.Len(t, drain(fresh), 1)
}

func TestBroadcastOnline(t *testing.T) {
	h := NewHub()
	alice := liveClient(h, 1, "alice", false)
	h.BroadcastOnline()

	evs := drain(alice)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventUsersOnline, evs[0].Type)
	require.Equal(t, []uint{1}, evs[0].Data)
}
