package call

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atharvavshelke/SecureConnect/internal/protocol"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

type fakeLedger struct {
	balances map[uint]int
	debits   int
}

func (f *fakeLedger) Debit(_ context.Context, userID uint) (int, error) {
	if f.balances[userID] <= 0 {
		return 0, store.ErrInsufficientCredits
	}
	f.balances[userID]--
	f.debits++
	return f.balances[userID], nil
}

type fakeNotifier struct {
	online map[uint]bool
	sent   map[uint][]protocol.Event
}

func newFakeNotifier(online ...uint) *fakeNotifier {
	f := &fakeNotifier{online: map[uint]bool{}, sent: map[uint][]protocol.Event{}}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeNotifier) SendToUser(userID uint, ev protocol.Event) bool {
	if !f.online[userID] {
		return false
	}
	f.sent[userID] = append(f.sent[userID], ev)
	return true
}

func (f *fakeNotifier) Online(userID uint) bool { return f.online[userID] }

func (f *fakeNotifier) take(userID uint) []protocol.Event {
	evs := f.sent[userID]
	f.sent[userID] = nil
	return evs
}

func cand(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }

var (
	alice = Party{ID: 1, Username: "alice"}
	bob   = Party{ID: 2, Username: "bob"}
	carol = Party{ID: 3, Username: "carol"}
)

func ringingCall(t *testing.T, ledger *fakeLedger, notify *fakeNotifier) *Signaler {
	t.Helper()
	s := NewSignaler(ledger, notify)
	s.Request(alice, bob.ID, cand("offer"), "voice")

	evs := notify.take(bob.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventIncomingCall, evs[0].Type)
	return s
}

func TestRequestRingsCallee(t *testing.T) {
	notify := newFakeNotifier(1, 2)
	s := NewSignaler(&fakeLedger{balances: map[uint]int{}}, notify)

	s.Request(alice, bob.ID, cand("offer"), "voice")

	evs := notify.take(bob.ID)
	require.Len(t, evs, 1)
	in := evs[0].Data.(protocol.IncomingCall)
	require.Equal(t, alice.ID, in.FromUserID)
	require.Equal(t, "alice", in.FromUsername)
	require.Equal(t, "voice", in.Type)

	require.Empty(t, notify.take(alice.ID))
	require.True(t, s.InCall(alice.ID))
	require.True(t, s.InCall(bob.ID))
}

func TestBusyWhenCalleeOffline(t *testing.T) {
	notify := newFakeNotifier(1)
	s := NewSignaler(&fakeLedger{balances: map[uint]int{}}, notify)

	s.Request(alice, bob.ID, cand("offer"), "voice")

	evs := notify.take(alice.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventCallAnswered, evs[0].Type)
	ans := evs[0].Data.(protocol.CallAnswered)
	require.False(t, ans.Accepted)
	require.True(t, ans.Busy)
	require.False(t, s.InCall(alice.ID))
}

func TestBusyWhenCalleeAlreadyInCall(t *testing.T) {
	notify := newFakeNotifier(1, 2, 3)
	s := ringingCall(t, &fakeLedger{balances: map[uint]int{}}, notify)

	// carol calls bob, who is already negotiating with alice: immediate
	// busy answer, no second ring on bob's side
	s.Request(carol, bob.ID, cand("offer2"), "voice")

	evs := notify.take(carol.ID)
	require.Len(t, evs, 1)
	require.True(t, evs[0].Data.(protocol.CallAnswered).Busy)
	require.Empty(t, notify.take(bob.ID))
	require.False(t, s.InCall(carol.ID))
}

func TestDeclineTearsDown(t *testing.T) {
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, &fakeLedger{balances: map[uint]int{}}, notify)

	s.Respond(bob, false, nil)

	evs := notify.take(alice.ID)
	require.Len(t, evs, 1)
	ans := evs[0].Data.(protocol.CallAnswered)
	require.False(t, ans.Accepted)
	require.False(t, ans.Busy)

	require.False(t, s.InCall(alice.ID))
	require.False(t, s.InCall(bob.ID))
}

func TestIceBufferedUntilAnswerApplied(t *testing.T) {
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, &fakeLedger{balances: map[uint]int{}}, notify)

	// the callee saw the offer, so candidates toward bob flow immediately
	s.RelayICE(alice.ID, bob.ID, cand("a1"))
	evs := notify.take(bob.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventICECandidate, evs[0].Type)

	// the caller has no remote description until the answer arrives
	s.RelayICE(bob.ID, alice.ID, cand("b1"))
	s.RelayICE(bob.ID, alice.ID, cand("b2"))
	require.Empty(t, notify.take(alice.ID))

	s.Respond(bob, true, cand("answer"))
	evs = notify.take(alice.ID)
	require.Len(t, evs, 3)
	require.Equal(t, protocol.EventCallAnswered, evs[0].Type)
	require.True(t, evs[0].Data.(protocol.CallAnswered).Accepted)
	require.Equal(t, cand("b1"), evs[1].Data.(protocol.ICECandidate).Candidate)
	require.Equal(t, cand("b2"), evs[2].Data.(protocol.ICECandidate).Candidate)
}

func TestIceOutsideSessionDropped(t *testing.T) {
	notify := newFakeNotifier(1, 2)
	s := NewSignaler(&fakeLedger{balances: map[uint]int{}}, notify)

	s.RelayICE(alice.ID, bob.ID, cand("x"))
	require.Empty(t, notify.take(bob.ID))
}

func TestConnectedChargesOncePerNegotiation(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 10}}
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, ledger, notify)
	s.Respond(bob, true, cand("answer"))
	notify.take(alice.ID)

	s.Connected(context.Background(), alice.ID)
	s.Connected(context.Background(), alice.ID)

	require.Equal(t, 1, ledger.debits)
	require.Equal(t, 9, ledger.balances[1])

	evs := notify.take(alice.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventCreditsUpdated, evs[0].Type)
	require.Equal(t, 9, evs[0].Data.(protocol.CreditsUpdated).Credits)
}

func TestConnectedWithoutCreditsTearsDown(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 0}}
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, ledger, notify)
	s.Respond(bob, true, cand("answer"))
	notify.take(alice.ID)

	s.Connected(context.Background(), alice.ID)

	evs := notify.take(alice.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventCallError, evs[0].Type)

	evs = notify.take(bob.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventCallEnded, evs[0].Type)

	require.False(t, s.InCall(alice.ID))
	require.False(t, s.InCall(bob.ID))
}

func TestConnectedIgnoredFromCallee(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{2: 10}}
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, ledger, notify)
	s.Respond(bob, true, cand("answer"))
	notify.take(alice.ID)

	s.Connected(context.Background(), bob.ID)
	require.Zero(t, ledger.debits)
	require.Empty(t, notify.take(bob.ID))
}

func TestEndIsIdempotent(t *testing.T) {
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, &fakeLedger{balances: map[uint]int{}}, notify)

	s.End(alice.ID)
	evs := notify.take(bob.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventCallEnded, evs[0].Type)
	require.Equal(t, alice.ID, evs[0].Data.(protocol.CallEnded).FromUserID)

	s.End(alice.ID)
	s.End(bob.ID)
	require.Empty(t, notify.take(alice.ID))
	require.Empty(t, notify.take(bob.ID))
}

func TestDisconnectEndsCall(t *testing.T) {
	notify := newFakeNotifier(1, 2)
	s := ringingCall(t, &fakeLedger{balances: map[uint]int{}}, notify)

	s.Disconnect(bob.ID)
	evs := notify.take(alice.ID)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventCallEnded, evs[0].Type)
	require.False(t, s.InCall(alice.ID))
}
