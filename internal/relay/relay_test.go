package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atharvavshelke/SecureConnect/internal/models"
	"github.com/atharvavshelke/SecureConnect/internal/protocol"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

type fakeLedger struct {
	balances map[uint]int
}

func (f *fakeLedger) Debit(_ context.Context, userID uint) (int, error) {
	if f.balances[userID] <= 0 {
		return 0, store.ErrInsufficientCredits
	}
	f.balances[userID]--
	return f.balances[userID], nil
}

type fakeMembers struct {
	members map[uint][]uint
}

func (f *fakeMembers) IsMember(_ context.Context, groupID, userID uint) (bool, error) {
	for _, id := range f.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeMessages struct {
	nextID uint
	direct []models.Message
	group  []models.GroupMessage
}

func (f *fakeMessages) SaveDirect(_ context.Context, from, to uint, envelope string) (*models.Message, error) {
	f.nextID++
	msg := models.Message{ID: f.nextID, FromUser: from, ToUser: to, EncryptedContent: envelope, CreatedAt: time.Now()}
	f.direct = append(f.direct, msg)
	return &msg, nil
}

func (f *fakeMessages) SaveGroup(_ context.Context, groupID, from uint, envelope string) (*models.GroupMessage, error) {
	f.nextID++
	msg := models.GroupMessage{ID: f.nextID, GroupID: groupID, FromUser: from, EncryptedContent: envelope, CreatedAt: time.Now()}
	f.group = append(f.group, msg)
	return &msg, nil
}

type groupDelivery struct {
	groupID uint
	ev      protocol.Event
	except  uint
}

type fakeNotifier struct {
	online  map[uint]bool
	sent    map[uint][]protocol.Event
	grouped []groupDelivery
	subs    map[uint][]uint
}

func newFakeNotifier(online ...uint) *fakeNotifier {
	f := &fakeNotifier{
		online: map[uint]bool{},
		sent:   map[uint][]protocol.Event{},
		subs:   map[uint][]uint{},
	}
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

func (f *fakeNotifier) BroadcastGroup(groupID uint, ev protocol.Event, exceptUserID uint) {
	f.grouped = append(f.grouped, groupDelivery{groupID: groupID, ev: ev, except: exceptUserID})
}

func (f *fakeNotifier) Subscribe(userID, groupID uint) {
	f.subs[userID] = append(f.subs[userID], groupID)
}

func newTestService(ledger *fakeLedger, members *fakeMembers, msgs *fakeMessages, notify *fakeNotifier) *Service {
	return NewService(ledger, members, msgs, notify)
}

func TestSendDirectPersistsThenNotifies(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 50}}
	msgs := &fakeMessages{}
	notify := newFakeNotifier(1, 2)
	svc := newTestService(ledger, &fakeMembers{}, msgs, notify)

	err := svc.SendDirect(context.Background(), Sender{ID: 1, Username: "alice"}, 2, "envelope")
	require.NoError(t, err)

	require.Equal(t, 49, ledger.balances[1])
	require.Len(t, msgs.direct, 1)

	require.Len(t, notify.sent[2], 1)
	require.Equal(t, protocol.EventReceiveMessage, notify.sent[2][0].Type)

	// sender ack carries the canonical stored record
	require.Len(t, notify.sent[1], 1)
	require.Equal(t, protocol.EventMessageSent, notify.sent[1][0].Type)
	ack := notify.sent[1][0].Data.(protocol.DirectMessage)
	require.Equal(t, msgs.direct[0].ID, ack.ID)
	require.Equal(t, "envelope", ack.EncryptedContent)
}

func TestSendDirectOfflineRecipientStillPersists(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 1}}
	msgs := &fakeMessages{}
	notify := newFakeNotifier(1)
	svc := newTestService(ledger, &fakeMembers{}, msgs, notify)

	err := svc.SendDirect(context.Background(), Sender{ID: 1, Username: "alice"}, 2, "envelope")
	require.NoError(t, err)

	require.Len(t, msgs.direct, 1)
	require.Empty(t, notify.sent[2])
	require.Len(t, notify.sent[1], 1)
}

func TestSendDirectInsufficientCredits(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 0}}
	msgs := &fakeMessages{}
	notify := newFakeNotifier(1, 2)
	svc := newTestService(ledger, &fakeMembers{}, msgs, notify)

	err := svc.SendDirect(context.Background(), Sender{ID: 1, Username: "alice"}, 2, "envelope")
	require.ErrorIs(t, err, ErrNoCredits)

	require.Equal(t, 0, ledger.balances[1])
	require.Empty(t, msgs.direct)
	require.Empty(t, notify.sent[1])
	require.Empty(t, notify.sent[2])
}

func TestSendDirectRejectsAdminAndAnonymous(t *testing.T) {
	svc := newTestService(&fakeLedger{balances: map[uint]int{}}, &fakeMembers{}, &fakeMessages{}, newFakeNotifier())

	err := svc.SendDirect(context.Background(), Sender{}, 2, "envelope")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	err = svc.SendDirect(context.Background(), Sender{ID: 9, Username: "root", IsAdmin: true}, 2, "envelope")
	require.ErrorIs(t, err, ErrAdminSender)
}

func TestCreditMonotonicity(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 3}}
	msgs := &fakeMessages{}
	svc := newTestService(ledger, &fakeMembers{}, msgs, newFakeNotifier(1))

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.SendDirect(context.Background(), Sender{ID: 1, Username: "alice"}, 2, "e"))
	}
	require.Equal(t, 0, ledger.balances[1])
	require.Len(t, msgs.direct, 3)

	err := svc.SendDirect(context.Background(), Sender{ID: 1, Username: "alice"}, 2, "e")
	require.ErrorIs(t, err, ErrNoCredits)
	require.Len(t, msgs.direct, 3)
}

func TestSendGroupNonMemberRejectedBeforeAdmission(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 5}}
	msgs := &fakeMessages{}
	notify := newFakeNotifier(1)
	svc := newTestService(ledger, &fakeMembers{members: map[uint][]uint{10: {2, 3}}}, msgs, notify)

	err := svc.SendGroup(context.Background(), Sender{ID: 1, Username: "alice"}, 10, "envelope")
	require.ErrorIs(t, err, ErrNotMember)

	require.Equal(t, 5, ledger.balances[1])
	require.Empty(t, msgs.group)
	require.Empty(t, notify.grouped)
}

func TestSendGroupBroadcastsExceptSender(t *testing.T) {
	ledger := &fakeLedger{balances: map[uint]int{1: 50}}
	msgs := &fakeMessages{}
	notify := newFakeNotifier(1, 2, 3)
	svc := newTestService(ledger, &fakeMembers{members: map[uint][]uint{10: {1, 2, 3}}}, msgs, notify)

	err := svc.SendGroup(context.Background(), Sender{ID: 1, Username: "alice"}, 10, "envelope")
	require.NoError(t, err)

	require.Equal(t, 49, ledger.balances[1])
	require.Len(t, msgs.group, 1)

	require.Len(t, notify.grouped, 1)
	d := notify.grouped[0]
	require.Equal(t, uint(10), d.groupID)
	require.Equal(t, uint(1), d.except)
	require.Equal(t, protocol.EventReceiveGroupMessage, d.ev.Type)
	body := d.ev.Data.(protocol.GroupChatMessage)
	require.Equal(t, msgs.group[0].ID, body.ID)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	notify := newFakeNotifier(1)
	svc := newTestService(&fakeLedger{balances: map[uint]int{}}, &fakeMembers{members: map[uint][]uint{10: {1}}}, &fakeMessages{}, notify)

	require.NoError(t, svc.Subscribe(context.Background(), Sender{ID: 1}, 10))
	require.Equal(t, []uint{10}, notify.subs[1])

	err := svc.Subscribe(context.Background(), Sender{ID: 2}, 10)
	require.ErrorIs(t, err, ErrNotMember)
	require.Empty(t, notify.subs[2])
}
