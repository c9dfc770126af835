package call

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/atharvavshelke/SecureConnect/internal/logging"
	"github.com/atharvavshelke/SecureConnect/internal/models"
	"github.com/atharvavshelke/SecureConnect/internal/protocol"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

// Memberships gates who may ring or join a group call. Live participation
// is orthogonal to durable membership; this interface only authorizes.
type Memberships interface {
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	MemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	GroupByID(ctx context.Context, groupID uint) (*models.Group, error)
}

// linkKey identifies a pairwise media link inside one group call,
// normalized so (a,b) and (b,a) hit the same record.
type linkKey struct {
	lo, hi uint
}

func pairKey(a, b uint) linkKey {
	if a < b {
		return linkKey{lo: a, hi: b}
	}
	return linkKey{lo: b, hi: a}
}

type bufferedCandidate struct {
	from      uint
	candidate json.RawMessage
}

// meshLink tracks one pairwise negotiation. The joiner is always the
// offerer; the opposite side gains its remote description when the offer
// is relayed, the offerer when the answer comes back. Candidates toward
// an undescribed destination queue per destination.
type meshLink struct {
	offerer       uint
	offerRelayed  bool
	answerRelayed bool
	pending       map[uint][]bufferedCandidate
}

func (l *meshLink) described(dest uint) bool {
	if dest == l.offerer {
		return l.answerRelayed
	}
	return l.offerRelayed
}

// groupCall is the live state of one group call: the ephemeral
// participant set plus the pairwise link records. Discarded entirely when
// the last participant leaves. charged tracks who has already paid for
// this stay in the call; leaving clears it, so a rejoin bills again.
type groupCall struct {
	participants map[uint]struct{}
	links        map[linkKey]*meshLink
	charged      map[uint]struct{}
}

// Mesh coordinates group calls: it tracks who is live in each call and
// relays the pairwise offers, answers and candidates that knit an N-party
// call into a full mesh. The joiner alone initiates toward each existing
// participant, which keeps both sides from offering at once.
type Mesh struct {
	mu    sync.Mutex
	calls map[uint]*groupCall

	members Memberships
	ledger  Ledger
	notify  Notifier
}

func NewMesh(members Memberships, ledger Ledger, notify Notifier) *Mesh {
	return &Mesh{
		calls:   map[uint]*groupCall{},
		members: members,
		ledger:  ledger,
		notify:  notify,
	}
}

// Ring notifies every other currently-online member of the group that a
// call is starting. It does not create the call session; that happens on
// the first join.
func (m *Mesh) Ring(ctx context.Context, from Party, groupID uint) error {
	member, err := m.members.IsMember(ctx, groupID, from.ID)
	if err != nil {
		return errors.Wrap(err, "membership check")
	}
	if !member {
		return ErrNotMember
	}

	group, err := m.members.GroupByID(ctx, groupID)
	if err != nil {
		return errors.Wrap(err, "group lookup")
	}
	ids, err := m.members.MemberIDs(ctx, groupID)
	if err != nil {
		return errors.Wrap(err, "member list")
	}

	for _, id := range ids {
		if id == from.ID {
			continue
		}
		m.notify.SendToUser(id, protocol.Event{
			Type: protocol.EventIncomingGroupCall,
			Data: protocol.IncomingGroupCall{
				GroupID:      groupID,
				GroupName:    group.Name,
				FromUserID:   from.ID,
				FromUsername: from.Username,
			},
		})
	}
	return nil
}

// Join adds the user to the group call's live set, creating the session
// lazily. The joiner receives the pre-existing participant ids and is
// responsible for offering toward each of them; existing participants are
// told a join happened and stay passive.
func (m *Mesh) Join(ctx context.Context, user Party, groupID uint) error {
	member, err := m.members.IsMember(ctx, groupID, user.ID)
	if err != nil {
		return errors.Wrap(err, "membership check")
	}
	if !member {
		return ErrNotMember
	}

	m.mu.Lock()
	gc := m.calls[groupID]
	if gc == nil {
		gc = &groupCall{
			participants: map[uint]struct{}{},
			links:        map[linkKey]*meshLink{},
			charged:      map[uint]struct{}{},
		}
		m.calls[groupID] = gc
	}
	if _, already := gc.participants[user.ID]; already {
		m.mu.Unlock()
		return nil
	}
	existing := make([]uint, 0, len(gc.participants))
	for id := range gc.participants {
		existing = append(existing, id)
	}
	gc.participants[user.ID] = struct{}{}
	m.mu.Unlock()

	sort.Slice(existing, func(i, j int) bool { return existing[i] < existing[j] })

	m.notify.SendToUser(user.ID, protocol.Event{
		Type: protocol.EventGroupCallParticipants,
		Data: protocol.GroupCallParticipants{GroupID: groupID, Participants: existing},
	})
	for _, id := range existing {
		m.notify.SendToUser(id, protocol.Event{
			Type: protocol.EventUserJoinedGroupCall,
			Data: protocol.UserJoinedGroupCall{GroupID: groupID, UserID: user.ID, Username: user.Username},
		})
	}
	logging.Infof("mesh: user %d joined call in group %d (%d peers)", user.ID, groupID, len(existing))
	return nil
}

// Leave removes the user from the call, tears down every link touching
// them and tells the remaining participants to drop their side. The last
// participant out discards the session entirely.
func (m *Mesh) Leave(userID, groupID uint) {
	m.mu.Lock()
	gc := m.calls[groupID]
	if gc == nil {
		m.mu.Unlock()
		return
	}
	if _, ok := gc.participants[userID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(gc.participants, userID)
	delete(gc.charged, userID)
	for key := range gc.links {
		if key.lo == userID || key.hi == userID {
			delete(gc.links, key)
		}
	}

	if len(gc.participants) == 0 {
		delete(m.calls, groupID)
		m.mu.Unlock()
		logging.Infof("mesh: group %d call ended, last participant %d left", groupID, userID)
		return
	}
	remaining := make([]uint, 0, len(gc.participants))
	for id := range gc.participants {
		remaining = append(remaining, id)
	}
	m.mu.Unlock()

	for _, id := range remaining {
		m.notify.SendToUser(id, protocol.Event{
			Type: protocol.EventUserLeftGroupCall,
			Data: protocol.UserLeftGroupCall{GroupID: groupID, UserID: userID},
		})
	}
}

// Disconnect sweeps the user out of every call they are in; used by the
// presence cleanup path on transport loss.
func (m *Mesh) Disconnect(userID uint) {
	m.mu.Lock()
	var affected []uint
	for groupID, gc := range m.calls {
		if _, ok := gc.participants[userID]; ok {
			affected = append(affected, groupID)
		}
	}
	m.mu.Unlock()

	for _, groupID := range affected {
		m.Leave(userID, groupID)
	}
}

// RelayOffer forwards the joiner's offer to one existing participant and
// marks that side described, flushing any candidates that raced ahead.
func (m *Mesh) RelayOffer(from, to, groupID uint, offer json.RawMessage) {
	m.mu.Lock()
	gc := m.calls[groupID]
	if gc == nil || !gc.has(from) || !gc.has(to) {
		m.mu.Unlock()
		return
	}
	key := pairKey(from, to)
	link := gc.links[key]
	if link == nil {
		link = &meshLink{offerer: from, pending: map[uint][]bufferedCandidate{}}
		gc.links[key] = link
	}
	link.offerRelayed = true
	flush := link.pending[to]
	delete(link.pending, to)
	m.mu.Unlock()

	m.notify.SendToUser(to, protocol.Event{
		Type: protocol.EventGroupCallOffer,
		Data: protocol.GroupCallSignal{FromUserID: from, GroupID: groupID, Offer: offer},
	})
	m.flush(to, groupID, flush)
}

// RelayAnswer forwards the answer back to the offerer, completing the
// pairwise negotiation, and flushes candidates buffered toward them.
func (m *Mesh) RelayAnswer(from, to, groupID uint, answer json.RawMessage) {
	m.mu.Lock()
	gc := m.calls[groupID]
	if gc == nil || !gc.has(from) || !gc.has(to) {
		m.mu.Unlock()
		return
	}
	link := gc.links[pairKey(from, to)]
	if link == nil || link.offerer != to {
		m.mu.Unlock()
		return
	}
	link.answerRelayed = true
	flush := link.pending[to]
	delete(link.pending, to)
	m.mu.Unlock()

	m.notify.SendToUser(to, protocol.Event{
		Type: protocol.EventGroupCallAnswer,
		Data: protocol.GroupCallSignal{FromUserID: from, GroupID: groupID, Answer: answer},
	})
	m.flush(to, groupID, flush)
}

// RelayICE forwards a candidate within one pairwise link, buffering it
// per destination until that side has applied its remote description.
func (m *Mesh) RelayICE(from, to, groupID uint, candidate json.RawMessage) {
	m.mu.Lock()
	gc := m.calls[groupID]
	if gc == nil || !gc.has(from) || !gc.has(to) {
		m.mu.Unlock()
		return
	}
	key := pairKey(from, to)
	link := gc.links[key]
	if link == nil {
		// candidate outran the offer; the sender must be the offerer
		link = &meshLink{offerer: from, pending: map[uint][]bufferedCandidate{}}
		gc.links[key] = link
	}
	if !link.described(to) {
		link.pending[to] = append(link.pending[to], bufferedCandidate{from: from, candidate: candidate})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.notify.SendToUser(to, protocol.Event{
		Type: protocol.EventGroupICE,
		Data: protocol.GroupCallSignal{FromUserID: from, GroupID: groupID, Candidate: candidate},
	})
}

// Connected bills a participant once their first mesh link establishes
// media. One credit per stay in the call: duplicate confirmations are
// no-ops until the user leaves and rejoins. A failed debit ejects the
// participant from the call.
func (m *Mesh) Connected(ctx context.Context, userID, groupID uint) {
	m.mu.Lock()
	gc := m.calls[groupID]
	if gc == nil || !gc.has(userID) {
		m.mu.Unlock()
		return
	}
	if _, done := gc.charged[userID]; done {
		m.mu.Unlock()
		return
	}
	gc.charged[userID] = struct{}{}
	m.mu.Unlock()

	remaining, err := m.ledger.Debit(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			m.notify.SendToUser(userID, protocol.Event{
				Type: protocol.EventCallError,
				Data: ErrCallCredit.Error(),
			})
			m.Leave(userID, groupID)
			return
		}
		logging.Errorf("mesh: debit failed for %d in group %d: %v", userID, groupID, err)
		return
	}
	m.notify.SendToUser(userID, protocol.Event{
		Type: protocol.EventCreditsUpdated,
		Data: protocol.CreditsUpdated{Credits: remaining},
	})
}

// Participants returns the live set for a group call, empty if none.
func (m *Mesh) Participants(groupID uint) []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	gc := m.calls[groupID]
	if gc == nil {
		return nil
	}
	ids := make([]uint, 0, len(gc.participants))
	for id := range gc.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (gc *groupCall) has(userID uint) bool {
	_, ok := gc.participants[userID]
	return ok
}

func (m *Mesh) flush(to, groupID uint, buffered []bufferedCandidate) {
	for _, b := range buffered {
		m.notify.SendToUser(to, protocol.Event{
			Type: protocol.EventGroupICE,
			Data: protocol.GroupCallSignal{FromUserID: b.from, GroupID: groupID, Candidate: b.candidate},
		})
	}
}
