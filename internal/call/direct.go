// Package call holds the in-memory signaling state for voice calls:
// per-pair sessions for one-to-one calls and the participant sets and
// pairwise links of group mesh calls. All of it is ephemeral runtime
// state; nothing here survives a process restart.
package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/atharvavshelke/SecureConnect/internal/logging"
	"github.com/atharvavshelke/SecureConnect/internal/protocol"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

var (
	ErrNotMember  = errors.New("Not a member of this group")
	ErrCallCredit = errors.New("Insufficient credits for calling. Call will be disconnected.")
)

// Party identifies an authenticated caller or callee.
type Party struct {
	ID       uint
	Username string
}

// Ledger is the economic gate shared with the relay.
type Ledger interface {
	Debit(ctx context.Context, userID uint) (int, error)
}

// Notifier delivers signaling events to live connections.
type Notifier interface {
	SendToUser(userID uint, ev protocol.Event) bool
	Online(userID uint) bool
}

type sessionState int

const (
	stateRinging sessionState = iota + 1
	stateConnected
)

// session is one direct call negotiation. Candidates for a destination
// that has not applied its remote description yet queue in arrival order.
// The callee applies the remote description with the incoming offer, the
// caller with the relayed answer.
type session struct {
	epoch  string
	caller uint
	callee uint
	state  sessionState

	callerDescribed bool
	calleeDescribed bool
	pendingToCaller []json.RawMessage
	pendingToCallee []json.RawMessage

	charged bool
}

func (s *session) other(userID uint) uint {
	if userID == s.caller {
		return s.callee
	}
	return s.caller
}

// Signaler relays offer/answer/ICE for one-to-one calls. A user appears
// in at most one session at a time; the session is registered under both
// party ids and removed on any terminal transition.
type Signaler struct {
	mu       sync.Mutex
	sessions map[uint]*session

	ledger Ledger
	notify Notifier
}

func NewSignaler(ledger Ledger, notify Notifier) *Signaler {
	return &Signaler{
		sessions: map[uint]*session{},
		ledger:   ledger,
		notify:   notify,
	}
}

func busyAnswer(fromUserID uint) protocol.Event {
	return protocol.Event{Type: protocol.EventCallAnswered, Data: protocol.CallAnswered{
		FromUserID: fromUserID,
		Accepted:   false,
		Busy:       true,
	}}
}

// Request starts a negotiation. A callee that is offline or already in a
// call yields an immediate busy answer to the caller with no ring shown
// to the callee.
func (s *Signaler) Request(caller Party, calleeID uint, offer json.RawMessage, callType string) {
	s.mu.Lock()
	if s.sessions[caller.ID] != nil || s.sessions[calleeID] != nil || !s.notify.Online(calleeID) {
		s.mu.Unlock()
		s.notify.SendToUser(caller.ID, busyAnswer(calleeID))
		return
	}

	sess := &session{
		epoch:  uuid.NewString(),
		caller: caller.ID,
		callee: calleeID,
		state:  stateRinging,
		// delivering the offer gives the callee its remote description
		calleeDescribed: true,
	}
	s.sessions[caller.ID] = sess
	s.sessions[calleeID] = sess
	s.mu.Unlock()

	delivered := s.notify.SendToUser(calleeID, protocol.Event{
		Type: protocol.EventIncomingCall,
		Data: protocol.IncomingCall{
			FromUserID:   caller.ID,
			FromUsername: caller.Username,
			Offer:        offer,
			Type:         callType,
		},
	})
	if !delivered {
		// callee vanished between the check and the ring
		s.drop(sess)
		s.notify.SendToUser(caller.ID, busyAnswer(calleeID))
		return
	}
	logging.Infof("call: %d ringing %d (epoch %s)", caller.ID, calleeID, sess.epoch)
}

// Respond relays the callee's decision. Accepting applies the answer on
// the caller side and flushes any candidates buffered before the remote
// description existed; declining tears the session down.
func (s *Signaler) Respond(callee Party, accepted bool, answer json.RawMessage) {
	s.mu.Lock()
	sess := s.sessions[callee.ID]
	if sess == nil || sess.callee != callee.ID || sess.state != stateRinging {
		s.mu.Unlock()
		return
	}

	if !accepted {
		delete(s.sessions, sess.caller)
		delete(s.sessions, sess.callee)
		s.mu.Unlock()
		s.notify.SendToUser(sess.caller, protocol.Event{
			Type: protocol.EventCallAnswered,
			Data: protocol.CallAnswered{FromUserID: callee.ID, Accepted: false},
		})
		return
	}

	sess.state = stateConnected
	sess.callerDescribed = true
	pending := sess.pendingToCaller
	sess.pendingToCaller = nil
	s.mu.Unlock()

	s.notify.SendToUser(sess.caller, protocol.Event{
		Type: protocol.EventCallAnswered,
		Data: protocol.CallAnswered{FromUserID: callee.ID, Accepted: true, Answer: answer},
	})
	for _, cand := range pending {
		s.notify.SendToUser(sess.caller, protocol.Event{
			Type: protocol.EventICECandidate,
			Data: protocol.ICECandidate{FromUserID: callee.ID, Candidate: cand},
		})
	}
}

// RelayICE forwards a candidate between the two parties of a live
// session, buffering it if the destination has not applied its remote
// description yet. Candidates outside any session are dropped.
func (s *Signaler) RelayICE(fromUserID, toUserID uint, candidate json.RawMessage) {
	s.mu.Lock()
	sess := s.sessions[fromUserID]
	if sess == nil || sess.other(fromUserID) != toUserID {
		s.mu.Unlock()
		return
	}

	if toUserID == sess.caller && !sess.callerDescribed {
		sess.pendingToCaller = append(sess.pendingToCaller, candidate)
		s.mu.Unlock()
		return
	}
	if toUserID == sess.callee && !sess.calleeDescribed {
		sess.pendingToCallee = append(sess.pendingToCallee, candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.notify.SendToUser(toUserID, protocol.Event{
		Type: protocol.EventICECandidate,
		Data: protocol.ICECandidate{FromUserID: fromUserID, Candidate: candidate},
	})
}

// Connected is the caller-only confirmation that media actually
// established. It is the single billing point: one credit per negotiation
// epoch, so a duplicate confirmation never charges twice and a declined
// or missed call never costs anything. A failed debit tears the call
// down.
func (s *Signaler) Connected(ctx context.Context, callerID uint) {
	s.mu.Lock()
	sess := s.sessions[callerID]
	if sess == nil || sess.caller != callerID || sess.charged {
		s.mu.Unlock()
		return
	}
	sess.charged = true
	epoch := sess.epoch
	s.mu.Unlock()

	remaining, err := s.ledger.Debit(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			s.notify.SendToUser(callerID, protocol.Event{
				Type: protocol.EventCallError,
				Data: ErrCallCredit.Error(),
			})
			s.End(callerID)
			return
		}
		logging.Errorf("call: debit failed for %d: %v", callerID, err)
		return
	}
	logging.Infof("call: %d connected, charged 1 credit (epoch %s)", callerID, epoch)
	s.notify.SendToUser(callerID, protocol.Event{
		Type: protocol.EventCreditsUpdated,
		Data: protocol.CreditsUpdated{Credits: remaining},
	})
}

// End terminates whatever session the party is in and notifies the other
// side. Ending an already-ended call is a no-op, and local state is
// released regardless of whether the notification lands.
func (s *Signaler) End(partyID uint) {
	s.mu.Lock()
	sess := s.sessions[partyID]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.caller)
	delete(s.sessions, sess.callee)
	other := sess.other(partyID)
	s.mu.Unlock()

	s.notify.SendToUser(other, protocol.Event{
		Type: protocol.EventCallEnded,
		Data: protocol.CallEnded{FromUserID: partyID},
	})
}

// Disconnect is the cleanup hook for transport loss; by the time it runs
// the call may already be gone, which is fine.
func (s *Signaler) Disconnect(userID uint) {
	s.End(userID)
}

func (s *Signaler) drop(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.caller] == sess {
		delete(s.sessions, sess.caller)
	}
	if s.sessions[sess.callee] == sess {
		delete(s.sessions, sess.callee)
	}
	s.mu.Unlock()
}

// InCall reports whether the user currently has a live session.
func (s *Signaler) InCall(userID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID] != nil
}
