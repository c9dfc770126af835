// Package protocol defines the realtime event contract. Every event that
// can cross the websocket is named here; the dispatcher switches
// exhaustively over the client-to-server kinds and rejects anything else.
package protocol

import (
	"encoding/json"
	"time"
)

// Client-to-server event kinds.
const (
	EventAuthenticate     = "authenticate"
	EventSendMessage      = "send-message"
	EventSendGroupMessage = "send-group-message"
	EventJoinGroup        = "join-group"
	EventCallRequest      = "call-request"
	EventCallResponse     = "call-response"
	EventICECandidate     = "ice-candidate"
	EventCallConnected    = "call-connected"
	EventCallEnded        = "call-ended"
	EventGroupCallRequest = "group-call-request"
	EventJoinGroupCall    = "join-group-call"
	EventLeaveGroupCall   = "leave-group-call"
	EventGroupCallOffer   = "group-call-offer"
	EventGroupCallAnswer  = "group-call-answer"
	EventGroupICE         = "group-ice-candidate"
)

// Server-to-client event kinds. The pairwise relay kinds (ice-candidate,
// call-ended, group-call-offer/-answer/-ice) reuse the inbound names.
const (
	EventAuthError             = "auth-error"
	EventUsersOnline           = "users-online"
	EventReceiveMessage        = "receive-message"
	EventMessageSent           = "message-sent"
	EventMessageError          = "message-error"
	EventReceiveGroupMessage   = "receive-group-message"
	EventIncomingCall          = "incoming-call"
	EventCallAnswered          = "call-answered"
	EventCallError             = "call-error"
	EventCreditsUpdated        = "credits-updated"
	EventIncomingGroupCall     = "incoming-group-call"
	EventGroupCallParticipants = "group-call-participants"
	EventUserJoinedGroupCall   = "user-joined-group-call"
	EventUserLeftGroupCall     = "user-left-group-call"
)

// Event is the outbound wire envelope.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Inbound is the raw client frame; Data stays opaque until the dispatcher
// knows the kind.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendMessage is the send-message payload. EncryptedContent is the opaque
// envelope; the server never looks inside.
type SendMessage struct {
	ToUserID         uint   `json:"toUserId"`
	EncryptedContent string `json:"encryptedContent"`
}

type SendGroupMessage struct {
	GroupID          uint   `json:"groupId"`
	EncryptedContent string `json:"encryptedContent"`
}

// DirectMessage is the canonical stored record echoed to both parties.
type DirectMessage struct {
	ID               uint      `json:"id"`
	FromUserID       uint      `json:"fromUserId"`
	FromUsername     string    `json:"fromUsername"`
	ToUserID         uint      `json:"toUserId"`
	EncryptedContent string    `json:"encryptedContent"`
	Timestamp        time.Time `json:"timestamp"`
}

type GroupChatMessage struct {
	ID               uint      `json:"id"`
	GroupID          uint      `json:"groupId"`
	FromUserID       uint      `json:"fromUserId"`
	FromUsername     string    `json:"fromUsername"`
	EncryptedContent string    `json:"encryptedContent"`
	CreatedAt        time.Time `json:"created_at"`
}

type CallRequest struct {
	ToUserID uint            `json:"toUserId"`
	Offer    json.RawMessage `json:"offer"`
	Type     string          `json:"type"`
}

type IncomingCall struct {
	FromUserID   uint            `json:"fromUserId"`
	FromUsername string          `json:"fromUsername"`
	Offer        json.RawMessage `json:"offer"`
	Type         string          `json:"type"`
}

type CallResponse struct {
	ToUserID uint            `json:"toUserId"`
	Accepted bool            `json:"accepted"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

type CallAnswered struct {
	FromUserID uint            `json:"fromUserId"`
	Accepted   bool            `json:"accepted"`
	Busy       bool            `json:"busy,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
}

type ICECandidate struct {
	ToUserID   uint            `json:"toUserId,omitempty"`
	FromUserID uint            `json:"fromUserId,omitempty"`
	Candidate  json.RawMessage `json:"candidate"`
}

type CallConnected struct {
	ToUserID uint `json:"toUserId,omitempty"`
	GroupID  uint `json:"groupId,omitempty"`
}

type CreditsUpdated struct {
	Credits int `json:"credits"`
}

type CallEnded struct {
	ToUserID   uint `json:"toUserId,omitempty"`
	FromUserID uint `json:"fromUserId,omitempty"`
}

type GroupCallRef struct {
	GroupID uint `json:"groupId"`
}

type IncomingGroupCall struct {
	GroupID      uint   `json:"groupId"`
	GroupName    string `json:"groupName"`
	FromUserID   uint   `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
}

type GroupCallParticipants struct {
	GroupID      uint   `json:"groupId"`
	Participants []uint `json:"participants"`
}

type UserJoinedGroupCall struct {
	GroupID  uint   `json:"groupId"`
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type UserLeftGroupCall struct {
	GroupID uint `json:"groupId"`
	UserID  uint `json:"userId"`
}

// GroupCallSignal covers the pairwise mesh relays: offer, answer and ICE.
// Exactly one of Offer/Answer/Candidate is set, matching the event kind.
type GroupCallSignal struct {
	ToUserID   uint            `json:"toUserId,omitempty"`
	FromUserID uint            `json:"fromUserId,omitempty"`
	GroupID    uint            `json:"groupId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}
