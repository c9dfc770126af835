package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/atharvavshelke/SecureConnect/internal/call"
	"github.com/atharvavshelke/SecureConnect/internal/http/middleware"
	"github.com/atharvavshelke/SecureConnect/internal/logging"
	"github.com/atharvavshelke/SecureConnect/internal/protocol"
	"github.com/atharvavshelke/SecureConnect/internal/relay"
	"github.com/atharvavshelke/SecureConnect/internal/ws"
)

// WSHandler owns the realtime channel: it accepts the websocket, runs the
// per-connection read loop and dispatches the closed set of event kinds
// to the presence registry, the relay and the signaling services.
type WSHandler struct {
	Hub                  *ws.Hub
	Relay                *relay.Service
	Calls                *call.Signaler
	Mesh                 *call.Mesh
	JWTSecret            string
	WSInsecureSkipVerify bool
}

func (h *WSHandler) Handle(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if h.WSInsecureSkipVerify {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		return // Accept already wrote the error response
	}

	client := h.Hub.AddConn(conn)
	defer h.teardown(client)

	ctx := c.Request.Context()
	for {
		var in protocol.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		h.dispatch(ctx, client, in)
	}
}

// teardown runs on transport close. The fenced deregister decides whether
// this connection was still the live one for its identity; only then is
// call and mesh state torn down and the online set rebroadcast.
func (h *WSHandler) teardown(client *ws.Client) {
	wasLive := h.Hub.Deregister(client)
	if !wasLive {
		return
	}
	userID := client.UserID()
	h.Calls.Disconnect(userID)
	h.Mesh.Disconnect(userID)
	h.Hub.BroadcastOnline()
	logging.Infof("ws: user %d disconnected", userID)
}

// dispatch is the single switch over every inbound event kind. Unknown
// kinds are rejected instead of silently ignored.
func (h *WSHandler) dispatch(ctx context.Context, client *ws.Client, in protocol.Inbound) {
	if in.Type == protocol.EventAuthenticate {
		h.authenticate(client, in.Data)
		return
	}
	if !client.Authenticated() {
		client.Enqueue(protocol.Event{Type: protocol.EventMessageError, Data: relay.ErrNotAuthenticated.Error()})
		return
	}

	sender := relay.Sender{ID: client.UserID(), Username: client.Username(), IsAdmin: client.IsAdmin()}
	party := call.Party{ID: client.UserID(), Username: client.Username()}

	switch in.Type {
	case protocol.EventSendMessage:
		var req protocol.SendMessage
		if !decode(client, in.Data, &req) {
			return
		}
		if err := h.Relay.SendDirect(ctx, sender, req.ToUserID, req.EncryptedContent); err != nil {
			h.relayError(client, err)
		}

	case protocol.EventSendGroupMessage:
		var req protocol.SendGroupMessage
		if !decode(client, in.Data, &req) {
			return
		}
		if err := h.Relay.SendGroup(ctx, sender, req.GroupID, req.EncryptedContent); err != nil {
			h.relayError(client, err)
		}

	case protocol.EventJoinGroup:
		var groupID uint
		if !decode(client, in.Data, &groupID) {
			return
		}
		if err := h.Relay.Subscribe(ctx, sender, groupID); err != nil {
			h.relayError(client, err)
		}

	case protocol.EventCallRequest:
		var req protocol.CallRequest
		if !decode(client, in.Data, &req) {
			return
		}
		h.Calls.Request(party, req.ToUserID, req.Offer, req.Type)

	case protocol.EventCallResponse:
		var req protocol.CallResponse
		if !decode(client, in.Data, &req) {
			return
		}
		h.Calls.Respond(party, req.Accepted, req.Answer)

	case protocol.EventICECandidate:
		var req protocol.ICECandidate
		if !decode(client, in.Data, &req) {
			return
		}
		h.Calls.RelayICE(party.ID, req.ToUserID, req.Candidate)

	case protocol.EventCallConnected:
		var req protocol.CallConnected
		if !decode(client, in.Data, &req) {
			return
		}
		if req.GroupID != 0 {
			h.Mesh.Connected(ctx, party.ID, req.GroupID)
		} else {
			h.Calls.Connected(ctx, party.ID)
		}

	case protocol.EventCallEnded:
		h.Calls.End(party.ID)

	case protocol.EventGroupCallRequest:
		var req protocol.GroupCallRef
		if !decode(client, in.Data, &req) {
			return
		}
		if err := h.Mesh.Ring(ctx, party, req.GroupID); err != nil {
			h.callError(client, err)
		}

	case protocol.EventJoinGroupCall:
		var req protocol.GroupCallRef
		if !decode(client, in.Data, &req) {
			return
		}
		if err := h.Mesh.Join(ctx, party, req.GroupID); err != nil {
			h.callError(client, err)
		}

	case protocol.EventLeaveGroupCall:
		var req protocol.GroupCallRef
		if !decode(client, in.Data, &req) {
			return
		}
		h.Mesh.Leave(party.ID, req.GroupID)

	case protocol.EventGroupCallOffer:
		var req protocol.GroupCallSignal
		if !decode(client, in.Data, &req) {
			return
		}
		h.Mesh.RelayOffer(party.ID, req.ToUserID, req.GroupID, req.Offer)

	case protocol.EventGroupCallAnswer:
		var req protocol.GroupCallSignal
		if !decode(client, in.Data, &req) {
			return
		}
		h.Mesh.RelayAnswer(party.ID, req.ToUserID, req.GroupID, req.Answer)

	case protocol.EventGroupICE:
		var req protocol.GroupCallSignal
		if !decode(client, in.Data, &req) {
			return
		}
		h.Mesh.RelayICE(party.ID, req.ToUserID, req.GroupID, req.Candidate)

	default:
		client.Enqueue(protocol.Event{Type: protocol.EventMessageError, Data: "Unknown event: " + in.Type})
	}
}

// authenticate verifies the in-band token and registers the connection in
// the presence registry. Failure is reported to this connection only; the
// connection stays anonymous and everything else keeps rejecting it.
func (h *WSHandler) authenticate(client *ws.Client, data json.RawMessage) {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		client.Enqueue(protocol.Event{Type: protocol.EventAuthError, Data: "Invalid token"})
		return
	}

	claims, err := middleware.ParseToken(token, h.JWTSecret)
	if err != nil {
		client.Enqueue(protocol.Event{Type: protocol.EventAuthError, Data: "Invalid token"})
		return
	}

	client.Bind(claims.UserID, claims.Username, claims.IsAdmin)
	h.Hub.Register(client)
	h.Hub.BroadcastOnline()
	logging.Infof("ws: user %d (%s) authenticated", claims.UserID, claims.Username)
}

func (h *WSHandler) relayError(client *ws.Client, err error) {
	client.Enqueue(protocol.Event{Type: protocol.EventMessageError, Data: userFacing(err)})
}

func (h *WSHandler) callError(client *ws.Client, err error) {
	client.Enqueue(protocol.Event{Type: protocol.EventCallError, Data: userFacing(err)})
}

// userFacing keeps storage failures vague while letting the sentinel
// rejections through verbatim.
func userFacing(err error) string {
	switch {
	case err == relay.ErrNotAuthenticated,
		err == relay.ErrAdminSender,
		err == relay.ErrNotMember,
		err == relay.ErrNoCredits,
		err == call.ErrNotMember:
		return err.Error()
	default:
		logging.Errorf("ws: %v", err)
		return "Failed to process request"
	}
}

func decode(client *ws.Client, data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		client.Enqueue(protocol.Event{Type: protocol.EventMessageError, Data: "Malformed payload"})
		return false
	}
	return true
}
