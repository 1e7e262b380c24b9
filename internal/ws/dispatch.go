package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/observability"
	"github.com/localhub/internal/room"
	"github.com/localhub/internal/service"
)

const commandTimeout = 5 * time.Second

var errNotReady = errors.New("transport not ready")

// HandleMessage dispatches one inbound event. Failures go back to the originating session
// only, as an error event.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, in event.Incoming) {
	defer logger.DeferLogDuration("ws."+string(in.Type), time.Now())()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch in.Type {
	case event.JoinRoom:
		err = h.handleJoin(c, in)
	case event.LeaveRoom:
		h.Leave(c.id, in.RoomKey)
	case event.SendMessage, event.SendReaction, event.EditMessage, event.DeleteMessage, event.MarkMessageRead:
		cmds := h.commands()
		if cmds == nil {
			logger.Errorf("ws %s before commands were wired", in.Type)
			err = errNotReady
			break
		}
		err = h.handleCommand(ctx, cmds, c, in)
	default:
		observability.WebSocketEventsTotal.WithLabelValues("unknown", "error").Inc()
		h.sendError(c, service.ErrInvalidArgument, "unknown event type", in.ClientNonce)
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		h.sendError(c, err, service.PublicMessage(err), in.ClientNonce)
	}
	observability.WebSocketEventsTotal.WithLabelValues(string(in.Type), outcome).Inc()
}

func (h *Hub) handleJoin(c *Client, in event.Incoming) error {
	if !room.CanJoin(c.ref, in.RoomKey) {
		return service.ErrUnauthorized
	}
	if !h.Join(c.id, in.RoomKey) {
		return service.ErrNotFound
	}
	h.sendToClient(c, event.New(event.RoomJoined, event.RoomJoinedPayload{RoomKey: in.RoomKey}))
	return nil
}

func (h *Hub) handleCommand(ctx context.Context, cmds Commands, c *Client, in event.Incoming) error {
	switch in.Type {
	case event.SendMessage:
		if in.Recipient == nil {
			return fmt.Errorf("%w: recipient required", service.ErrInvalidArgument)
		}
		// The sender's session joins the room so it receives its own broadcast.
		if key, err := room.ForMessage(c.ref, *in.Recipient, in.ProductID); err == nil {
			h.Join(c.id, key)
		}
		_, err := cmds.Send(ctx, service.SendInput{
			Sender:    c.ref,
			Recipient: *in.Recipient,
			Text:      in.Text,
			ReplyToID: in.ReplyToID,
			ProductID: in.ProductID,
			Media:     in.Media,
		})
		return err
	case event.SendReaction:
		if in.Remove {
			_, err := cmds.Unreact(ctx, c.ref, in.MessageID, in.Emoji)
			return err
		}
		_, err := cmds.React(ctx, c.ref, in.MessageID, in.Emoji)
		return err
	case event.EditMessage:
		_, err := cmds.Edit(ctx, service.EditInput{
			Editor:      c.ref,
			MessageID:   in.MessageID,
			Text:        in.Text,
			RemoveMedia: in.RemoveMedia,
			AddMedia:    in.Media,
		})
		return err
	case event.DeleteMessage:
		return cmds.Delete(ctx, c.ref, in.MessageID)
	case event.MarkMessageRead:
		_, err := cmds.MarkRoomRead(ctx, c.ref, in.RoomKey)
		return err
	}
	return nil
}

func (h *Hub) sendError(c *Client, err error, msg, nonce string) {
	h.sendToClient(c, event.New(event.Error, event.ErrorPayload{
		Code:        service.Code(err),
		Message:     msg,
		ClientNonce: nonce,
	}))
}
