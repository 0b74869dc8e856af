package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
)

// Handle decodes one inbound frame and runs the event it carries. Events of a
// session must be handled one at a time, in receipt order.
func (r *Relay) Handle(ctx context.Context, s *Session, frame []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		r.emitError(ctx, s, fmt.Errorf("%w: malformed frame", apperrors.ErrBadRequest))
		return
	}

	switch env.Event {
	case domain.EventJoin:
		var payload domain.JoinPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			r.log.Debug("Ignoring malformed join", "session_id", s.ID, "error", err)
			return
		}
		userID, ok := domain.ParseUserID(payload.UserID)
		if !ok {
			r.log.Debug("Ignoring malformed join", "session_id", s.ID, "user_id", payload.UserID.String())
			return
		}
		r.Join(ctx, s, userID)

	case domain.EventSend, domain.EventSendMessage, domain.EventSendDashed, domain.EventAdminReply:
		var payload domain.SendPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			r.emitError(ctx, s, fmt.Errorf("%w: malformed send payload", apperrors.ErrBadRequest))
			return
		}
		if env.Event == domain.EventAdminReply && payload.SenderType == "" {
			payload.SenderType = domain.SenderTypeAdmin
		}
		_, _ = r.Send(ctx, s, payload)

	default:
		r.emitError(ctx, s, fmt.Errorf("%w: unknown event %q", apperrors.ErrBadRequest, env.Event))
	}
}
