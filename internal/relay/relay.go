//go:generate go run go.uber.org/mock/mockgen -source=relay.go -destination=../mocks/mock_relay.go -package=mocks
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

// MessageStore persists messages. Create assigns ID and CreatedAt.
type MessageStore interface {
	Create(ctx context.Context, message *domain.Message) error
}

// IdentitySource tells who a session belongs to. It is consulted on every
// event; a nil identity or an error means the session is not authenticated.
type IdentitySource interface {
	Resolve(ctx context.Context, session *Session) (*domain.Identity, error)
}

// Presence is notified when a user gains their first or loses their last session.
type Presence interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
}

type Config struct {
	OperatorID       int64
	StoreTimeout     time.Duration
	MaxContentLength int
}

// Relay persists chat messages and pushes them to live sessions. All failures
// are scoped to the connection that caused them.
type Relay struct {
	cfg        Config
	registry   *Registry
	store      MessageStore
	identities IdentitySource
	presence   Presence
	validate   *validator.Validate
	log        logger.Logger

	presenceMu [presenceStripes]sync.Mutex
}

const presenceStripes = 64

func New(cfg Config, registry *Registry, store MessageStore, identities IdentitySource, presence Presence, log logger.Logger) *Relay {
	return &Relay{
		cfg:        cfg,
		registry:   registry,
		store:      store,
		identities: identities,
		presence:   presence,
		validate:   validator.New(),
		log:        log,
	}
}

func (r *Relay) OperatorID() int64 {
	return r.cfg.OperatorID
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

// Join registers s under claimedUserID. Invalid or spoofed claims are ignored
// without telling the client.
func (r *Relay) Join(ctx context.Context, s *Session, claimedUserID int64) {
	if claimedUserID <= 0 {
		r.log.Debug("Ignoring join without user id", "session_id", s.ID)
		return
	}
	if s.State() == StateClosed {
		return
	}

	identity, err := r.resolve(ctx, s)
	if err != nil {
		r.log.Warn("Ignoring join from unauthenticated session", "session_id", s.ID, "claimed_user_id", claimedUserID, "error", err)
		return
	}

	userID := r.participantID(identity)
	if claimedUserID != userID && claimedUserID != identity.UserID {
		r.log.Warn("Ignoring join for another user", "session_id", s.ID, "claimed_user_id", claimedUserID, "user_id", identity.UserID)
		return
	}

	if !s.markJoined(userID) {
		return
	}
	first, vacated := r.registry.Add(userID, s)

	// Disconnect может прийти из другой горутины между markJoined и Add
	if s.State() == StateClosed {
		r.Disconnect(ctx, s)
		return
	}

	if vacated != 0 {
		r.syncPresence(ctx, vacated)
	}
	if first {
		r.syncPresence(ctx, userID)
	}
	r.log.Debug("Session joined", "session_id", s.ID, "user_id", userID)
}

// Send validates the payload against the session's current identity, persists
// the message and pushes it. Any failure is also reported to s as an error event.
func (r *Relay) Send(ctx context.Context, s *Session, payload domain.SendPayload) (*domain.Message, error) {
	if s.State() == StateClosed {
		return nil, apperrors.ErrSessionClosed
	}

	message, err := r.send(ctx, s, payload)
	if err != nil {
		r.emitError(ctx, s, err)
		return nil, err
	}
	return message, nil
}

func (r *Relay) send(ctx context.Context, s *Session, payload domain.SendPayload) (*domain.Message, error) {
	if strings.TrimSpace(payload.Content) == "" {
		r.log.Warn("Rejected message", "session_id", s.ID, "error", apperrors.ErrEmptyContent)
		return nil, apperrors.ErrEmptyContent
	}

	identity, err := r.resolve(ctx, s)
	if err != nil {
		r.log.Warn("Rejected message from unresolved sender", "session_id", s.ID, "error", err)
		if errors.Is(err, apperrors.ErrReservedOperatorID) {
			return nil, err
		}
		return nil, apperrors.ErrUnresolvedSender
	}

	return r.Submit(ctx, identity, payload, s)
}

// Submit is Send for a caller that already holds an identity, such as the HTTP
// send endpoint. origin, when not nil, receives the stored message as its
// acknowledgment.
func (r *Relay) Submit(ctx context.Context, identity *domain.Identity, payload domain.SendPayload, origin *Session) (*domain.Message, error) {
	if identity == nil {
		return nil, apperrors.ErrUnresolvedSender
	}
	if err := r.checkIdentity(identity); err != nil {
		r.log.Warn("Rejected message", "user_id", identity.UserID, "error", err)
		return nil, err
	}

	message, err := r.prepare(identity, payload)
	if err != nil {
		r.log.Warn("Rejected message", "user_id", identity.UserID, "error", err)
		return nil, err
	}

	// Запись не отменяется при закрытии соединения, но ограничена по времени
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
	defer cancel()

	if err := r.store.Create(storeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(storeCtx.Err(), context.DeadlineExceeded) {
			r.log.Error("Message store timed out", "user_id", identity.UserID, "timeout", r.cfg.StoreTimeout)
		} else {
			r.log.Error("Message store failed", "user_id", identity.UserID, "error", err)
		}
		return nil, apperrors.ErrStoreUnavailable
	}

	r.deliver(ctx, message, origin)
	return message, nil
}

// prepare applies the topology rule: ordinary users always write to the
// operator, the operator must name the user it writes to.
func (r *Relay) prepare(identity *domain.Identity, payload domain.SendPayload) (*domain.Message, error) {
	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return nil, apperrors.ErrEmptyContent
	}

	if payload.SenderType == domain.SenderTypeAdmin && !identity.IsOperator {
		return nil, apperrors.ErrOperatorForbidden
	}

	senderID := r.participantID(identity)
	if payload.SenderID != "" {
		claimed, ok := domain.ParseUserID(payload.SenderID)
		if !ok || (claimed != senderID && claimed != identity.UserID) {
			return nil, apperrors.ErrSenderMismatch
		}
	}

	message := &domain.Message{
		SenderID: senderID,
		Content:  content,
		Type:     payload.Type,
	}

	if identity.IsOperator {
		receiverID, ok := domain.ParseUserID(payload.ReceiverID)
		if !ok || receiverID == r.cfg.OperatorID {
			return nil, apperrors.ErrMissingReceiver
		}
		message.ReceiverID = receiverID
		message.SenderType = domain.SenderTypeAdmin
	} else {
		message.ReceiverID = r.cfg.OperatorID
		message.SenderType = domain.SenderTypeUser
	}

	if message.Type == "" {
		message.Type = domain.MessageTypeText
	}
	if !domain.ValidMessageType(message.Type) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidMessageType, message.Type)
	}

	switch message.Type {
	case domain.MessageTypeText:
		if r.cfg.MaxContentLength > 0 {
			if err := r.validate.Var(content, "max="+strconv.Itoa(r.cfg.MaxContentLength)); err != nil {
				return nil, fmt.Errorf("%w: longer than %d characters", apperrors.ErrInvalidContent, r.cfg.MaxContentLength)
			}
		}
	default:
		if err := r.validate.Var(content, "uri"); err != nil {
			return nil, fmt.Errorf("%w: %s content must be a locator", apperrors.ErrInvalidContent, message.Type)
		}
	}

	return message, nil
}

// deliver pushes message once to every distinct live session of both parties
// and to origin. A session whose queue is full is disconnected.
func (r *Relay) deliver(ctx context.Context, message *domain.Message, origin *Session) {
	frame, err := encodeEvent(domain.EventMessage, message)
	if err != nil {
		r.log.Error("Failed to encode message event", "message_id", message.ID, "error", err)
		return
	}

	targets := r.registry.SessionsFor(message.SenderID, message.ReceiverID)
	if origin != nil {
		targets = append(targets, origin)
	}
	targets = lo.UniqBy(targets, func(s *Session) uuid.UUID { return s.ID })

	for _, s := range targets {
		r.push(ctx, s, frame)
	}
	r.log.Debug("Message delivered", "message_id", message.ID, "sessions", len(targets))
}

func (r *Relay) push(ctx context.Context, s *Session, frame []byte) {
	if s.enqueue(frame) {
		return
	}
	if s.State() != StateClosed {
		r.log.Warn("Outbound queue full, dropping session", "session_id", s.ID, "user_id", s.UserID())
		r.Disconnect(ctx, s)
	}
}

func (r *Relay) emitError(ctx context.Context, s *Session, err error) {
	text := "message send failed"
	if apperrors.IsValidation(err) || errors.Is(err, apperrors.ErrBadRequest) {
		text = err.Error()
	}
	frame, encErr := encodeEvent(domain.EventError, domain.ErrorPayload{Message: text})
	if encErr != nil {
		r.log.Error("Failed to encode error event", "error", encErr)
		return
	}
	r.push(ctx, s, frame)
}

// Disconnect closes s and removes it from the registry. Safe to call repeatedly.
func (r *Relay) Disconnect(ctx context.Context, s *Session) {
	closed := s.close()
	userID, last, ok := r.registry.Remove(s)
	if ok && last {
		r.syncPresence(ctx, userID)
	}
	if closed {
		r.log.Debug("Session closed", "session_id", s.ID, "user_id", userID)
	}
}

func (r *Relay) resolve(ctx context.Context, s *Session) (*domain.Identity, error) {
	identity, err := r.identities.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, apperrors.ErrUnresolvedSender
	}
	if err := r.checkIdentity(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// checkIdentity refuses an ordinary account that holds the operator's id: it
// would otherwise be registered under the operator's key.
func (r *Relay) checkIdentity(identity *domain.Identity) error {
	if !identity.IsOperator && identity.UserID == r.cfg.OperatorID {
		return apperrors.ErrReservedOperatorID
	}
	return nil
}

func (r *Relay) participantID(identity *domain.Identity) int64 {
	if identity.IsOperator {
		return r.cfg.OperatorID
	}
	return identity.UserID
}

// syncPresence writes the user's current registry state to the presence store.
// Calls for one user are serialized and read the registry under the stripe
// lock, so the last write always matches the last registry change.
func (r *Relay) syncPresence(ctx context.Context, userID int64) {
	mu := &r.presenceMu[uint64(userID)%presenceStripes]
	mu.Lock()
	defer mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if r.registry.IsOnline(userID) {
		if err := r.presence.MarkOnline(ctx, userID); err != nil {
			r.log.Warn("Failed to mark user online", "user_id", userID, "error", err)
		}
		return
	}
	if err := r.presence.MarkOffline(ctx, userID); err != nil {
		r.log.Warn("Failed to mark user offline", "user_id", userID, "error", err)
	}
}

func encodeEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Envelope{Event: name, Data: raw})
}
