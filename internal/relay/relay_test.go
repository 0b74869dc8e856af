package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"support_chat/internal/domain"
	"support_chat/internal/mocks"
	"support_chat/internal/relay"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

const operatorID int64 = 1

type fixture struct {
	relay      *relay.Relay
	store      *mocks.MockMessageStore
	identities *mocks.MockIdentitySource
	presence   *mocks.MockPresence

	mu     sync.Mutex
	nextID int64
	stored []domain.Message
	tokens map[string]*domain.Identity
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithTimeout(t, time.Second)
}

func newFixtureWithTimeout(t *testing.T, storeTimeout time.Duration) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		store:      mocks.NewMockMessageStore(ctrl),
		identities: mocks.NewMockIdentitySource(ctrl),
		presence:   mocks.NewMockPresence(ctrl),
		tokens: map[string]*domain.Identity{
			"operator": {UserID: operatorID, Email: "admin@example.com", IsOperator: true},
			"user-7":   {UserID: 7, Email: "u7@example.com"},
			"user-8":   {UserID: 8, Email: "u8@example.com"},
			// An ordinary account that happens to hold the operator's id
			"user-1": {UserID: operatorID, Email: "first@example.com"},
		},
	}

	f.identities.EXPECT().Resolve(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, s *relay.Session) (*domain.Identity, error) {
			identity, ok := f.tokens[s.Token]
			if !ok {
				return nil, apperrors.ErrUnauthorized
			}
			return identity, nil
		}).AnyTimes()

	f.relay = relay.New(
		relay.Config{OperatorID: operatorID, StoreTimeout: storeTimeout, MaxContentLength: 50},
		relay.NewRegistry(), f.store, f.identities, f.presence, logger.Discard(),
	)
	return f
}

// persisting makes the store assign ids and timestamps like the database does.
func (f *fixture) persisting() {
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, m *domain.Message) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.nextID++
			m.ID = f.nextID
			m.CreatedAt = time.Now()
			f.stored = append(f.stored, *m)
			return nil
		}).AnyTimes()
}

func (f *fixture) ignorePresence() {
	f.presence.EXPECT().MarkOnline(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.presence.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (f *fixture) joined(t *testing.T, token string, userID int64) *relay.Session {
	s := relay.NewSession(token, "127.0.0.1", 8)
	f.relay.Join(context.Background(), s, userID)
	require.Equal(t, relay.StateJoined, s.State())
	return s
}

func drain(t *testing.T, s *relay.Session) []domain.Envelope {
	t.Helper()
	var events []domain.Envelope
	for {
		select {
		case frame, ok := <-s.Outbound():
			if !ok {
				return events
			}
			var env domain.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			events = append(events, env)
		default:
			return events
		}
	}
}

func decodeMessage(t *testing.T, env domain.Envelope) domain.Message {
	t.Helper()
	require.Equal(t, domain.EventMessage, env.Event)
	var m domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &m))
	return m
}

func decodeError(t *testing.T, env domain.Envelope) string {
	t.Helper()
	require.Equal(t, domain.EventError, env.Event)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p.Message
}

func TestRelay_Send_User_Message_Is_Forced_To_Operator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	// Given user 7 is joined and the operator is offline
	user := f.joined(t, "user-7", 7)
	other := f.joined(t, "user-8", 8)

	// When the user addresses another user
	msg, err := f.relay.Send(context.Background(), user, domain.SendPayload{
		ReceiverID: "8",
		Content:    "hello",
		Type:       domain.MessageTypeText,
	})

	// Then the message is stored for the operator
	req.NoError(err)
	req.Len(f.stored, 1)
	req.Equal(int64(7), f.stored[0].SenderID)
	req.Equal(operatorID, f.stored[0].ReceiverID)
	req.Equal("hello", f.stored[0].Content)
	req.Equal(domain.MessageTypeText, f.stored[0].Type)
	req.Equal(domain.SenderTypeUser, f.stored[0].SenderType)

	// And the sender gets the stored row as acknowledgment
	events := drain(t, user)
	req.Len(events, 1)
	ack := decodeMessage(t, events[0])
	req.Equal(msg.ID, ack.ID)
	req.True(msg.CreatedAt.Equal(ack.CreatedAt))

	// And nobody else hears about it
	req.Empty(drain(t, other))
}

func TestRelay_Send_Delivers_Identical_Row_To_Both_Parties(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	user := f.joined(t, "user-7", 7)
	operator := f.joined(t, "operator", operatorID)

	// When the operator replies to user 7
	_, err := f.relay.Send(context.Background(), operator, domain.SendPayload{
		SenderID:   json.Number("1"),
		ReceiverID: json.Number("7"),
		Content:    "hi",
	})
	req.NoError(err)

	// Then each side receives exactly one identical event
	userEvents := drain(t, user)
	operatorEvents := drain(t, operator)
	req.Len(userEvents, 1)
	req.Len(operatorEvents, 1)

	got := decodeMessage(t, userEvents[0])
	req.Equal(got, decodeMessage(t, operatorEvents[0]))
	req.Equal(operatorID, got.SenderID)
	req.Equal(int64(7), got.ReceiverID)
	req.Equal(domain.SenderTypeAdmin, got.SenderType)
	req.Equal("hi", got.Content)
}

func TestRelay_Send_User_To_Joined_Operator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	user := f.joined(t, "user-7", 7)
	operator := f.joined(t, "operator", operatorID)

	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: "need help"})
	req.NoError(err)

	userEvents := drain(t, user)
	operatorEvents := drain(t, operator)
	req.Len(userEvents, 1)
	req.Len(operatorEvents, 1)
	req.Equal(decodeMessage(t, userEvents[0]), decodeMessage(t, operatorEvents[0]))
}

func TestRelay_Send_Fans_Out_To_Every_Session_Of_A_User(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	phone := f.joined(t, "user-7", 7)
	laptop := f.joined(t, "user-7", 7)
	operator := f.joined(t, "operator", operatorID)

	_, err := f.relay.Send(context.Background(), operator, domain.SendPayload{ReceiverID: "7", Content: "hi"})
	req.NoError(err)

	req.Len(drain(t, phone), 1)
	req.Len(drain(t, laptop), 1)
	req.Len(drain(t, operator), 1)
}

func TestRelay_Send_Rejects_Invalid_Payloads(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		payload domain.SendPayload
		wantErr error
	}{
		{"empty content", "user-7", domain.SendPayload{Content: ""}, apperrors.ErrEmptyContent},
		{"blank content", "user-7", domain.SendPayload{Content: "   \n"}, apperrors.ErrEmptyContent},
		{"unresolved sender", "forged", domain.SendPayload{Content: "hi"}, apperrors.ErrUnresolvedSender},
		{"impersonation", "user-7", domain.SendPayload{SenderID: "8", Content: "hi"}, apperrors.ErrSenderMismatch},
		{"forged operator claim", "user-7", domain.SendPayload{Content: "hi", SenderType: domain.SenderTypeAdmin}, apperrors.ErrOperatorForbidden},
		{"operator without receiver", "operator", domain.SendPayload{Content: "hi"}, apperrors.ErrMissingReceiver},
		{"operator to itself", "operator", domain.SendPayload{ReceiverID: "1", Content: "hi"}, apperrors.ErrMissingReceiver},
		{"unknown type", "user-7", domain.SendPayload{Content: "hi", Type: "video"}, apperrors.ErrInvalidMessageType},
		{"image without locator", "user-7", domain.SendPayload{Content: "not a link", Type: domain.MessageTypeImage}, apperrors.ErrInvalidContent},
		{"text too long", "user-7", domain.SendPayload{Content: strings.Repeat("a", 51)}, apperrors.ErrInvalidContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)
			f.ignorePresence()
			// Nothing may be persisted
			f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

			session := relay.NewSession(tt.token, "", 8)
			_, err := f.relay.Send(context.Background(), session, tt.payload)

			req.ErrorIs(err, tt.wantErr)
			events := drain(t, session)
			req.Len(events, 1)
			req.NotEmpty(decodeError(t, events[0]))
		})
	}
}

func TestRelay_Send_Accepts_Upload_Locator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	user := f.joined(t, "user-7", 7)
	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{
		Content: "/uploads/receipt.png",
		Type:    domain.MessageTypeImage,
	})

	req.NoError(err)
	req.Len(f.stored, 1)
	req.Equal(domain.MessageTypeImage, f.stored[0].Type)
}

func TestRelay_Send_Error_Only_Reaches_Caller(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	user := f.joined(t, "user-7", 7)
	operator := f.joined(t, "operator", operatorID)

	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: ""})
	req.Error(err)

	req.Len(drain(t, user), 1)
	req.Empty(drain(t, operator))
}

func TestRelay_Send_Store_Failure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection refused")).Times(1)

	user := f.joined(t, "user-7", 7)
	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: "hello"})

	req.ErrorIs(err, apperrors.ErrStoreUnavailable)
	events := drain(t, user)
	req.Len(events, 1)
	req.Equal("message send failed", decodeError(t, events[0]))
}

func TestRelay_Send_Store_Timeout(t *testing.T) {
	req := require.New(t)
	f := newFixtureWithTimeout(t, 20*time.Millisecond)
	f.ignorePresence()

	// Given a store that hangs until its context expires
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, m *domain.Message) error {
			<-ctx.Done()
			return ctx.Err()
		}).Times(1)

	user := f.joined(t, "user-7", 7)
	start := time.Now()
	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: "hello"})

	// Then the send fails within the timeout bound
	req.ErrorIs(err, apperrors.ErrStoreUnavailable)
	req.Less(time.Since(start), time.Second)
	req.Len(drain(t, user), 1)
}

func TestRelay_Send_Is_Not_Aborted_By_Caller_Cancellation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, m *domain.Message) error {
			req.NoError(ctx.Err())
			m.ID = 1
			m.CreatedAt = time.Now()
			return nil
		}).Times(1)

	user := f.joined(t, "user-7", 7)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.relay.Send(ctx, user, domain.SendPayload{Content: "hello"})
	req.NoError(err)
}

func TestRelay_Send_From_Unjoined_Session_Is_Persisted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	session := relay.NewSession("user-7", "", 8)
	msg, err := f.relay.Send(context.Background(), session, domain.SendPayload{Content: "hello"})

	req.NoError(err)
	req.Equal(relay.StateUnjoined, session.State())
	req.Equal(int64(7), msg.SenderID)
	// The calling session still gets its acknowledgment
	req.Len(drain(t, session), 1)
}

func TestRelay_Send_After_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	user := f.joined(t, "user-7", 7)
	f.relay.Disconnect(context.Background(), user)

	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: "hello"})
	req.ErrorIs(err, apperrors.ErrSessionClosed)
}

func TestRelay_Delivery_Miss_Still_Persists(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	operator := f.joined(t, "operator", operatorID)

	// When the operator writes to a user with no live session
	_, err := f.relay.Send(context.Background(), operator, domain.SendPayload{ReceiverID: "8", Content: "are you there?"})

	// Then the row is stored and only the operator is acknowledged
	req.NoError(err)
	req.Len(f.stored, 1)
	req.Equal(int64(8), f.stored[0].ReceiverID)
	req.Len(drain(t, operator), 1)
}

func TestRelay_Join_Ignores_Malformed_And_Spoofed_Claims(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.presence.EXPECT().MarkOnline(gomock.Any(), gomock.Any()).Times(0)

	for _, claim := range []int64{0, -3, 8} {
		s := relay.NewSession("user-7", "", 8)
		f.relay.Join(context.Background(), s, claim)
		req.Equal(relay.StateUnjoined, s.State())
	}

	anonymous := relay.NewSession("forged", "", 8)
	f.relay.Join(context.Background(), anonymous, 7)
	req.Equal(relay.StateUnjoined, anonymous.State())

	req.Zero(f.relay.Registry().Len())
}

func TestRelay_Join_Operator_Registers_Under_Operator_ID(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.presence.EXPECT().MarkOnline(gomock.Any(), operatorID).Return(nil).Times(1)

	operator := f.joined(t, "operator", operatorID)

	req.Equal(operatorID, operator.UserID())
	req.True(f.relay.Registry().IsOnline(operatorID))
}

func TestRelay_Disconnect_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.presence.EXPECT().MarkOnline(gomock.Any(), int64(7)).Return(nil).Times(1)
	f.presence.EXPECT().MarkOffline(gomock.Any(), int64(7)).Return(nil).Times(1)

	user := f.joined(t, "user-7", 7)

	f.relay.Disconnect(context.Background(), user)
	f.relay.Disconnect(context.Background(), user)

	req.Equal(relay.StateClosed, user.State())
	req.Zero(f.relay.Registry().Len())
	_, open := <-user.Outbound()
	req.False(open)
}

func TestRelay_Disconnect_Keeps_Presence_While_Other_Session_Lives(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.presence.EXPECT().MarkOnline(gomock.Any(), int64(7)).Return(nil).Times(1)
	f.presence.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).Times(0)

	phone := f.joined(t, "user-7", 7)
	f.joined(t, "user-7", 7)

	f.relay.Disconnect(context.Background(), phone)
	req.True(f.relay.Registry().IsOnline(7))
}

func TestRelay_Presence_Failure_Does_Not_Block_Join(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.presence.EXPECT().MarkOnline(gomock.Any(), gomock.Any()).Return(errors.New("redis down")).Times(1)

	user := f.joined(t, "user-7", 7)
	req.True(f.relay.Registry().IsOnline(user.UserID()))
}

func TestRelay_Full_Queue_Drops_Only_The_Stuck_Session(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	// Given an operator session that never drains its queue of one frame
	stuck := relay.NewSession("operator", "", 1)
	f.relay.Join(context.Background(), stuck, operatorID)
	user := f.joined(t, "user-7", 7)

	// When two messages are sent
	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: "one"})
	req.NoError(err)
	_, err = f.relay.Send(context.Background(), user, domain.SendPayload{Content: "two"})
	req.NoError(err)

	// Then the stuck session is closed and the sender keeps getting acks
	req.Equal(relay.StateClosed, stuck.State())
	req.False(f.relay.Registry().IsOnline(operatorID))
	req.Len(drain(t, user), 2)
	req.Len(f.stored, 2)
}

func TestRelay_Submit_Without_Origin_Pushes_To_Live_Sessions(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	user := f.joined(t, "user-7", 7)
	operator := f.joined(t, "operator", operatorID)

	// When the user posts over HTTP
	msg, err := f.relay.Submit(context.Background(), f.tokens["user-7"], domain.SendPayload{Content: "via http"}, nil)

	// Then the user's open socket and the operator are both updated
	req.NoError(err)
	req.Equal(msg.ID, decodeMessage(t, drain(t, user)[0]).ID)
	req.Equal(msg.ID, decodeMessage(t, drain(t, operator)[0]).ID)
}

func TestRelay_Ordinary_Account_With_Operator_ID_Gets_Nothing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	// Given an ordinary account whose id equals the operator id tries to join
	squatter := relay.NewSession("user-1", "", 8)
	f.relay.Join(context.Background(), squatter, operatorID)

	// Then it is not registered under the operator's key
	req.Equal(relay.StateUnjoined, squatter.State())
	req.False(f.relay.Registry().IsOnline(operatorID))

	// When a user writes to support
	user := f.joined(t, "user-7", 7)
	_, err := f.relay.Send(context.Background(), user, domain.SendPayload{Content: "private to support"})
	req.NoError(err)

	// Then the squatter hears nothing
	req.Empty(drain(t, squatter))
}

func TestRelay_Ordinary_Account_With_Operator_ID_Cannot_Send(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	squatter := relay.NewSession("user-1", "", 8)
	_, err := f.relay.Send(context.Background(), squatter, domain.SendPayload{Content: "hi"})
	req.ErrorIs(err, apperrors.ErrReservedOperatorID)
	req.Len(drain(t, squatter), 1)

	_, err = f.relay.Submit(context.Background(), f.tokens["user-1"], domain.SendPayload{Content: "hi"}, nil)
	req.ErrorIs(err, apperrors.ErrReservedOperatorID)
}

// memoryPresence is a presence store that keeps the online set in memory.
type memoryPresence struct {
	mu     sync.Mutex
	online map[int64]bool
}

func (p *memoryPresence) MarkOnline(ctx context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *memoryPresence) MarkOffline(ctx context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return nil
}

func (p *memoryPresence) isOnline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func TestRelay_Presence_Follows_Registry_Under_Concurrent_Churn(t *testing.T) {
	for round := 0; round < 20; round++ {
		req := require.New(t)
		f := newFixture(t)
		presence := &memoryPresence{online: map[int64]bool{}}
		r := relay.New(
			relay.Config{OperatorID: operatorID, StoreTimeout: time.Second},
			relay.NewRegistry(), f.store, f.identities, presence, logger.Discard(),
		)

		// Given sessions of the same user joining and leaving at once
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(stay bool) {
				defer wg.Done()
				s := relay.NewSession("user-7", "", 1)
				r.Join(context.Background(), s, 7)
				if !stay {
					r.Disconnect(context.Background(), s)
				}
			}(i == 3 && round%2 == 0)
		}
		wg.Wait()

		// Then the presence store ends up agreeing with the registry
		req.Equal(r.Registry().IsOnline(7), presence.isOnline(7))
	}
}
