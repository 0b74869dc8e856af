package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"support_chat/internal/domain"
	"support_chat/internal/mocks"
	"support_chat/internal/relay"
	"support_chat/pkg/logger"
)

func TestHandle_Join_Accepts_Numeric_And_String_Ids(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()

	numeric := relay.NewSession("user-7", "", 8)
	f.relay.Handle(context.Background(), numeric, []byte(`{"event":"join","data":{"userId":7}}`))
	req.Equal(relay.StateJoined, numeric.State())

	quoted := relay.NewSession("user-7", "", 8)
	f.relay.Handle(context.Background(), quoted, []byte(`{"event":"join","data":{"userId":"7"}}`))
	req.Equal(relay.StateJoined, quoted.State())

	req.Len(f.relay.Registry().SessionsFor(7), 2)
}

func TestHandle_Malformed_Join_Is_Silent(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	identities := newStrictIdentities(ctrl)
	r := newRelay(t, ctrl, identities)

	for _, frame := range []string{
		`{"event":"join"}`,
		`{"event":"join","data":{}}`,
		`{"event":"join","data":{"userId":"abc"}}`,
		`{"event":"join","data":{"userId":-1}}`,
		`{"event":"join","data":"7"}`,
	} {
		s := relay.NewSession("user-7", "", 8)
		r.Handle(context.Background(), s, []byte(frame))

		req.Equal(relay.StateUnjoined, s.State(), frame)
		req.Empty(drain(t, s), frame)
	}
}

func TestHandle_Send_Aliases(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	user := f.joined(t, "user-7", 7)
	for _, event := range []string{domain.EventSend, domain.EventSendMessage, domain.EventSendDashed} {
		f.relay.Handle(context.Background(), user, []byte(`{"event":"`+event+`","data":{"content":"hi"}}`))
	}

	req.Len(f.stored, 3)
	events := drain(t, user)
	req.Len(events, 3)
	for _, env := range events {
		req.Equal(domain.EventMessage, env.Event)
	}
}

func TestHandle_AdminReply_From_User_Is_Forbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.ignorePresence()
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	user := f.joined(t, "user-7", 7)
	f.relay.Handle(context.Background(), user, []byte(`{"event":"adminReply","data":{"receiverId":8,"content":"hi"}}`))

	events := drain(t, user)
	req.Len(events, 1)
	req.Equal(domain.EventError, events[0].Event)
}

func TestHandle_AdminReply_From_Operator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.persisting()
	f.ignorePresence()

	operator := f.joined(t, "operator", operatorID)
	f.relay.Handle(context.Background(), operator, []byte(`{"event":"adminReply","data":{"receiverId":"7","content":"hello"}}`))

	req.Len(f.stored, 1)
	req.Equal(int64(7), f.stored[0].ReceiverID)
	req.Equal(domain.SenderTypeAdmin, f.stored[0].SenderType)
}

func TestHandle_Rejects_Bad_Frames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"not json", `hello`, "bad request: malformed frame"},
		{"no event", `{"data":{}}`, "bad request: malformed frame"},
		{"unknown event", `{"event":"typing"}`, `bad request: unknown event "typing"`},
		{"bad send payload", `{"event":"send","data":[1,2]}`, "bad request: malformed send payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)
			f.ignorePresence()
			f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

			s := relay.NewSession("user-7", "", 8)
			f.relay.Handle(context.Background(), s, []byte(tt.frame))

			events := drain(t, s)
			req.Len(events, 1)
			req.Equal(tt.want, decodeError(t, events[0]))
		})
	}
}

// newStrictIdentities fails the test if the relay consults identities at all.
func newStrictIdentities(ctrl *gomock.Controller) *mocks.MockIdentitySource {
	identities := mocks.NewMockIdentitySource(ctrl)
	identities.EXPECT().Resolve(gomock.Any(), gomock.Any()).Times(0)
	return identities
}

func newRelay(t *testing.T, ctrl *gomock.Controller, identities relay.IdentitySource) *relay.Relay {
	t.Helper()
	return relay.New(
		relay.Config{OperatorID: operatorID, StoreTimeout: time.Second, MaxContentLength: 50},
		relay.NewRegistry(),
		mocks.NewMockMessageStore(ctrl),
		identities,
		mocks.NewMockPresence(ctrl),
		logger.Discard(),
	)
}
