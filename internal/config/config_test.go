package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load()

	req.NoError(err)
	req.Equal(int64(1), cfg.Relay.OperatorID)
	req.Equal(5*time.Second, cfg.Relay.StoreTimeout)
	req.Equal(64, cfg.Relay.SendBuffer)
	req.Equal(int64(16*1024), cfg.Relay.MaxFrameSize)
	req.Less(cfg.Relay.PingPeriod(), cfg.Relay.PongWait)
}

func TestLoad_From_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("OPERATOR_ID", "99")
	t.Setenv("RELAY_STORE_TIMEOUT", "250ms")
	t.Setenv("JWT_ISSUER", "accounts")
	// Unparsable values fall back to defaults
	t.Setenv("RELAY_SEND_BUFFER", "lots")

	cfg, err := Load()

	req.NoError(err)
	req.Equal(int64(99), cfg.Relay.OperatorID)
	req.Equal(250*time.Millisecond, cfg.Relay.StoreTimeout)
	req.Equal("accounts", cfg.JWT.Issuer)
	req.Equal(64, cfg.Relay.SendBuffer)
}

func TestLoad_Rejects_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"OPERATOR_ID", "0"},
		{"OPERATOR_ID", "-5"},
		{"RELAY_STORE_TIMEOUT", "0s"},
		{"RELAY_PONG_WAIT", "-1s"},
		{"RELAY_SEND_BUFFER", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
		})
	}
}
