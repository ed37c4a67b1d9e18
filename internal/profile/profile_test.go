package profile

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validProfile(t *testing.T) *Profile {
	t.Helper()
	return &Profile{
		Mode:           "dev",
		Driver:         "sqlite",
		Data:           t.TempDir(),
		DSN:            "chatbridge_test.db",
		TelegramToken:  "test-token",
		OperatorChatID: "100",
		OpenAIAPIKey:   "test-key",
		AssistantID:    "asst_test",
	}
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHATBRIDGE_TELEGRAM_TOKEN",
		"CHATBRIDGE_OPERATOR_CHAT_ID",
		"CHATBRIDGE_OPENAI_API_KEY",
		"CHATBRIDGE_OPENAI_BASE_URL",
		"CHATBRIDGE_ASSISTANT_ID",
		"CHATBRIDGE_REDIS_ADDR",
		"CHATBRIDGE_REDIS_PASSWORD",
		"CHATBRIDGE_REDIS_DB",
		"CHATBRIDGE_HANDOFF_MARKER",
		"CHATBRIDGE_USE_WEBHOOK",
		"CHATBRIDGE_RUN_TIMEOUT",
		"CHATBRIDGE_DISPATCH_CONCURRENCY",
		"CHATBRIDGE_SESSION_CACHE_TTL",
		"CHATBRIDGE_INSTANCE_STALE_AFTER",
	} {
		os.Unsetenv(key)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars(t)

	p := &Profile{}
	require.NoError(t, p.FromEnv())

	require.Equal(t, "https://api.openai.com/v1", p.OpenAIBaseURL)
	require.Equal(t, "[[handoff]]", p.HandoffMarker)
	require.Equal(t, 3, p.DispatchConcurrency)
	require.Equal(t, 90*time.Second, p.RunTimeout)
	require.Equal(t, 30*time.Minute, p.SessionCacheTTL)
	require.Equal(t, 5*time.Minute, p.InstanceStaleAfter)
	require.False(t, p.UseWebhook)
	require.False(t, p.IsRedisEnabled())
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("CHATBRIDGE_TELEGRAM_TOKEN", "tok")
	t.Setenv("CHATBRIDGE_REDIS_ADDR", "localhost:6379")
	t.Setenv("CHATBRIDGE_HANDOFF_MARKER", "<<operator>>")
	t.Setenv("CHATBRIDGE_REDIS_DB", "2")
	t.Setenv("CHATBRIDGE_RUN_TIMEOUT", "45s")
	t.Setenv("CHATBRIDGE_DISPATCH_CONCURRENCY", "8")
	t.Setenv("CHATBRIDGE_SESSION_CACHE_TTL", "10m")
	t.Setenv("CHATBRIDGE_INSTANCE_STALE_AFTER", "2m")

	p := &Profile{}
	require.NoError(t, p.FromEnv())

	require.Equal(t, "tok", p.TelegramToken)
	require.True(t, p.IsRedisEnabled())
	require.Equal(t, "<<operator>>", p.HandoffMarker)
	require.Equal(t, 2, p.RedisDB)
	require.Equal(t, 45*time.Second, p.RunTimeout)
	require.Equal(t, 8, p.DispatchConcurrency)
	require.Equal(t, 10*time.Minute, p.SessionCacheTTL)
	require.Equal(t, 2*time.Minute, p.InstanceStaleAfter)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad run timeout", "CHATBRIDGE_RUN_TIMEOUT", "ninety"},
		{"bad concurrency", "CHATBRIDGE_DISPATCH_CONCURRENCY", "many"},
		{"bad cache ttl", "CHATBRIDGE_SESSION_CACHE_TTL", "30"},
		{"bad stale after", "CHATBRIDGE_INSTANCE_STALE_AFTER", "soon"},
		{"bad redis db", "CHATBRIDGE_REDIS_DB", "primary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv(tt.key, tt.value)
			err := (&Profile{}).FromEnv()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidateMissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantKey string
	}{
		{
			name:    "missing telegram token",
			mutate:  func(p *Profile) { p.TelegramToken = "" },
			wantKey: "CHATBRIDGE_TELEGRAM_TOKEN",
		},
		{
			name:    "missing operator chat id",
			mutate:  func(p *Profile) { p.OperatorChatID = "" },
			wantKey: "CHATBRIDGE_OPERATOR_CHAT_ID",
		},
		{
			name:    "missing openai key",
			mutate:  func(p *Profile) { p.OpenAIAPIKey = "" },
			wantKey: "CHATBRIDGE_OPENAI_API_KEY",
		},
		{
			name:    "missing assistant id",
			mutate:  func(p *Profile) { p.AssistantID = "" },
			wantKey: "CHATBRIDGE_ASSISTANT_ID",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(p *Profile) { p.Driver = "postgres"; p.DSN = "" },
			wantKey: "CHATBRIDGE_DSN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile(t)
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestValidateOK(t *testing.T) {
	p := validProfile(t)
	require.NoError(t, p.Validate())
}

func TestValidateSQLiteDefaultsDSN(t *testing.T) {
	p := validProfile(t)
	p.DSN = ""
	require.NoError(t, p.Validate())
	require.Contains(t, p.DSN, "chatbridge_dev.db")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	p := validProfile(t)
	p.Driver = "oracle"
	require.Error(t, p.Validate())
}
