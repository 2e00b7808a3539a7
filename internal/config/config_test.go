package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/portalwatch/internal/retry"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("remote:\n  base_url: https://portal.example.com\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Poll.IntervalDuration())
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLDuration())
	assert.Equal(t, 700*time.Millisecond, cfg.Gate.GraceDuration())
	assert.Equal(t, "/login", cfg.Gate.LoginRoute)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, "portalwatch.notifications", cfg.NATS.Subject)
}

func TestParseNormalizesEnums(t *testing.T) {
	cfg, err := Parse([]byte(`
remote:
  base_url: https://portal.example.com
  retry:
    backoff: " EXPONENTIAL "
logging:
  level: DEBUG
  format: Json
`))
	require.NoError(t, err)
	assert.Equal(t, RetryBackoffExponential, cfg.Remote.Retry.Backoff)
	assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("PORTAL_TOKEN_TEST", "sekrit")
	cfg, err := Parse([]byte(`
remote:
  base_url: https://portal.example.com
  token: ${PORTAL_TOKEN_TEST}
`))
	require.NoError(t, err)
	assert.Equal(t, "sekrit", cfg.Remote.Token)
}

func TestParseRejectsBadDurations(t *testing.T) {
	_, err := Parse([]byte(`
remote:
  base_url: https://portal.example.com
poll:
  interval: often
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.interval")
}

func TestParseRejectsNATSWithoutURL(t *testing.T) {
	_, err := Parse([]byte(`
remote:
  base_url: https://portal.example.com
nats:
  enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.url")
}

func TestRetryConfigPolicy(t *testing.T) {
	cfg, err := Parse([]byte(`
remote:
  base_url: https://portal.example.com
  retry:
    backoff: linear
    initial_delay: 200ms
    max_delay: 1s
    max_retries: 5
`))
	require.NoError(t, err)

	p := cfg.Remote.Retry.Policy()
	assert.Equal(t, retry.BackoffLinear, p.Mode)
	assert.Equal(t, 200*time.Millisecond, p.Initial)
	assert.Equal(t, time.Second, p.Max)
	assert.Equal(t, 5, p.MaxRetries)
}

func TestDurationAccessorsFallBackOnGarbage(t *testing.T) {
	p := PollConfig{Interval: "-3s"}
	assert.Equal(t, 45*time.Second, p.IntervalDuration())

	c := CacheConfig{TTL: ""}
	assert.Equal(t, 5*time.Minute, c.TTLDuration())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestInitThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portalwatch.yaml")
	require.NoError(t, Init(path, false))
	assert.Error(t, Init(path, false), "refuses to overwrite without force")
	require.NoError(t, Init(path, true))

	t.Setenv("PORTAL_TOKEN", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "from-env", cfg.Remote.Token)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
