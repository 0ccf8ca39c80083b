package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_ORACLE_KEY}",
			envVars: map[string]string{
				"TEST_ORACLE_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\napi_key: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `mode: paper
data_dir: /tmp/sanadbot-test

oracle:
  api_key: "${TEST_ORACLE_API_KEY}"
  model: "gpt-4o-mini"
  request_timeout_seconds: 45

risk:
  max_drawdown_pct: 15
  daily_loss_limit_pct: 4

policy_gates:
  max_slippage_bps: 250
  max_concurrent_positions: 3

cold_path:
  max_attempts: 4
  timeout_seconds: 90

exchange:
  name: paper
  fee_rate: 0.001

logging:
  level: "INFO"
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	os.Setenv("TEST_ORACLE_API_KEY", "sk-test-abc")
	defer os.Unsetenv("TEST_ORACLE_API_KEY")

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, "sk-test-abc", cfg.Oracle.APIKey.Reveal())
	assert.Equal(t, 45, cfg.Oracle.RequestTimeoutSeconds)
	assert.Equal(t, 250, cfg.PolicyGates.MaxSlippageBps)
	assert.Equal(t, 3, cfg.PolicyGates.MaxConcurrentPositions)
	assert.Equal(t, float64(15), cfg.Risk.MaxDrawdownPct)

	// Keys absent from the document keep their defaults.
	assert.Equal(t, 3, cfg.CircuitBreakers.SimultaneousTripPause)
	assert.Equal(t, 4, cfg.ColdPath.MaxAttempts)
	assert.Equal(t, 30, cfg.Router.StaleThresholdMinutes)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/sanadbot.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "dry-run"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestValidateLiveModeRequiresKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "live"
	cfg.Exchange.Name = "binance"
	cfg.Exchange.APIKey = ""
	cfg.Exchange.SecretKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidatePaperModeRunsKeyless(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "paper"
	cfg.Exchange.Name = "paper"
	cfg.Exchange.APIKey = ""

	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.APIKey = Secret("sk-very-secret")
	cfg.Exchange.APIKey = Secret("binance-key")

	out := cfg.String()
	assert.False(t, strings.Contains(out, "sk-very-secret"), "oracle key must not leak")
	assert.False(t, strings.Contains(out, "binance-key"), "exchange key must not leak")
}
