package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validYAML = `
database:
  user: icco
  password: ${ICCO_TEST_DB_PASSWORD}
chain:
  chain_id: 3
conductor:
  chain_id: 2
  address: "0x000000000000000000000000f19a2a01b70519f67adb309a994ec8c69a967e8b"
bridge:
  core_contract: terra1dq03ugtd40zu9hcgdzrsq6z2z4hwhc9tqk2uy5
  token_bridge: terra10nmmwe8r3g99a9newtqa7a75xfgs2e8z87r2sf
  guardians:
    - "0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe"
escrow:
  jwt_secret: topsecret
  webhook_url: http://escrow.local:9000
logging:
  format: console
  level: debug
`

func TestParse_AppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("ICCO_TEST_DB_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.Escrow.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Escrow.InitialInterval)
	assert.Equal(t, uint16(3), cfg.Chain.ChainID)
	assert.Equal(t, uint16(2), cfg.Conductor.ChainID)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Monitoring.Enabled)
}

func TestParse_RejectsSelfConductor(t *testing.T) {
	raw := []byte(`
database: {user: icco}
chain: {chain_id: 3}
conductor: {chain_id: 3, address: "0x01"}
bridge:
  core_contract: core
  token_bridge: tb
  guardians: ["0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe"]
escrow: {jwt_secret: x}
`)
	_, err := Parse(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conductor.chain_id must differ")
}

func TestParse_RejectsBadGuardian(t *testing.T) {
	raw := []byte(`
database: {user: icco}
chain: {chain_id: 3}
conductor: {chain_id: 2, address: "0x01"}
bridge:
  core_contract: core
  token_bridge: tb
  guardians: ["not-an-address"]
escrow: {jwt_secret: x}
`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParse_RequiresEscrowAuth(t *testing.T) {
	raw := []byte(`
database: {user: icco}
chain: {chain_id: 3}
conductor: {chain_id: 2, address: "0x01"}
bridge:
  core_contract: core
  token_bridge: tb
  guardians: ["0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe"]
`)
	_, err := Parse(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow.jwt_secret")
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("unknown_section: true\n"))
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "icco", cfg.Database.User)
}

func TestDecodeAddress32(t *testing.T) {
	addr, err := DecodeAddress32("0xf19a2a01b70519f67adb309a994ec8c69a967e8b")
	require.NoError(t, err)
	assert.Equal(t, byte(0), addr[0])
	assert.Equal(t, byte(0xf1), addr[12])
	assert.Equal(t, byte(0x8b), addr[31])

	_, err = DecodeAddress32("0x")
	require.Error(t, err)

	_, err = DecodeAddress32("zz")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestNewLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icco.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("sale sealed", zap.Uint16("chain_id", 3))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry), "expected exactly one JSON entry, got %q", raw)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "icco-contributor", entry["logger"])
	assert.Equal(t, "sale sealed", entry["msg"])
	assert.EqualValues(t, 3, entry["chain_id"])
	assert.Contains(t, entry["ts"], "T")
	assert.NotEmpty(t, entry["caller"])
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("ICCO_DB_PASSWORD", "pw")
	t.Setenv("ICCO_ESCROW_JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), cfg.Chain.ChainID)
	assert.Equal(t, "pw", cfg.Database.Password)
	assert.Equal(t, "secret", cfg.Escrow.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Escrow.InitialInterval)
}
