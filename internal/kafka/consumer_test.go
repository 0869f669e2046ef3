package kafka

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/route-beacon/wirecodec/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClientOptions(t *testing.T) {
	cfg := config.Defaults().Kafka
	cfg.Brokers = []string{"localhost:9092"}

	opts, err := ClientOptions(&cfg)
	require.NoError(t, err)
	require.Len(t, opts, 3)

	cfg.SASL = config.SASLConfig{Enabled: true, Mechanism: "scram-sha-512", Username: "u", Password: "p"}
	opts, err = ClientOptions(&cfg)
	require.NoError(t, err)
	require.Len(t, opts, 4)
}

func TestClientOptions_Errors(t *testing.T) {
	cfg := config.Defaults().Kafka
	cfg.SASL = config.SASLConfig{Enabled: true, Mechanism: "GSSAPI"}
	_, err := ClientOptions(&cfg)
	require.ErrorContains(t, err, "kafka sasl")

	cfg = config.Defaults().Kafka
	cfg.TLS = config.TLSConfig{Enabled: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")}
	_, err = ClientOptions(&cfg)
	require.ErrorContains(t, err, "kafka tls")
}

func TestClientOptions_BadCA(t *testing.T) {
	ca := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(ca, []byte("not a certificate"), 0o600))
	cfg := config.Defaults().Kafka
	cfg.TLS = config.TLSConfig{Enabled: true, CAFile: ca}
	_, err := ClientOptions(&cfg)
	require.ErrorContains(t, err, "CA certificate")
}

func TestNewConsumer_NotJoinedUntilAssigned(t *testing.T) {
	cfg := config.Defaults().Kafka
	cfg.Brokers = []string{"127.0.0.1:1"}
	cfg.Raw.Topics = []string{"gobmp.raw"}

	c, err := NewConsumer(&cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()
	require.False(t, c.IsJoined())
}
