package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
channel:
  driver: kafka
  visibility_timeout: 5s
  kafka:
    brokers: [k1:9092, k2:9092]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kafka", cfg.Channel.Driver)
	assert.Equal(t, 5*time.Second, cfg.Channel.VisibilityTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Channel.Kafka.Brokers)

	// untouched fields keep their defaults
	assert.Equal(t, "name-topic", cfg.Channel.Topic)
	assert.Equal(t, "name-subscription", cfg.Channel.Subscription)
	assert.Equal(t, 5, cfg.Channel.MaxDeliveries)
	assert.Equal(t, "name-subscription.dead-letter", cfg.Channel.DeadLetter())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/names")
	t.Setenv("GCP_PROJECT_ID", "proj")
	t.Setenv("GCP_PUBSUB_TOPIC", "t1")
	t.Setenv("GCP_PUBSUB_SUBSCRIPTION", "s1")
	t.Setenv("PUBSUB_EMULATOR_HOST", "localhost:8085")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/names", cfg.Postgres.DSN)
	assert.Equal(t, "proj", cfg.Channel.PubSub.ProjectID)
	assert.Equal(t, "t1", cfg.Channel.Topic)
	assert.Equal(t, "s1", cfg.Channel.Subscription)
	assert.Equal(t, "localhost:8085", cfg.Channel.PubSub.EmulatorHost)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Channel.Kafka.Brokers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3003, cfg.Server.Port)
	assert.Equal(t, "name-dead-letter", cfg.Channel.DeadLetter())
}
