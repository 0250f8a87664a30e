package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployhub/deployhub/pkg/storage"
)

func TestWithDefaultsKeepsSetFields(t *testing.T) {
	c, err := Config{Listen: ":8080", PeerTimeout: 5 * time.Second}.WithDefaults()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, 5*time.Second, c.PeerTimeout)
	assert.Equal(t, 5000, c.BuilderPort)
	assert.Equal(t, "automated-deployment", c.BuilderNamespace)
	assert.NoError(t, c.IsValid())
}

func TestIsValid(t *testing.T) {
	c := Defaults()
	c.ConfigVersion = "v0"
	assert.Error(t, c.IsValid())

	c = Defaults()
	c.BuilderPort = 70000
	assert.Error(t, c.IsValid())
}

func TestAgentDefaults(t *testing.T) {
	c, err := AgentConfig{NodeIP: "10.0.0.7"}.WithDefaults()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", c.NodeIP)
	assert.Equal(t, ":5000", c.Listen)
}

func TestDefaultBucket(t *testing.T) {
	assert.Equal(t, storage.DefaultBucket, Defaults().S3Bucket)
	assert.Equal(t, storage.DefaultBucket, AgentDefaults().S3Bucket)

	c, err := Config{}.WithDefaults()
	require.NoError(t, err)
	assert.Equal(t, "docker-image-upload-bucket", c.S3Bucket)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DEPLOYHUB_S3_ENDPOINT", EnvName("s3-endpoint"))
	assert.Equal(t, "DEPLOYHUB_PEER_TIMEOUT", EnvName("peer-timeout"))
	assert.Equal(t, "DEPLOYHUB_LISTEN", EnvName("listen"))
}
