// config is the package containing configuration for deployhubd and
// the builder agent, shared so the defaults can be seen by both, and
// by tests.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/imdario/mergo"

	"github.com/deployhub/deployhub/pkg/storage"
)

const (
	ConfigPath             = "/etc/deployhub"
	ConfigName             = "deployhub-config.yaml"
	ConfigType             = "yaml"
	DeployhubConfigVersion = "v1"

	EnvPrefix = "DEPLOYHUB"
)

// EnvName gives the environment variable that can stand in for a
// flag, e.g., DEPLOYHUB_S3_ENDPOINT for --s3-endpoint.
func EnvName(flagName string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.Replace(flagName, "-", "_", -1))
}

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to
	// DeployhubConfigVersion above, it is considered an invalid
	// configuration.
	ConfigVersion string `mapstructure:"deployhubConfigVersion"`

	LogFormat     string `mapstructure:"logFormat"`
	Listen        string `mapstructure:"listen"`
	ListenMetrics string `mapstructure:"listenMetrics"`

	K8sKubeconfig string `mapstructure:"k8sKubeconfig"`
	K8sVerbosity  int    `mapstructure:"k8sVerbosity"`
	SopsEnabled   bool   `mapstructure:"sops"`

	DBPath string `mapstructure:"dbPath"`

	S3Endpoint   string `mapstructure:"s3Endpoint"`
	S3Region     string `mapstructure:"s3Region"`
	S3AccessKey  string `mapstructure:"s3AccessKey"`
	S3SecretKey  string `mapstructure:"s3SecretKey"`
	S3Bucket     string `mapstructure:"s3Bucket"`
	S3DisableSSL bool   `mapstructure:"s3DisableSsl"`

	BuilderNamespace string        `mapstructure:"builderNamespace"`
	BuilderSelector  string        `mapstructure:"builderSelector"`
	BuilderService   string        `mapstructure:"builderService"`
	BuilderPort      int           `mapstructure:"builderPort"`
	PeerTimeout      time.Duration `mapstructure:"peerTimeout"`
	PeerRPS          float64       `mapstructure:"peerRps"`
	PeerBurst        int           `mapstructure:"peerBurst"`

	AuthSecret    string   `mapstructure:"authSecret"`
	AuthJWKSURL   string   `mapstructure:"authJwksUrl"`
	AuthIssuer    string   `mapstructure:"authIssuer"`
	AuthAudience  string   `mapstructure:"authAudience"`
	AuthWhitelist []string `mapstructure:"authWhitelist"`
}

// Defaults gives the values used for anything neither a flag nor the
// config file sets.
func Defaults() Config {
	return Config{
		ConfigVersion:    DeployhubConfigVersion,
		LogFormat:        "fmt",
		Listen:           ":3030",
		DBPath:           "/var/lib/deployhub/deployhub.db",
		S3Region:         "us-east-1",
		S3Bucket:         storage.DefaultBucket,
		BuilderNamespace: "automated-deployment",
		BuilderSelector:  "app=imagebuilderapi",
		BuilderService:   "imagebuilderapi",
		BuilderPort:      5000,
		PeerTimeout:      30 * time.Second,
		PeerRPS:          20,
		PeerBurst:        10,
	}
}

// WithDefaults fills in every field left at its zero value.
func (c Config) WithDefaults() (Config, error) {
	if err := mergo.Merge(&c, Defaults()); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) IsValid() error {
	if c.ConfigVersion != DeployhubConfigVersion {
		return fmt.Errorf("config file is expected to include `deployhubConfigVersion: %s` to mark it as a deployhub config", DeployhubConfigVersion)
	}
	if c.BuilderPort <= 0 || c.BuilderPort > 65535 {
		return fmt.Errorf("builder port %d is out of range", c.BuilderPort)
	}
	if c.PeerTimeout <= 0 {
		return fmt.Errorf("peer timeout must be positive, got %s", c.PeerTimeout)
	}
	return nil
}

// AgentConfig is the configuration of the builder agent run on each
// node.
type AgentConfig struct {
	LogFormat string `mapstructure:"logFormat"`
	Listen    string `mapstructure:"listen"`
	// NodeIP is reported in every response, so the daemon can say
	// which node answered. It's usually given by the downward API,
	// as NODE_IP.
	NodeIP string `mapstructure:"nodeIp"`

	S3Endpoint   string `mapstructure:"s3Endpoint"`
	S3Region     string `mapstructure:"s3Region"`
	S3AccessKey  string `mapstructure:"s3AccessKey"`
	S3SecretKey  string `mapstructure:"s3SecretKey"`
	S3Bucket     string `mapstructure:"s3Bucket"`
	S3DisableSSL bool   `mapstructure:"s3DisableSsl"`
}

func AgentDefaults() AgentConfig {
	return AgentConfig{
		LogFormat: "fmt",
		Listen:    ":5000",
		S3Region:  "us-east-1",
		S3Bucket:  storage.DefaultBucket,
	}
}

func (c AgentConfig) WithDefaults() (AgentConfig, error) {
	if err := mergo.Merge(&c, AgentDefaults()); err != nil {
		return c, err
	}
	return c, nil
}
