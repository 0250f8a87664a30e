package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deployhub/deployhub/pkg/config"
)

// defineConfigFlags defines the flags that can also be set in
// a config file. These need special treatment, because some care must
// be taken to match them ("bind") with config file field names.
func defineConfigFlags(fs *pflag.FlagSet, v *viper.Viper, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		tag := field.Tag
		// this parallels the logic in
		// github.com/mitchellh/mapstructure, except that we want to
		// bail if a field is mentioned that is marked ignore, like
		// this: `mapstructure:"-"`
		mappedName := field.Name
		mapstructureTagParts := strings.Split(tag.Get("mapstructure"), ",")
		if namePart := mapstructureTagParts[0]; namePart != "" {
			if namePart == "-" { // means ignore this field
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		if err := v.BindPFlag(mappedName, fs.Lookup(flagName)); err != nil {
			return err
		}
		return v.BindEnv(mappedName, config.EnvName(flagName))
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defaults := config.Defaults()

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", defaults.LogFormat, "change the log format (fmt or json).")
	defineStringP("Listen", "listen", "l", defaults.Listen, "listen address where /metrics and API will be served")
	defineString("ListenMetrics", "listen-metrics", "", "listen address for /metrics endpoint")

	// cluster
	defineString("K8sKubeconfig", "k8s-kubeconfig", "", "path to a kubeconfig; when not supplied, the in-cluster config is used")
	defineInt("K8sVerbosity", "k8s-verbosity", 0, "klog verbosity level")
	defineBool("SopsEnabled", "sops", false, `if set, decrypt SOPS-encrypted manifests before applying them. Provide decryption keys in the same way you would provide them for the sops binary`)

	// projects
	defineString("DBPath", "db-path", defaults.DBPath, "path of the SQLite database holding projects and their deployment configs")

	// object storage
	defineString("S3Endpoint", "s3-endpoint", "", "S3-compatible endpoint build contexts are uploaded to, e.g., http://minio.storage:9000")
	defineString("S3Region", "s3-region", defaults.S3Region, "region of the S3 endpoint")
	defineString("S3AccessKey", "s3-access-key", "", "access key for the S3 endpoint")
	defineString("S3SecretKey", "s3-secret-key", "", "secret key for the S3 endpoint")
	defineString("S3Bucket", "s3-bucket", defaults.S3Bucket, "bucket build contexts are uploaded to")
	defineBool("S3DisableSSL", "s3-disable-ssl", false, "talk plain HTTP to the S3 endpoint")

	// builder fleet
	defineString("BuilderNamespace", "builder-namespace", defaults.BuilderNamespace, "namespace the builder agents run in")
	defineString("BuilderSelector", "builder-selector", defaults.BuilderSelector, "label selector picking out the builder agent pods")
	defineString("BuilderService", "builder-service", defaults.BuilderService, "headless service giving the builder agents DNS names")
	defineInt("BuilderPort", "builder-port", defaults.BuilderPort, "port the builder agents listen on")
	defineDuration("PeerTimeout", "peer-timeout", defaults.PeerTimeout, "duration after which a call to a builder agent is given up on")
	defineFloat64("PeerRPS", "peer-rps", defaults.PeerRPS, "maximum requests per second to any one builder agent")
	defineInt("PeerBurst", "peer-burst", defaults.PeerBurst, "maximum burst of requests to any one builder agent")

	// authentication
	defineString("AuthSecret", "auth-secret", "", "HMAC secret bearer tokens are signed with; when neither this nor --auth-jwks-url is given, requests are not authenticated")
	defineString("AuthJWKSURL", "auth-jwks-url", "", "URL of the JSON Web Key Set bearer tokens are signed with")
	defineString("AuthIssuer", "auth-issuer", "", "if set, tokens must have been issued by this issuer")
	defineString("AuthAudience", "auth-audience", "", "if set, tokens must be meant for this audience")
	defineStringSlice("AuthWhitelist", "auth-whitelist", []string{}, `users allowed to use the API; empty or "all" allows every authenticated user`)
}
