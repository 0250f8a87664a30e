package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deployhub/deployhub/pkg/builder"
	"github.com/deployhub/deployhub/pkg/config"
	builderhttp "github.com/deployhub/deployhub/pkg/http/builder"
	"github.com/deployhub/deployhub/pkg/storage"
)

var version = "unversioned"

// loadConfig gives the agent's configuration. Every flag can also be
// given in the environment, e.g., DEPLOYHUB_S3_ENDPOINT, and the node
// IP as NODE_IP.
func loadConfig(fs *pflag.FlagSet, v *viper.Viper) (config.AgentConfig, error) {
	var cfg config.AgentConfig
	for key, flagName := range map[string]string{
		"logFormat":    "log-format",
		"listen":       "listen",
		"nodeIp":       "node-ip",
		"s3Endpoint":   "s3-endpoint",
		"s3Region":     "s3-region",
		"s3AccessKey":  "s3-access-key",
		"s3SecretKey":  "s3-secret-key",
		"s3Bucket":     "s3-bucket",
		"s3DisableSsl": "s3-disable-ssl",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return cfg, err
		}
		if err := v.BindEnv(key, config.EnvName(flagName)); err != nil {
			return cfg, err
		}
	}
	if err := v.BindEnv("nodeIp", "NODE_IP", config.EnvName("node-ip")); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding configuration")
	}
	if cfg.NodeIP == "" {
		return cfg, errors.New("no node IP given; set --node-ip or NODE_IP")
	}
	return cfg.WithDefaults()
}

func main() {
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  imagebuilderd builds, lists and removes images on the node it runs on.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	defaults := config.AgentDefaults()
	fs.String("log-format", defaults.LogFormat, "change the log format (fmt or json).")
	fs.StringP("listen", "l", defaults.Listen, "listen address where /metrics and the API will be served")
	fs.String("node-ip", "", "IP of this node, reported in every response")
	fs.String("s3-endpoint", "", "S3-compatible endpoint build contexts are downloaded from")
	fs.String("s3-region", defaults.S3Region, "region of the S3 endpoint")
	fs.String("s3-access-key", "", "access key for the S3 endpoint")
	fs.String("s3-secret-key", "", "secret key for the S3 endpoint")
	fs.String("s3-bucket", defaults.S3Bucket, "bucket build contexts are downloaded from")
	fs.Bool("s3-disable-ssl", false, "talk plain HTTP to the S3 endpoint")
	versionFlag := fs.Bool("version", false, "get version number")
	fs.Parse(os.Args[1:])

	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := loadConfig(fs, viper.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var logger log.Logger
	{
		switch cfg.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		case "fmt":
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		default:
			fmt.Fprintf(os.Stderr, "unsupported log format: %q\n", cfg.LogFormat)
			os.Exit(1)
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
		logger = log.With(logger, "node", cfg.NodeIP)
	}
	logger.Log("version", version)

	docker, err := builder.NewDockerClient()
	if err != nil {
		logger.Log("err", errors.Wrap(err, "connecting to the container engine"))
		os.Exit(1)
	}
	defer docker.Close()

	store, err := storage.NewS3Store(storage.S3Config{
		Endpoint:   cfg.S3Endpoint,
		Region:     cfg.S3Region,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		DisableSSL: cfg.S3DisableSSL,
	}, log.With(logger, "component", "storage"))
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}

	b := builder.New(docker, store, cfg.S3Bucket, cfg.NodeIP, log.With(logger, "component", "builder"))

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", builderhttp.NewHandler(b, builderhttp.NewRouter()))
		logger.Log("addr", cfg.Listen)
		errc <- http.ListenAndServe(cfg.Listen, mux)
	}()

	logger.Log("exiting", <-errc)
}
