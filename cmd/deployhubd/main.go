package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/deployhub/deployhub/pkg/cluster/kubernetes"
	"github.com/deployhub/deployhub/pkg/config"
	"github.com/deployhub/deployhub/pkg/daemon"
	"github.com/deployhub/deployhub/pkg/fleet"
	"github.com/deployhub/deployhub/pkg/http/auth"
	daemonhttp "github.com/deployhub/deployhub/pkg/http/daemon"
	"github.com/deployhub/deployhub/pkg/manifests"
	"github.com/deployhub/deployhub/pkg/project"
	"github.com/deployhub/deployhub/pkg/storage"
)

var version = "unversioned"

// loadConfig gives the configuration from flags, environment and
// config file, in that order of precedence, with defaults for
// anything none of them set.
func loadConfig(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding configuration")
	}
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return cfg, errors.Wrap(err, "applying defaults")
	}
	return cfg, cfg.IsValid()
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	restClientConfig, err := rest.InClusterConfig()
	if err == rest.ErrNotInCluster {
		// This mirrors how kubectl extracts information from the environment.
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		return kubeConfig.ClientConfig()
	}
	return restClientConfig, err
}

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  deployhubd applies manifests to the cluster, builds images on every node, and keeps projects.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	v := viper.New()
	defineConfigFlags(fs, v, func(err error) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	})
	var (
		configFile  = fs.String("config-file", "", "path to a YAML config file; flags take precedence over it")
		versionFlag = fs.Bool("version", false, "get version number")
	)
	fs.Parse(os.Args[1:])

	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType(config.ConfigType)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "reading config file %s: %s\n", *configFile, err)
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Logger component.
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
	}
	logger.Log("version", version)

	// client-go logs through klog; its verbosity is ours to set.
	{
		klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
		klog.InitFlags(klogFlags)
		klogFlags.Set("v", strconv.Itoa(cfg.K8sVerbosity))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cluster component.
	var cluster *kubernetes.Cluster
	{
		restClientConfig, err := restConfig(cfg.K8sKubeconfig)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		client, err := kubernetes.NewClientsetForConfig(restClientConfig)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}

		logger := log.With(logger, "component", "cluster")
		logger.Log("host", restClientConfig.Host)
		cluster = kubernetes.NewCluster(client, logger)
	}

	// Builder fleet.
	coordinator := fleet.NewCoordinator(cluster, fleet.Config{
		Namespace: cfg.BuilderNamespace,
		Selector:  cfg.BuilderSelector,
		Service:   cfg.BuilderService,
		Port:      cfg.BuilderPort,
		Timeout:   cfg.PeerTimeout,
		RPS:       cfg.PeerRPS,
		Burst:     cfg.PeerBurst,
	}, log.With(logger, "component", "fleet"))

	// Object storage.
	var store storage.Store
	{
		s3, err := storage.NewS3Store(storage.S3Config{
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
		store = s3
	}

	// Project store.
	projects, err := project.Open(cfg.DBPath, log.With(logger, "component", "projects"))
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	defer projects.Close()

	d := &daemon.Daemon{
		V:        version,
		Cluster:  cluster,
		Parser:   manifests.NewParser(manifests.WithSops(cfg.SopsEnabled)),
		Fleet:    coordinator,
		Storage:  store,
		Bucket:   cfg.S3Bucket,
		Projects: projects,
		Logger:   log.With(logger, "component", "daemon"),
	}

	var handler http.Handler = daemonhttp.NewHandler(d, daemonhttp.NewRouter())
	{
		authConfig := auth.Config{
			Secret:    cfg.AuthSecret,
			JWKSURL:   cfg.AuthJWKSURL,
			Issuer:    cfg.AuthIssuer,
			Audience:  cfg.AuthAudience,
			Whitelist: cfg.AuthWhitelist,
		}
		if authConfig.Enabled() {
			authenticator, err := auth.New(ctx, authConfig, log.With(logger, "component", "auth"))
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			handler = authenticator.Wrap(handler, "/ping", "/metrics")
		} else {
			logger.Log("warn", "no --auth-secret or --auth-jwks-url given; the API is not authenticated")
		}
	}

	// Mechanical stuff.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	// HTTP transport component.
	go func() {
		mux := http.NewServeMux()
		if cfg.ListenMetrics == "" {
			mux.Handle("/metrics", promhttp.Handler())
		} else {
			go func() {
				metricsMux := http.NewServeMux()
				metricsMux.Handle("/metrics", promhttp.Handler())
				logger.Log("metrics-addr", cfg.ListenMetrics)
				errc <- http.ListenAndServe(cfg.ListenMetrics, metricsMux)
			}()
		}
		mux.Handle("/", handler)
		logger.Log("addr", cfg.Listen)
		errc <- http.ListenAndServe(cfg.Listen, mux)
	}()

	// Go!
	logger.Log("exiting", <-errc)
}
