package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/deployhub/deployhub/pkg/api"
	transport "github.com/deployhub/deployhub/pkg/http"
	"github.com/deployhub/deployhub/pkg/http/client"
)

const (
	envVariableURL          = "DEPLOYHUB_URL"
	envVariableToken        = "DEPLOYHUB_TOKEN"
	envVariableClientSecret = "DEPLOYHUB_CLIENT_SECRET"
)

type rootOpts struct {
	URL          string
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	API          api.Server
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
deployhubctl helps you deploy your code.

Workflow:
  deployhubctl images upload --file app.tar --tag shop/web:1.0.0  # Build an image on every node
  deployhubctl images list --tag 'semver:>=1'                     # Which images are on which nodes?
  deployhubctl apply -f shop.yaml                                  # Apply manifests to the cluster
  deployhubctl projects deploy --project <id>                      # Apply a project's current config
  deployhubctl configs rollback --project <id> --tag v1            # Make an earlier config current
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "deployhubctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("base URL of the deployhubd API server; you can also set the environment variable %s", envVariableURL))
	cmd.PersistentFlags().StringVarP(&opts.Token, "token", "t", "",
		fmt.Sprintf("bearer token for the API; you can also set the environment variable %s", envVariableToken))
	cmd.PersistentFlags().StringVar(&opts.TokenURL, "token-url", "", "if set, get a token from this OAuth2 token endpoint with the client credentials given")
	cmd.PersistentFlags().StringVar(&opts.ClientID, "client-id", "", "OAuth2 client ID, used with --token-url")
	cmd.PersistentFlags().StringVar(&opts.ClientSecret, "client-secret", "",
		fmt.Sprintf("OAuth2 client secret, used with --token-url; you can also set the environment variable %s", envVariableClientSecret))
	cmd.PersistentFlags().StringSliceVar(&opts.Scopes, "scope", nil, "OAuth2 scopes to ask for, used with --token-url")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "give up on a request after this long")

	cmd.AddCommand(
		newVersion(opts).Command(),
		newApply(opts).Command(),
		newDelete(opts).Command(),
		newImages(opts).Command(),
		newProjects(opts).Command(),
		newConfigs(opts).Command(),
	)

	return cmd
}

func getFromEnv(flag *string, flagName, envName string, cmd *cobra.Command) {
	if cmd.Flags().Changed(flagName) {
		return
	}
	if v := os.Getenv(envName); v != "" {
		*flag = v
	}
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	// skip initialisation if we're not talking to the API
	switch cmd.Use {
	case "version":
		if server, _ := cmd.Flags().GetBool("server"); !server {
			return nil
		}
	}

	getFromEnv(&opts.URL, "url", envVariableURL, cmd)
	getFromEnv(&opts.Token, "token", envVariableToken, cmd)
	getFromEnv(&opts.ClientSecret, "client-secret", envVariableClientSecret, cmd)

	if _, err := transport.MakeURL(opts.URL, transport.NewAPIRouter(), transport.Ping); err != nil {
		return newUsageError(fmt.Sprintf("invalid --url %q: %s", opts.URL, err))
	}

	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.TokenURL != "" {
		if opts.ClientID == "" || opts.ClientSecret == "" {
			return newUsageError("--token-url needs both --client-id and --client-secret")
		}
		creds := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		httpClient = creds.Client(context.Background())
		httpClient.Timeout = opts.Timeout
	}

	if opts.API == nil {
		opts.API = client.New(httpClient, transport.NewAPIRouter(), opts.URL, client.Token(opts.Token))
	}
	return nil
}
