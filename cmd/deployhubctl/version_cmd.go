package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var version string

type versionOpts struct {
	*rootOpts
	server bool
}

func newVersion(parent *rootOpts) *versionOpts {
	return &versionOpts{rootOpts: parent}
}

func (opts *versionOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Short:   "Output the version of deployhubctl, and optionally of the server.",
		Example: makeExample("deployhubctl version", "deployhubctl version --server"),
		RunE:    opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.server, "server", false, "also ask the API server for its version")
	return cmd
}

func (opts *versionOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	client := version
	if client == "" {
		client = "unversioned"
	}
	if !opts.server {
		fmt.Fprintln(cmd.OutOrStdout(), client)
		return nil
	}

	server, err := opts.API.Version(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "client: %s\nserver: %s\n", client, server)
	return nil
}
