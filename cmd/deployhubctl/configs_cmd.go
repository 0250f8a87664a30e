package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	"github.com/deployhub/deployhub/pkg/project"
)

type configsOpts struct {
	*rootOpts
	project      string
	outputFormat string
}

func newConfigs(parent *rootOpts) *configsOpts {
	return &configsOpts{rootOpts: parent}
}

func (opts *configsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "Manage the tagged deployment configs of a project.",
	}
	cmd.PersistentFlags().StringVarP(&opts.project, "project", "p", "", "ID of the project")
	cmd.PersistentFlags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format to use (tab or json)")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List a project's configs, newest first.",
			RunE:  opts.list,
		},
		&cobra.Command{
			Use:   "current",
			Short: "Show the project's current config, including its YAML.",
			RunE:  opts.current,
		},
		newConfigsAdd(opts).Command(),
		newConfigsRollback(opts).Command(),
	)
	return cmd
}

func (opts *configsOpts) check(args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.project == "" {
		return newUsageError("-p, --project is required")
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}
	return nil
}

func printConfigs(out io.Writer, format string, configs ...project.Config) error {
	if format == outputFormatJson {
		return printJSON(out, configs)
	}
	w := newTabwriter(out)
	fmt.Fprintln(w, "TAG\tCURRENT\tCREATED\tDESCRIPTION")
	for _, c := range configs {
		current := ""
		if c.IsCurrent {
			current = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Tag, current, c.CreatedAt.Format(time.RFC822), c.Description)
	}
	return w.Flush()
}

func (opts *configsOpts) list(cmd *cobra.Command, args []string) error {
	if err := opts.check(args); err != nil {
		return err
	}
	configs, err := opts.API.ListConfigs(context.Background(), opts.project)
	if err != nil {
		return err
	}
	return printConfigs(cmd.OutOrStdout(), opts.outputFormat, configs...)
}

func (opts *configsOpts) current(cmd *cobra.Command, args []string) error {
	if err := opts.check(args); err != nil {
		return err
	}
	c, err := opts.API.CurrentConfig(context.Background(), opts.project)
	if err != nil {
		return err
	}
	if opts.outputFormat == outputFormatJson {
		return printJSON(cmd.OutOrStdout(), c)
	}
	if err := printConfigs(cmd.OutOrStdout(), opts.outputFormat, c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s", c.YAML)
	return nil
}

// --- add

type configsAddOpts struct {
	*configsOpts
	tag         string
	file        string
	description string
}

func newConfigsAdd(parent *configsOpts) *configsAddOpts {
	return &configsAddOpts{configsOpts: parent}
}

func (opts *configsAddOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a tagged config to a project. It is not made current until you roll back to it.",
		Example: makeExample("deployhubctl configs add -p 3f1c... --tag v2 -f shop.yaml"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag of the config; unique within the project")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML to keep in the config")
	cmd.Flags().StringVar(&opts.description, "description", "", "what changed")
	return cmd
}

func (opts *configsAddOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := opts.check(args); err != nil {
		return err
	}
	if opts.tag == "" || opts.file == "" {
		return newUsageError("both --tag and --file are required")
	}
	yaml, err := os.ReadFile(opts.file)
	if err != nil {
		return errors.Wrap(err, "reading config")
	}
	c, err := opts.API.AddConfig(context.Background(), opts.project, v1.NewConfig{
		Tag:         opts.tag,
		YAML:        string(yaml),
		Description: opts.description,
	})
	if err != nil {
		return err
	}
	return printConfigs(cmd.OutOrStdout(), opts.outputFormat, c)
}

// --- rollback

type configsRollbackOpts struct {
	*configsOpts
	tag string
}

func newConfigsRollback(parent *configsOpts) *configsRollbackOpts {
	return &configsRollbackOpts{configsOpts: parent}
}

func (opts *configsRollbackOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rollback",
		Short:   "Make a config the project's current one. Nothing is applied until the project is deployed.",
		Example: makeExample("deployhubctl configs rollback -p 3f1c... --tag v1"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag of the config to make current")
	return cmd
}

func (opts *configsRollbackOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := opts.check(args); err != nil {
		return err
	}
	if opts.tag == "" {
		return newUsageError("--tag is required")
	}
	if err := opts.API.Rollback(context.Background(), opts.project, opts.tag); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now the current config\n", opts.tag)
	return nil
}
