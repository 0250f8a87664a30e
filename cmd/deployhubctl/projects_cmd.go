package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	"github.com/deployhub/deployhub/pkg/project"
)

type projectsOpts struct {
	*rootOpts
	outputFormat string
}

func newProjects(parent *rootOpts) *projectsOpts {
	return &projectsOpts{rootOpts: parent}
}

func (opts *projectsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage projects, and deploy them.",
	}
	cmd.PersistentFlags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format to use (tab or json)")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the projects.",
			RunE:  opts.list,
		},
		newProjectsCreate(opts).Command(),
		newProjectsDelete(opts).Command(),
		newProjectsDeploy(opts).Command(),
	)
	return cmd
}

func printProjects(out io.Writer, format string, projects ...project.Project) error {
	if !outputFormatIsValid(format) {
		return errorInvalidOutputFormat
	}
	if format == outputFormatJson {
		return printJSON(out, projects)
	}
	w := newTabwriter(out)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tDESCRIPTION")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format(time.RFC822), p.Description)
	}
	return w.Flush()
}

func (opts *projectsOpts) list(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	projects, err := opts.API.ListProjects(context.Background())
	if err != nil {
		return err
	}
	return printProjects(cmd.OutOrStdout(), opts.outputFormat, projects...)
}

// --- create

type projectsCreateOpts struct {
	*projectsOpts
	name        string
	description string
}

func newProjectsCreate(parent *projectsOpts) *projectsCreateOpts {
	return &projectsCreateOpts{projectsOpts: parent}
}

func (opts *projectsCreateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a project.",
		Example: makeExample(`deployhubctl projects create --name shop --description "the web shop"`),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "name of the project")
	cmd.Flags().StringVar(&opts.description, "description", "", "what the project is")
	return cmd
}

func (opts *projectsCreateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.name == "" {
		return newUsageError("--name is required")
	}
	p, err := opts.API.CreateProject(context.Background(), v1.NewProject{Name: opts.name, Description: opts.description})
	if err != nil {
		return err
	}
	return printProjects(cmd.OutOrStdout(), opts.outputFormat, p)
}

// --- delete

type projectsDeleteOpts struct {
	*projectsOpts
	project string
}

func newProjectsDelete(parent *projectsOpts) *projectsDeleteOpts {
	return &projectsDeleteOpts{projectsOpts: parent}
}

func (opts *projectsDeleteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project, and all its configs.",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "ID of the project")
	return cmd
}

func (opts *projectsDeleteOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.project == "" {
		return newUsageError("-p, --project is required")
	}
	return opts.API.DeleteProject(context.Background(), opts.project)
}

// --- deploy

type projectsDeployOpts struct {
	*projectsOpts
	project string
}

func newProjectsDeploy(parent *projectsOpts) *projectsDeployOpts {
	return &projectsDeployOpts{projectsOpts: parent}
}

func (opts *projectsDeployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deploy",
		Short:   "Apply the project's current config to the cluster.",
		Example: makeExample("deployhubctl projects deploy --project 3f1c..."),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "ID of the project")
	return cmd
}

func (opts *projectsDeployOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.project == "" {
		return newUsageError("-p, --project is required")
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}
	outcomes, err := opts.API.DeployProject(context.Background(), opts.project)
	if err != nil {
		return err
	}
	if err := printOutcomes(cmd.OutOrStdout(), opts.outputFormat, outcomes); err != nil {
		return err
	}
	if v1.Failed(outcomes) {
		return errors.New("the deploy did not complete; documents after the failed one were skipped")
	}
	return nil
}
