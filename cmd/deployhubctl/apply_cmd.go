package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
)

type applyOpts struct {
	*rootOpts
	file         string
	outputFormat string
	operation    v1.ResourceOperation
}

func newApply(parent *rootOpts) *applyOpts {
	return &applyOpts{rootOpts: parent, operation: v1.CreateOrUpdate}
}

func newDelete(parent *rootOpts) *applyOpts {
	return &applyOpts{rootOpts: parent, operation: v1.Delete}
}

func (opts *applyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apply",
		Short:   "Create or update the resources in a manifest.",
		Example: makeExample("deployhubctl apply -f shop.yaml", "cat shop.yaml | deployhubctl apply -f -"),
		RunE:    opts.RunE,
	}
	if opts.operation == v1.Delete {
		cmd.Use = "delete"
		cmd.Short = "Delete the resources in a manifest."
		cmd.Example = makeExample("deployhubctl delete -f shop.yaml")
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "manifest to read; - for stdin")
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format to use (tab or json)")
	return cmd
}

func (opts *applyOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.file == "" {
		return newUsageError("-f, --file is required")
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	var manifest []byte
	var err error
	if opts.file == "-" {
		manifest, err = io.ReadAll(cmd.InOrStdin())
	} else {
		manifest, err = os.ReadFile(opts.file)
	}
	if err != nil {
		return errors.Wrap(err, "reading manifest")
	}

	ctx := context.Background()
	outcomes, err := opts.API.ApplyResources(ctx, v1.ResourceRequest{
		ManifestText: string(manifest),
		Operation:    opts.operation,
	})
	if err != nil {
		return err
	}
	if err := printOutcomes(cmd.OutOrStdout(), opts.outputFormat, outcomes); err != nil {
		return err
	}
	if v1.Failed(outcomes) {
		return errors.New("not every resource could be processed; documents after the failed one were skipped")
	}
	return nil
}

func printOutcomes(out io.Writer, format string, outcomes []v1.ResourceOutcome) error {
	if format == outputFormatJson {
		return printJSON(out, outcomes)
	}
	w := newTabwriter(out)
	fmt.Fprintln(w, "KIND\tNAMESPACE\tNAME\tRESULT\tMESSAGE")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.Kind, o.Namespace, o.Name, o.Result, o.Message)
	}
	return w.Flush()
}

func makeExample(examples ...string) string {
	var buf []byte
	for _, ex := range examples {
		buf = append(buf, "  "+ex+"\n"...)
	}
	return string(buf)
}
