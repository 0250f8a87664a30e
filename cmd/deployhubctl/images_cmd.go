package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
)

type imagesOpts struct {
	*rootOpts
	outputFormat string
}

func newImages(parent *rootOpts) *imagesOpts {
	return &imagesOpts{rootOpts: parent}
}

func (opts *imagesOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Build, list and remove images on the builder nodes.",
	}
	cmd.PersistentFlags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format to use (tab or json)")
	cmd.AddCommand(
		newImagesList(opts).Command(),
		newImagesBuild(opts).Command(),
		newImagesUpload(opts).Command(),
		newImagesDelete(opts).Command(),
		newImagesInspect(opts).Command(),
	)
	return cmd
}

// printPeerResults prints what each node said. It's an error if any
// node failed, after everything has been printed.
func (opts *imagesOpts) printPeerResults(out io.Writer, results []v1.PeerResult) error {
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}
	if opts.outputFormat == outputFormatJson {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		w := newTabwriter(out)
		fmt.Fprintln(w, "NODE\tSUCCESS\tMESSAGE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%t\t%s\n", r.IP, r.Success, peerMessage(r))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if len(results) == 0 {
		return errors.New("no builder nodes found")
	}
	var failed int
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d nodes failed", failed, len(results))
	}
	return nil
}

func peerMessage(r v1.PeerResult) string {
	if r.Error != "" {
		return r.Error
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &body); err == nil {
		return body.Message
	}
	return ""
}

// --- list

type imagesListOpts struct {
	*imagesOpts
	tagPattern string
}

func newImagesList(parent *imagesOpts) *imagesListOpts {
	return &imagesListOpts{imagesOpts: parent}
}

func (opts *imagesListOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tagged images across the builder nodes.",
		Example: makeExample(
			"deployhubctl images list",
			"deployhubctl images list --tag 'semver:~1.2'",
			"deployhubctl images list --tag 'glob:release-*'",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.tagPattern, "tag", "", "only list tags matching this pattern (glob:, semver: or regexp:)")
	return cmd
}

func (opts *imagesListOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}
	images, err := opts.API.ListImages(context.Background(), v1.ListImagesOptions{TagPattern: opts.tagPattern})
	if err != nil {
		return err
	}
	if opts.outputFormat == outputFormatJson {
		return printJSON(cmd.OutOrStdout(), images)
	}
	w := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "IMAGE\tTAG\tNODES\tNODE IPS")
	for _, image := range images {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", image.ImageName, image.Tag, image.NodeCount, strings.Join(image.NodeIPs, ","))
	}
	return w.Flush()
}

// --- build

type imagesBuildOpts struct {
	*imagesOpts
	tag    string
	object string
}

func newImagesBuild(parent *imagesOpts) *imagesBuildOpts {
	return &imagesBuildOpts{imagesOpts: parent}
}

func (opts *imagesBuildOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build",
		Short:   "Build an image on every node from a build context already in object storage.",
		Example: makeExample("deployhubctl images build --tag shop/web:1.0.0 --object app.tar_shop/web:1.0.0"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag for the built image")
	cmd.Flags().StringVar(&opts.object, "object", "", "name of the build context in object storage")
	return cmd
}

func (opts *imagesBuildOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.tag == "" || opts.object == "" {
		return newUsageError("both --tag and --object are required")
	}
	results, err := opts.API.BuildImage(context.Background(), v1.BuildRequest{ImageTag: opts.tag, SourceObjectName: opts.object})
	if err != nil {
		return err
	}
	return opts.printPeerResults(cmd.OutOrStdout(), results)
}

// --- upload

type imagesUploadOpts struct {
	*imagesOpts
	tag        string
	file       string
	noProgress bool
}

func newImagesUpload(parent *imagesOpts) *imagesUploadOpts {
	return &imagesUploadOpts{imagesOpts: parent}
}

func (opts *imagesUploadOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "upload",
		Short:   "Upload a build context (a .tar with a Dockerfile in it) and build it on every node.",
		Example: makeExample("deployhubctl images upload --file app.tar --tag shop/web:1.0.0"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "build context to upload")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag for the built image")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "don't show upload progress")
	return cmd
}

func (opts *imagesUploadOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.tag == "" || opts.file == "" {
		return newUsageError("both --file and --tag are required")
	}
	if !strings.EqualFold(filepath.Ext(opts.file), ".tar") {
		return newUsageError("--file must be a .tar archive")
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return errors.Wrap(err, "opening build context")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "opening build context")
	}

	var body io.Reader = f
	if !opts.noProgress {
		bar := pb.Full.New64(info.Size()).SetWriter(cmd.ErrOrStderr()).Start()
		defer bar.Finish()
		body = bar.NewProxyReader(f)
	}

	results, err := opts.API.UploadImage(context.Background(), v1.UploadRequest{
		FileName: filepath.Base(opts.file),
		ImageTag: opts.tag,
		Size:     info.Size(),
		Body:     body,
	})
	if err != nil {
		return err
	}
	return opts.printPeerResults(cmd.OutOrStdout(), results)
}

// --- delete

type imagesDeleteOpts struct {
	*imagesOpts
	image string
}

func newImagesDelete(parent *imagesOpts) *imagesDeleteOpts {
	return &imagesDeleteOpts{imagesOpts: parent}
}

func (opts *imagesDeleteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete",
		Short:   "Remove an image from every node.",
		Example: makeExample("deployhubctl images delete --image shop/web:1.0.0"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "image to remove")
	return cmd
}

func (opts *imagesDeleteOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.image == "" {
		return newUsageError("-i, --image is required")
	}
	results, err := opts.API.DeleteImage(context.Background(), opts.image)
	if err != nil {
		return err
	}
	return opts.printPeerResults(cmd.OutOrStdout(), results)
}

// --- inspect

type imagesInspectOpts struct {
	*imagesOpts
	image string
}

func newImagesInspect(parent *imagesOpts) *imagesInspectOpts {
	return &imagesInspectOpts{imagesOpts: parent}
}

func (opts *imagesInspectOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect",
		Short:   "Show an image's details, as each node has it.",
		Example: makeExample("deployhubctl images inspect --image shop/web:1.0.0 -o json"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "image to inspect")
	return cmd
}

func (opts *imagesInspectOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.image == "" {
		return newUsageError("-i, --image is required")
	}
	results, err := opts.API.InspectImage(context.Background(), opts.image)
	if err != nil {
		return err
	}
	return opts.printPeerResults(cmd.OutOrStdout(), results)
}
