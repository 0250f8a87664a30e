// Package builder builds and manages images on the node it runs on,
// using the local Docker engine.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-kit/kit/log"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	"github.com/deployhub/deployhub/pkg/image"
	"github.com/deployhub/deployhub/pkg/storage"
)

// imageAPI is the part of the Docker client used here.
type imageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageList(ctx context.Context, options dockerimage.ListOptions) ([]dockerimage.Summary, error)
	ImageRemove(ctx context.Context, image string, options dockerimage.RemoveOptions) ([]dockerimage.DeleteResponse, error)
	ImageInspect(ctx context.Context, image string, opts ...client.ImageInspectOption) (dockerimage.InspectResponse, error)
}

// Builder implements v1.Builder against the local Docker engine. Every
// response names the node, so that results gathered from the whole
// fleet can be told apart.
type Builder struct {
	docker imageAPI
	store  storage.Store
	bucket string
	nodeIP string
	logger log.Logger
}

var _ v1.Builder = &Builder{}

func New(docker imageAPI, store storage.Store, bucket, nodeIP string, logger log.Logger) *Builder {
	if bucket == "" {
		bucket = storage.DefaultBucket
	}
	return &Builder{
		docker: docker,
		store:  store,
		bucket: bucket,
		nodeIP: nodeIP,
		logger: logger,
	}
}

// NewDockerClient connects to the engine given by the usual DOCKER_*
// environment, or the local socket.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// Build fetches the build context named in req from the object store
// and builds it, tagged req.ImageTag.
func (b *Builder) Build(ctx context.Context, req v1.BuilderBuildRequest) (v1.BuilderResponse, error) {
	resp := v1.BuilderResponse{NodeIP: b.nodeIP}
	if req.ImageTag == "" || req.FileName == "" {
		err := dherr.UserError(errors.New("imageTag and fileName are both required"))
		resp.Message = fmt.Sprintf("Failed to build image [%s]: %s", req.ImageTag, err.Err)
		return resp, err
	}

	buildContext, err := b.store.Download(ctx, b.bucket, req.FileName)
	if err != nil {
		resp.Message = fmt.Sprintf("An error occurred while building image [%s]: %s", req.ImageTag, err)
		return resp, err
	}
	defer buildContext.Close()

	started := time.Now()
	built, err := b.docker.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{req.ImageTag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err == nil {
		err = drain(built.Body)
		built.Body.Close()
	}
	if err != nil {
		b.logger.Log("err", err, "op", "build", "tag", req.ImageTag)
		resp.Message = fmt.Sprintf("Failed to build image [%s]: %s", req.ImageTag, err)
		return resp, classify(err)
	}
	b.logger.Log("info", "built image", "tag", req.ImageTag, "took", time.Since(started))
	resp.Message = fmt.Sprintf("Image [%s] build successful.", req.ImageTag)
	return resp, nil
}

// drain reads the build output to the end. The engine reports a
// failed build in the stream, not in the response status.
func drain(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "reading build output")
		}
		if msg.Error != nil {
			return dherr.UserError(errors.New(strings.TrimSpace(msg.Error.Message)))
		}
	}
}

// classify gives engine errors the type that fits.
func classify(err error) error {
	if _, ok := err.(*dherr.Error); ok {
		return err
	}
	switch {
	case cerrdefs.IsNotFound(err):
		return &dherr.Error{Type: dherr.Missing, Err: err, Help: err.Error()}
	case cerrdefs.IsInvalidArgument(err), cerrdefs.IsConflict(err):
		return dherr.UserError(err)
	default:
		return err
	}
}

// Delete force-removes an image.
func (b *Builder) Delete(ctx context.Context, imageName string) (v1.BuilderResponse, error) {
	resp := v1.BuilderResponse{NodeIP: b.nodeIP}
	if imageName == "" {
		err := dherr.UserError(errors.New("imageName is required"))
		resp.Message = fmt.Sprintf("Failed to delete image []: %s", err.Err)
		return resp, err
	}
	_, err := b.docker.ImageRemove(ctx, imageName, dockerimage.RemoveOptions{Force: true})
	switch {
	case err == nil:
		b.logger.Log("info", "deleted image", "image", imageName)
		resp.Message = fmt.Sprintf("Image [%s] deleted successfully.", imageName)
		return resp, nil
	case cerrdefs.IsNotFound(err):
		resp.Message = fmt.Sprintf("Image [%s] not found: %s", imageName, err)
	default:
		b.logger.Log("err", err, "op", "delete", "image", imageName)
		resp.Message = fmt.Sprintf("Failed to delete image [%s]: %s", imageName, err)
	}
	return resp, classify(err)
}

// List gives the tagged images on this node.
func (b *Builder) List(ctx context.Context) (v1.ListImagesResponse, error) {
	resp := v1.ListImagesResponse{NodeIP: b.nodeIP}
	summaries, err := b.docker.ImageList(ctx, dockerimage.ListOptions{All: true})
	if err != nil {
		b.logger.Log("err", err, "op", "list")
		resp.Message = fmt.Sprintf("Failed to list images: %s", err)
		return resp, classify(err)
	}
	resp.Images = []image.Summary{}
	for _, s := range summaries {
		tags := tagged(s.RepoTags)
		if len(tags) == 0 {
			continue
		}
		resp.Images = append(resp.Images, image.Summary{
			ID:      shortID(s.ID),
			Tags:    tags,
			Created: time.Unix(s.Created, 0).UTC(),
			Size:    s.Size,
		})
	}
	resp.Success = true
	resp.Message = "Images listed successfully."
	return resp, nil
}

// tagged drops the placeholder the engine uses for dangling images.
func tagged(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t != "" && t != "<none>:<none>" {
			out = append(out, t)
		}
	}
	return out
}

// shortID gives the first twelve hex digits of an image ID, as the
// docker CLI shows it.
func shortID(id string) string {
	d, err := digest.Parse(id)
	if err != nil {
		return id
	}
	encoded := d.Encoded()
	if len(encoded) > 12 {
		return encoded[:12]
	}
	return encoded
}

func (b *Builder) Inspect(ctx context.Context, imageName string) (v1.InspectImageResponse, error) {
	resp := v1.InspectImageResponse{NodeIP: b.nodeIP}
	if imageName == "" {
		err := dherr.UserError(errors.New("imageName is required"))
		resp.Message = fmt.Sprintf("Failed to inspect image []: %s", err.Err)
		return resp, err
	}
	inspected, err := b.docker.ImageInspect(ctx, imageName)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			resp.Message = fmt.Sprintf("Image [%s] not found: %s", imageName, err)
		} else {
			b.logger.Log("err", err, "op", "inspect", "image", imageName)
			resp.Message = fmt.Sprintf("Failed to inspect image [%s]: %s", imageName, err)
		}
		return resp, classify(err)
	}
	details := &image.Details{
		ID:           shortID(inspected.ID),
		Tags:         inspected.RepoTags,
		Created:      inspected.Created,
		Size:         inspected.Size,
		Architecture: inspected.Architecture,
		OS:           inspected.Os,
	}
	if inspected.Config != nil {
		details.Config = inspected.Config
	}
	resp.Success = true
	resp.Message = "Image inspected successfully."
	resp.Image = details
	return resp, nil
}
