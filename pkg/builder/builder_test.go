package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	"github.com/deployhub/deployhub/pkg/storage"
)

type fakeDocker struct {
	buildOutput  string
	buildErr     error
	builtContext string
	buildOpts    types.ImageBuildOptions

	images  []dockerimage.Summary
	removed []string
	missing map[string]bool
}

func (f *fakeDocker) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	data, _ := io.ReadAll(buildContext)
	f.builtContext = string(data)
	f.buildOpts = options
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildOutput))}, nil
}

func (f *fakeDocker) ImageList(ctx context.Context, options dockerimage.ListOptions) ([]dockerimage.Summary, error) {
	return f.images, nil
}

func (f *fakeDocker) ImageRemove(ctx context.Context, name string, options dockerimage.RemoveOptions) ([]dockerimage.DeleteResponse, error) {
	if f.missing[name] {
		return nil, fmt.Errorf("No such image: %s: %w", name, cerrdefs.ErrNotFound)
	}
	f.removed = append(f.removed, name)
	return []dockerimage.DeleteResponse{{Deleted: name}}, nil
}

func (f *fakeDocker) ImageInspect(ctx context.Context, name string, opts ...client.ImageInspectOption) (dockerimage.InspectResponse, error) {
	if f.missing[name] {
		return dockerimage.InspectResponse{}, fmt.Errorf("No such image: %s: %w", name, cerrdefs.ErrNotFound)
	}
	return dockerimage.InspectResponse{
		ID:           "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		RepoTags:     []string{name},
		Created:      "2024-01-02T03:04:05Z",
		Size:         1234,
		Architecture: "amd64",
		Os:           "linux",
	}, nil
}

func setup(t *testing.T, docker *fakeDocker) (*Builder, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return New(docker, store, "", "192.168.1.10", log.NewNopLogger()), store
}

func TestBuild(t *testing.T) {
	docker := &fakeDocker{buildOutput: `{"stream":"Step 1/2 : FROM scratch\n"}
{"stream":"Successfully built 0123\n"}
`}
	b, store := setup(t, docker)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, storage.DefaultBucket, "ctx.tar_web:v1", strings.NewReader("tar bytes")))

	resp, err := b.Build(ctx, v1.BuilderBuildRequest{ImageTag: "web:v1", FileName: "ctx.tar_web:v1"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", resp.NodeIP)
	assert.Equal(t, "Image [web:v1] build successful.", resp.Message)
	assert.Equal(t, "tar bytes", docker.builtContext)
	assert.Equal(t, []string{"web:v1"}, docker.buildOpts.Tags)
	assert.Equal(t, "Dockerfile", docker.buildOpts.Dockerfile)
	assert.True(t, docker.buildOpts.Remove)
}

func TestBuildFailureInOutputStream(t *testing.T) {
	docker := &fakeDocker{buildOutput: `{"stream":"Step 1/2 : FROM nothing\n"}
{"errorDetail":{"message":"pull access denied for nothing"},"error":"pull access denied for nothing"}
`}
	b, store := setup(t, docker)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, storage.DefaultBucket, "f", strings.NewReader("tar")))

	resp, err := b.Build(ctx, v1.BuilderBuildRequest{ImageTag: "web:v1", FileName: "f"})
	require.Error(t, err)
	assert.True(t, dherr.IsUser(err))
	assert.Contains(t, resp.Message, "pull access denied")
	assert.Equal(t, "192.168.1.10", resp.NodeIP)
}

func TestBuildMissingContext(t *testing.T) {
	b, _ := setup(t, &fakeDocker{})
	_, err := b.Build(context.Background(), v1.BuilderBuildRequest{ImageTag: "web:v1", FileName: "nope"})
	assert.True(t, dherr.IsMissing(err))

	_, err = b.Build(context.Background(), v1.BuilderBuildRequest{ImageTag: "web:v1"})
	assert.True(t, dherr.IsUser(err))
}

func TestBuildEngineError(t *testing.T) {
	b, store := setup(t, &fakeDocker{buildErr: errors.New("engine unavailable")})
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, storage.DefaultBucket, "f", strings.NewReader("tar")))
	_, err := b.Build(ctx, v1.BuilderBuildRequest{ImageTag: "web:v1", FileName: "f"})
	require.Error(t, err)
	assert.False(t, dherr.IsUser(err))
	assert.False(t, dherr.IsMissing(err))
}

func TestListKeepsTaggedImages(t *testing.T) {
	b, _ := setup(t, &fakeDocker{images: []dockerimage.Summary{
		{ID: "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", RepoTags: []string{"web:v1", "web:latest"}, Created: 1700000000, Size: 10},
		{ID: "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", RepoTags: nil},
		{ID: "sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc", RepoTags: []string{"<none>:<none>"}},
	}})
	resp, err := b.List(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "192.168.1.10", resp.NodeIP)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "aaaaaaaaaaaa", resp.Images[0].ID)
	assert.Equal(t, []string{"web:v1", "web:latest"}, resp.Images[0].Tags)
	assert.Equal(t, int64(1700000000), resp.Images[0].Created.Unix())
}

func TestDelete(t *testing.T) {
	docker := &fakeDocker{missing: map[string]bool{"gone:v1": true}}
	b, _ := setup(t, docker)

	resp, err := b.Delete(context.Background(), "web:v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"web:v1"}, docker.removed)
	assert.Equal(t, "Image [web:v1] deleted successfully.", resp.Message)

	resp, err = b.Delete(context.Background(), "gone:v1")
	assert.True(t, dherr.IsMissing(err))
	assert.Equal(t, "192.168.1.10", resp.NodeIP)
	assert.Contains(t, resp.Message, "not found")
}

func TestInspect(t *testing.T) {
	b, _ := setup(t, &fakeDocker{missing: map[string]bool{"gone:v1": true}})

	resp, err := b.Inspect(context.Background(), "web:v1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Image)
	assert.Equal(t, "0123456789ab", resp.Image.ID)
	assert.Equal(t, "linux", resp.Image.OS)
	assert.Nil(t, resp.Image.Config)

	resp, err = b.Inspect(context.Background(), "gone:v1")
	assert.True(t, dherr.IsMissing(err))
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Image)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "not-a-digest", shortID("not-a-digest"))
}
