package daemon

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	"github.com/deployhub/deployhub/pkg/image"
	"github.com/deployhub/deployhub/pkg/manifests"
	"github.com/deployhub/deployhub/pkg/project"
	"github.com/deployhub/deployhub/pkg/storage"
)

type mockCluster struct {
	pingErr   error
	operation v1.ResourceOperation
	applied   []manifests.Operation
	fail      string
}

func (m *mockCluster) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockCluster) Reconcile(ctx context.Context, operation v1.ResourceOperation, ops []manifests.Operation) []v1.ResourceOutcome {
	m.operation = operation
	var outcomes []v1.ResourceOutcome
	for _, op := range ops {
		if op.Kind == m.fail {
			outcomes = append(outcomes, v1.ResourceOutcome{Kind: op.Kind, Name: op.Name, Result: v1.ResultFailed, Message: "Failed to operate on " + op.Kind})
			break
		}
		m.applied = append(m.applied, op)
		outcomes = append(outcomes, v1.ResourceOutcome{Kind: op.Kind, Name: op.Name, Namespace: op.Namespace, Result: v1.ResultCreated})
	}
	return outcomes
}

type mockFleet struct {
	built   [][2]string
	deleted []string
	merged  []image.Merged
}

func (m *mockFleet) Build(ctx context.Context, imageTag, fileName string) []v1.PeerResult {
	m.built = append(m.built, [2]string{imageTag, fileName})
	return []v1.PeerResult{{IP: "10.0.0.1", Success: true}, {IP: "10.0.0.2", Error: "timeout"}}
}

func (m *mockFleet) Delete(ctx context.Context, imageName string) []v1.PeerResult {
	m.deleted = append(m.deleted, imageName)
	return []v1.PeerResult{{IP: "10.0.0.1", Success: true}}
}

func (m *mockFleet) Inspect(ctx context.Context, imageName string) []v1.PeerResult {
	return []v1.PeerResult{{IP: "10.0.0.1", Success: true}}
}

func (m *mockFleet) List(ctx context.Context) []image.Merged {
	return m.merged
}

func daemon(t *testing.T) (*Daemon, *mockCluster, *mockFleet, *storage.MemoryStore) {
	projects, err := project.Open(":memory:", log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { projects.Close() })

	cluster := &mockCluster{}
	fleet := &mockFleet{}
	store := storage.NewMemoryStore()
	d := &Daemon{
		V:        "1.0.0",
		Cluster:  cluster,
		Parser:   manifests.NewParser(),
		Fleet:    fleet,
		Storage:  store,
		Bucket:   storage.DefaultBucket,
		Projects: projects,
		Logger:   log.NewNopLogger(),
	}
	return d, cluster, fleet, store
}

const twoDocs = `apiVersion: v1
kind: Namespace
metadata:
  name: shop
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
  namespace: shop
`

func TestApplyResources(t *testing.T) {
	d, cluster, _, _ := daemon(t)
	outcomes, err := d.ApplyResources(context.Background(), v1.ResourceRequest{ManifestText: twoDocs})
	require.NoError(t, err)
	assert.Equal(t, v1.CreateOrUpdate, cluster.operation, "operation defaults to CreateOrUpdate")
	require.Len(t, outcomes, 2)
	assert.Equal(t, "Namespace", outcomes[0].Kind)
	assert.Equal(t, "ConfigMap", outcomes[1].Kind)
	assert.False(t, v1.Failed(outcomes))
}

func TestApplyResourcesRejectsBadInput(t *testing.T) {
	d, cluster, _, _ := daemon(t)
	ctx := context.Background()

	_, err := d.ApplyResources(ctx, v1.ResourceRequest{ManifestText: twoDocs, Operation: "Upsert"})
	assert.True(t, dherr.IsUser(err))

	_, err = d.ApplyResources(ctx, v1.ResourceRequest{ManifestText: "  \n"})
	assert.True(t, dherr.IsUser(err))

	_, err = d.ApplyResources(ctx, v1.ResourceRequest{ManifestText: twoDocs + "---\nmetadata:\n  name: no-kind\n"})
	assert.True(t, dherr.IsUser(err))
	assert.Empty(t, cluster.applied, "nothing is applied when any document is malformed")
}

func TestApplyResourcesPartialFailure(t *testing.T) {
	d, cluster, _, _ := daemon(t)
	cluster.fail = "ConfigMap"
	outcomes, err := d.ApplyResources(context.Background(), v1.ResourceRequest{ManifestText: twoDocs, Operation: v1.Delete})
	require.NoError(t, err)
	assert.Equal(t, v1.Delete, cluster.operation)
	assert.True(t, v1.Failed(outcomes))
	assert.Len(t, cluster.applied, 1)
}

func TestBuildImageValidatesTag(t *testing.T) {
	d, _, fleet, _ := daemon(t)
	ctx := context.Background()

	_, err := d.BuildImage(ctx, v1.BuildRequest{ImageTag: "Not A Tag!", SourceObjectName: "x"})
	assert.True(t, dherr.IsUser(err))
	_, err = d.BuildImage(ctx, v1.BuildRequest{ImageTag: "web:v1"})
	assert.True(t, dherr.IsUser(err))
	assert.Empty(t, fleet.built)

	results, err := d.BuildImage(ctx, v1.BuildRequest{ImageTag: "web:v1", SourceObjectName: "ctx.tar_web:v1"})
	require.NoError(t, err)
	assert.Len(t, results, 2, "failed peers are reported, not dropped")
}

func TestUploadImage(t *testing.T) {
	d, _, fleet, store := daemon(t)
	ctx := context.Background()

	_, err := d.UploadImage(ctx, v1.UploadRequest{FileName: "ctx.zip", ImageTag: "web:v1", Body: strings.NewReader("zip")})
	assert.True(t, dherr.IsUser(err))

	results, err := d.UploadImage(ctx, v1.UploadRequest{FileName: "ctx.tar", ImageTag: "web:v1", Body: strings.NewReader("tar bytes")})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, [][2]string{{"web:v1", "ctx.tar_web:v1"}}, fleet.built)

	rc, err := store.Download(ctx, storage.DefaultBucket, "ctx.tar_web:v1")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "tar bytes", string(data))
}

func TestListImagesFilter(t *testing.T) {
	d, _, fleet, _ := daemon(t)
	fleet.merged = []image.Merged{
		{FullName: "web:1.0.0", ImageName: "web", Tag: "1.0.0", NodeCount: 2},
		{FullName: "web:dev", ImageName: "web", Tag: "dev", NodeCount: 1},
	}
	ctx := context.Background()

	all, err := d.ListImages(ctx, v1.ListImagesOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	released, err := d.ListImages(ctx, v1.ListImagesOptions{TagPattern: "semver:>=1"})
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, "1.0.0", released[0].Tag)

	_, err = d.ListImages(ctx, v1.ListImagesOptions{TagPattern: "regexp:("})
	assert.True(t, dherr.IsUser(err))
}

func TestDeleteAndInspectRequireName(t *testing.T) {
	d, _, fleet, _ := daemon(t)
	_, err := d.DeleteImage(context.Background(), "")
	assert.True(t, dherr.IsUser(err))
	_, err = d.InspectImage(context.Background(), "")
	assert.True(t, dherr.IsUser(err))

	_, err = d.DeleteImage(context.Background(), "web:v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"web:v1"}, fleet.deleted)
}

func TestDeployProject(t *testing.T) {
	d, cluster, _, _ := daemon(t)
	ctx := context.Background()

	p, err := d.CreateProject(ctx, v1.NewProject{Name: "shop"})
	require.NoError(t, err)

	_, err = d.DeployProject(ctx, p.ID)
	assert.True(t, dherr.IsMissing(err), "no current config yet")

	_, err = d.AddConfig(ctx, p.ID, v1.NewConfig{Tag: "v1", YAML: twoDocs})
	require.NoError(t, err)
	_, err = d.AddConfig(ctx, p.ID, v1.NewConfig{Tag: "v2", YAML: "apiVersion: v1\nkind: Secret\nmetadata:\n  name: creds\n"})
	require.NoError(t, err)

	_, err = d.DeployProject(ctx, p.ID)
	assert.True(t, dherr.IsMissing(err), "adding a config doesn't make it current")

	require.NoError(t, d.Rollback(ctx, p.ID, "v2"))
	outcomes, err := d.DeployProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "Secret", outcomes[0].Kind)

	require.NoError(t, d.Rollback(ctx, p.ID, "v1"))
	outcomes, err = d.DeployProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	assert.Equal(t, v1.CreateOrUpdate, cluster.operation)

	assert.True(t, dherr.IsUser(d.Rollback(ctx, p.ID, "")))
}

func TestPing(t *testing.T) {
	d, cluster, _, _ := daemon(t)
	assert.NoError(t, d.Ping(context.Background()))
	cluster.pingErr = errors.New("unreachable")
	assert.Error(t, d.Ping(context.Background()))

	v, err := d.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}
