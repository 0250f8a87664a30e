package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployhub/deployhub/pkg/api"
	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	"github.com/deployhub/deployhub/pkg/image"
)

type mockAPI struct {
	api.Server

	request  v1.ResourceRequest
	outcomes []v1.ResourceOutcome
	upload   string
	pattern  string
	rollback string
}

func (m *mockAPI) Version(ctx context.Context) (string, error) {
	return "1.2.3", nil
}

func (m *mockAPI) ApplyResources(ctx context.Context, req v1.ResourceRequest) ([]v1.ResourceOutcome, error) {
	m.request = req
	return m.outcomes, nil
}

func (m *mockAPI) UploadImage(ctx context.Context, req v1.UploadRequest) ([]v1.PeerResult, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	m.upload = req.FileName + " " + req.ImageTag + " " + string(data)
	return []v1.PeerResult{
		{IP: "10.0.0.1", Success: true, Body: []byte(`{"message": "Image [web:v1] build successful."}`)},
		{IP: "10.0.0.2", Error: "no response within 30s"},
	}, nil
}

func (m *mockAPI) ListImages(ctx context.Context, opts v1.ListImagesOptions) ([]image.Merged, error) {
	m.pattern = opts.TagPattern
	return []image.Merged{{FullName: "web:v1", ImageName: "web", Tag: "v1", NodeIPs: []string{"10.0.0.1", "10.0.0.2"}, NodeCount: 2}}, nil
}

func (m *mockAPI) Rollback(ctx context.Context, projectID, tag string) error {
	m.rollback = projectID + "@" + tag
	return nil
}

func execute(t *testing.T, m *mockAPI, args ...string) (string, error) {
	root := newRoot()
	root.API = m
	cmd := root.Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tempFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestApplyAndDelete(t *testing.T) {
	m := &mockAPI{outcomes: []v1.ResourceOutcome{{Kind: "Namespace", Name: "shop", Result: v1.ResultCreated}}}
	path := tempFile(t, "shop.yaml", "kind: Namespace\n")

	out, err := execute(t, m, "apply", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, v1.CreateOrUpdate, m.request.Operation)
	assert.Contains(t, out, "Created")

	_, err = execute(t, m, "delete", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, v1.Delete, m.request.Operation)
}

func TestApplyFailedBatchIsAnError(t *testing.T) {
	m := &mockAPI{outcomes: []v1.ResourceOutcome{{Kind: "CronJob", Result: v1.ResultFailed, Message: "Unsupported kind: CronJob"}}}
	out, err := execute(t, m, "apply", "-f", tempFile(t, "x.yaml", "kind: CronJob\n"))
	assert.Error(t, err)
	assert.Contains(t, out, "Unsupported kind: CronJob")
}

func TestApplyNeedsFile(t *testing.T) {
	_, err := execute(t, &mockAPI{}, "apply")
	assert.IsType(t, usageError{}, err)
}

func TestImagesUpload(t *testing.T) {
	m := &mockAPI{}
	path := tempFile(t, "ctx.tar", "tar bytes")
	out, err := execute(t, m, "images", "upload", "-f", path, "--tag", "web:v1", "--no-progress")
	assert.EqualError(t, err, "1 of 2 nodes failed")
	assert.Equal(t, "ctx.tar web:v1 tar bytes", m.upload)
	assert.Contains(t, out, "build successful")
	assert.Contains(t, out, "no response within 30s")

	_, err = execute(t, m, "images", "upload", "-f", tempFile(t, "ctx.zip", "zip"), "--tag", "web:v1")
	assert.IsType(t, usageError{}, err)
}

func TestImagesList(t *testing.T) {
	m := &mockAPI{}
	out, err := execute(t, m, "images", "list", "--tag", "semver:>=1")
	require.NoError(t, err)
	assert.Equal(t, "semver:>=1", m.pattern)
	assert.Contains(t, out, "10.0.0.1,10.0.0.2")

	_, err = execute(t, m, "images", "list", "-o", "yaml")
	assert.Equal(t, errorInvalidOutputFormat, err)
}

func TestConfigsRollback(t *testing.T) {
	m := &mockAPI{}
	_, err := execute(t, m, "configs", "rollback", "--tag", "v1")
	assert.IsType(t, usageError{}, err)

	out, err := execute(t, m, "configs", "rollback", "-p", "p1", "--tag", "v1")
	require.NoError(t, err)
	assert.Equal(t, "p1@v1", m.rollback)
	assert.Contains(t, out, "v1 is now the current config")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, &mockAPI{}, "version")
	require.NoError(t, err)
	assert.Equal(t, "unversioned\n", out)

	out, err = execute(t, &mockAPI{}, "version", "--server")
	require.NoError(t, err)
	assert.Equal(t, "client: unversioned\nserver: 1.2.3\n", out)

	_, err = execute(t, &mockAPI{}, "version", "extra")
	assert.Equal(t, errorWantedNoArgs, err)
}
