package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployhub/deployhub/pkg/api"
	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	transport "github.com/deployhub/deployhub/pkg/http"
	"github.com/deployhub/deployhub/pkg/http/daemon"
	"github.com/deployhub/deployhub/pkg/project"
)

type mockServer struct {
	api.Server

	token    string
	outcomes []v1.ResourceOutcome
	uploaded string
	tag      string
}

func (m *mockServer) Version(ctx context.Context) (string, error) {
	return "1.2.3", nil
}

func (m *mockServer) ApplyResources(ctx context.Context, req v1.ResourceRequest) ([]v1.ResourceOutcome, error) {
	if req.ManifestText == "" {
		return nil, dherr.UserError(errors.New("manifest is empty"))
	}
	return m.outcomes, nil
}

func (m *mockServer) UploadImage(ctx context.Context, req v1.UploadRequest) ([]v1.PeerResult, error) {
	data, _ := io.ReadAll(req.Body)
	m.uploaded = req.FileName + ":" + string(data)
	m.tag = req.ImageTag
	return []v1.PeerResult{{IP: "10.0.0.1", Success: true}}, nil
}

func (m *mockServer) GetConfig(ctx context.Context, projectID, tag string) (project.Config, error) {
	return project.Config{}, dherr.MissingError("config "+tag, errors.New("no such config"))
}

func (m *mockServer) DeleteProject(ctx context.Context, id string) error {
	return nil
}

func setup(t *testing.T, token Token) (*Client, *mockServer) {
	m := &mockServer{}
	handler := daemon.NewHandler(m, daemon.NewRouter())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.token = r.Header.Get("Authorization")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(http.DefaultClient, transport.NewAPIRouter(), srv.URL, token), m
}

func TestVersionSendsToken(t *testing.T) {
	c, m := setup(t, "abc")
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)
	assert.Equal(t, "Bearer abc", m.token)
}

func TestApplyResourcesFailedBatch(t *testing.T) {
	c, m := setup(t, "")
	m.outcomes = []v1.ResourceOutcome{
		{Kind: "Namespace", Name: "shop", Result: v1.ResultCreated},
		{Kind: "CronJob", Result: v1.ResultFailed, Message: "Unsupported kind: CronJob"},
	}
	outcomes, err := c.ApplyResources(context.Background(), v1.ResourceRequest{ManifestText: "kind: Namespace"})
	require.NoError(t, err, "a 422 with outcomes is not an error")
	assert.True(t, v1.Failed(outcomes))
	assert.Len(t, outcomes, 2)
}

func TestApplyResourcesUserError(t *testing.T) {
	c, _ := setup(t, "")
	_, err := c.ApplyResources(context.Background(), v1.ResourceRequest{})
	require.Error(t, err)
	assert.True(t, dherr.IsUser(err))
}

func TestErrorsKeepTheirType(t *testing.T) {
	c, _ := setup(t, "")
	_, err := c.GetConfig(context.Background(), "p1", "v9")
	assert.True(t, dherr.IsMissing(err))

	assert.NoError(t, c.DeleteProject(context.Background(), "p1"))
}

func TestUploadImageStreams(t *testing.T) {
	c, m := setup(t, "")
	results, err := c.UploadImage(context.Background(), v1.UploadRequest{
		FileName: "ctx.tar",
		ImageTag: "web:v1",
		Body:     strings.NewReader("tar bytes"),
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "ctx.tar:tar bytes", m.uploaded)
	assert.Equal(t, "web:v1", m.tag)
}

func TestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(http.DefaultClient, transport.NewAPIRouter(), srv.URL, "")
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
