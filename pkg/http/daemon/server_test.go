package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployhub/deployhub/pkg/api"
	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	"github.com/deployhub/deployhub/pkg/image"
	"github.com/deployhub/deployhub/pkg/project"
)

// mockServer answers the calls the tests make; anything else panics
// on the nil embedded interface.
type mockServer struct {
	api.Server

	outcomes []v1.ResourceOutcome
	upload   v1.UploadRequest
	uploaded string
	pattern  string
	rollback [2]string
}

func (m *mockServer) Ping(ctx context.Context) error { return nil }

func (m *mockServer) ApplyResources(ctx context.Context, req v1.ResourceRequest) ([]v1.ResourceOutcome, error) {
	if req.Operation == "Upsert" {
		return nil, dherr.UserError(errors.New("unknown operation"))
	}
	return m.outcomes, nil
}

func (m *mockServer) UploadImage(ctx context.Context, req v1.UploadRequest) ([]v1.PeerResult, error) {
	m.upload = req
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	m.uploaded = string(data)
	return []v1.PeerResult{{IP: "10.0.0.1", Success: true}}, nil
}

func (m *mockServer) ListImages(ctx context.Context, opts v1.ListImagesOptions) ([]image.Merged, error) {
	m.pattern = opts.TagPattern
	return []image.Merged{{FullName: "web:v1", ImageName: "web", Tag: "v1", NodeIPs: []string{"10.0.0.1"}, NodeCount: 1}}, nil
}

func (m *mockServer) GetProject(ctx context.Context, id string) (project.Project, error) {
	return project.Project{}, dherr.MissingError("project "+id, errors.New("no such project"))
}

func (m *mockServer) CurrentConfig(ctx context.Context, projectID string) (project.Config, error) {
	return project.Config{ProjectID: projectID, Tag: "v3", IsCurrent: true}, nil
}

func (m *mockServer) GetConfig(ctx context.Context, projectID, tag string) (project.Config, error) {
	return project.Config{ProjectID: projectID, Tag: tag}, nil
}

func (m *mockServer) Rollback(ctx context.Context, projectID, tag string) error {
	m.rollback = [2]string{projectID, tag}
	return nil
}

func serve(t *testing.T) (*httptest.Server, *mockServer) {
	m := &mockServer{}
	srv := httptest.NewServer(NewHandler(m, NewRouter()))
	t.Cleanup(srv.Close)
	return srv, m
}

func TestEveryRouteHasAHandler(t *testing.T) {
	router := NewRouter()
	NewHandler(&mockServer{}, router)
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if route.GetHandler() == nil {
			return errors.Errorf("no handler for route %q", route.GetName())
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	srv, _ := serve(t)
	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestApplyResourcesStatus(t *testing.T) {
	srv, m := serve(t)
	post := func(body string) (*http.Response, []v1.ResourceOutcome) {
		resp, err := http.Post(srv.URL+"/resources", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var outcomes []v1.ResourceOutcome
		json.NewDecoder(resp.Body).Decode(&outcomes)
		return resp, outcomes
	}

	m.outcomes = []v1.ResourceOutcome{{Kind: "Namespace", Name: "shop", Result: v1.ResultCreated}}
	resp, outcomes := post(`{"manifestText": "kind: Namespace"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, outcomes, 1)

	m.outcomes = append(m.outcomes, v1.ResourceOutcome{Kind: "CronJob", Result: v1.ResultFailed, Message: "Unsupported kind: CronJob"})
	resp, outcomes = post(`{"manifestText": "kind: Namespace"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Len(t, outcomes, 2, "a failed batch still carries its outcomes")
	assert.Equal(t, v1.ResultFailed, outcomes[1].Result)

	resp, _ = post(`{"manifestText": "kind: Namespace", "operation": "Upsert"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = post(`not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadImage(t *testing.T) {
	srv, m := serve(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("imageTag", "web:v1"))
	part, err := form.CreateFormFile("imageFile", "ctx.tar")
	require.NoError(t, err)
	part.Write([]byte("tar bytes"))
	require.NoError(t, form.Close())

	resp, err := http.Post(srv.URL+"/images/upload", form.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ctx.tar", m.upload.FileName)
	assert.Equal(t, "web:v1", m.upload.ImageTag)
	assert.Equal(t, "tar bytes", m.uploaded)
}

func TestUploadImageWithoutFile(t *testing.T) {
	srv, _ := serve(t)
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	form.WriteField("imageTag", "web:v1")
	form.Close()

	resp, err := http.Post(srv.URL+"/images/upload", form.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListImagesTagQuery(t *testing.T) {
	srv, m := serve(t)
	resp, err := http.Get(srv.URL + "/images?tag=semver:%3E%3D1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "semver:>=1", m.pattern)

	var images []image.Merged
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&images))
	assert.Equal(t, "web:v1", images[0].FullName)
}

func TestProjectRoutes(t *testing.T) {
	srv, m := serve(t)

	resp, err := http.Get(srv.URL + "/projects/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var c project.Config
	resp, err = http.Get(srv.URL + "/projects/p1/configs/current")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	resp.Body.Close()
	assert.True(t, c.IsCurrent, "current isn't taken for a tag")

	resp, err = http.Get(srv.URL + "/projects/p1/configs/v1")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	resp.Body.Close()
	assert.Equal(t, "v1", c.Tag)

	resp, err = http.Post(srv.URL+"/projects/p1/rollback?tag=v1", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, [2]string{"p1", "v1"}, m.rollback)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := serve(t)
	req, _ := http.NewRequest("GET", srv.URL+"/api/v2/whatever", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr dherr.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, dherr.Missing, apiErr.Type)
}
