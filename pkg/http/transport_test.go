package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

func TestMakeURLSplitsPathAndQuery(t *testing.T) {
	u, err := MakeURL("http://deployhub:3030/api", NewAPIRouter(), GetConfig, "id", "p-1", "tag", "v2")
	require.NoError(t, err)
	assert.Equal(t, "http://deployhub:3030/api/projects/p-1/configs/v2", u.String())

	u, err = MakeURL("http://deployhub:3030", NewAPIRouter(), ListImages, "tag", "semver:^1")
	require.NoError(t, err)
	assert.Equal(t, "/images", u.Path)
	assert.Equal(t, "semver:^1", u.Query().Get("tag"))

	u, err = MakeURL("http://10-0-0-1.imagebuilderapi.automated-deployment.svc.cluster.local:5000", NewBuilderRouter(), BuilderInspect, "imageName", "web:v1")
	require.NoError(t, err)
	assert.Equal(t, "http://10-0-0-1.imagebuilderapi.automated-deployment.svc.cluster.local:5000/api/image/inspect?imageName=web%3Av1", u.String())
}

func TestMakeURLUnknownRoute(t *testing.T) {
	_, err := MakeURL("http://deployhub", NewAPIRouter(), "NoSuchRoute")
	assert.Error(t, err)
}

func TestCurrentIsNotATag(t *testing.T) {
	r := NewAPIRouter()
	var match = func(method, path string) string {
		req := httptest.NewRequest(method, path, nil)
		var m mux.RouteMatch
		if r.Match(req, &m) {
			return m.Route.GetName()
		}
		return ""
	}
	assert.Equal(t, CurrentConfig, match("GET", "/projects/p/configs/current"))
	assert.Equal(t, GetConfig, match("GET", "/projects/p/configs/v1"))
	assert.Equal(t, DeleteImage, match("DELETE", "/images"))
	assert.Equal(t, ListImages, match("GET", "/images"))
}

func TestErrorResponseStatusCodes(t *testing.T) {
	for _, c := range []struct {
		err  error
		code int
	}{
		{dherr.MissingError("project", errors.New("no such project")), http.StatusNotFound},
		{dherr.UserError(errors.New("bad yaml")), http.StatusUnprocessableEntity},
		{ErrorUnauthorized, http.StatusUnauthorized},
		{MakeForbidden("mallory"), http.StatusForbidden},
		{errors.New("unexpected"), http.StatusInternalServerError},
	} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		ErrorResponse(rec, req, c.err)
		assert.Equal(t, c.code, rec.Code, c.err.Error())

		var body dherr.Error
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Help)
	}
}

func TestWriteErrorPlainText(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	WriteError(rec, req, http.StatusNotFound, MakeAPINotFound("/nowhere"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/nowhere")
}
