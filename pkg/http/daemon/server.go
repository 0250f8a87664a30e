package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/deployhub/deployhub/pkg/api"
	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	transport "github.com/deployhub/deployhub/pkg/http"
	dhmetrics "github.com/deployhub/deployhub/pkg/metrics"
)

// Build contexts bigger than this are spooled to disk while the
// request is parsed.
const maxUploadMemory = 32 << 20

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "deployhub",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{dhmetrics.LabelMethod, dhmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// An API server for the daemon
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// Every request that doesn't match a route gets a proper error,
	// rather than the default 404 page.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

func NewHandler(s api.Server, r *mux.Router) http.Handler {
	handle := HTTPServer{s}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)

	r.Get(transport.ApplyResources).HandlerFunc(handle.ApplyResources)

	r.Get(transport.BuildImage).HandlerFunc(handle.BuildImage)
	r.Get(transport.UploadImage).HandlerFunc(handle.UploadImage)
	r.Get(transport.DeleteImage).HandlerFunc(handle.DeleteImage)
	r.Get(transport.ListImages).HandlerFunc(handle.ListImages)
	r.Get(transport.InspectImage).HandlerFunc(handle.InspectImage)

	r.Get(transport.ListProjects).HandlerFunc(handle.ListProjects)
	r.Get(transport.CreateProject).HandlerFunc(handle.CreateProject)
	r.Get(transport.GetProject).HandlerFunc(handle.GetProject)
	r.Get(transport.UpdateProject).HandlerFunc(handle.UpdateProject)
	r.Get(transport.DeleteProject).HandlerFunc(handle.DeleteProject)
	r.Get(transport.DeployProject).HandlerFunc(handle.DeployProject)
	r.Get(transport.Rollback).HandlerFunc(handle.Rollback)

	r.Get(transport.ListConfigs).HandlerFunc(handle.ListConfigs)
	r.Get(transport.AddConfig).HandlerFunc(handle.AddConfig)
	r.Get(transport.CurrentConfig).HandlerFunc(handle.CurrentConfig)
	r.Get(transport.UpdateCurrentConfig).HandlerFunc(handle.UpdateCurrentConfig)
	r.Get(transport.GetConfig).HandlerFunc(handle.GetConfig)
	r.Get(transport.DeleteConfig).HandlerFunc(handle.DeleteConfig)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server api.Server
}

// decode reads a JSON request body into dest; a body that doesn't
// decode is the client's fault.
func decode(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return dherr.UserError(errors.Wrap(err, "decoding request body"))
	}
	return nil
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

// writeOutcomes sends the outcomes of a batch; if any of them failed,
// the status says so.
func writeOutcomes(w http.ResponseWriter, r *http.Request, outcomes []v1.ResourceOutcome) {
	if outcomes == nil {
		outcomes = []v1.ResourceOutcome{}
	}
	code := http.StatusOK
	if v1.Failed(outcomes) {
		code = http.StatusUnprocessableEntity
	}
	transport.JSONResponseWithStatus(w, r, code, outcomes)
}

func (s HTTPServer) ApplyResources(w http.ResponseWriter, r *http.Request) {
	var req v1.ResourceRequest
	if err := decode(r, &req); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	outcomes, err := s.server.ApplyResources(r.Context(), req)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	writeOutcomes(w, r, outcomes)
}

// --- images

func peerResults(w http.ResponseWriter, r *http.Request, results []v1.PeerResult, err error) {
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	if results == nil {
		results = []v1.PeerResult{}
	}
	transport.JSONResponse(w, r, results)
}

func (s HTTPServer) BuildImage(w http.ResponseWriter, r *http.Request) {
	var req v1.BuildRequest
	if err := decode(r, &req); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	results, err := s.server.BuildImage(r.Context(), req)
	peerResults(w, r, results, err)
}

func (s HTTPServer) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		transport.ErrorResponse(w, r, dherr.UserError(errors.Wrap(err, "parsing multipart form")))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("imageFile")
	if err != nil {
		transport.ErrorResponse(w, r, dherr.UserError(errors.Wrap(err, "reading imageFile")))
		return
	}
	defer file.Close()

	results, err := s.server.UploadImage(r.Context(), v1.UploadRequest{
		FileName: header.Filename,
		ImageTag: r.FormValue("imageTag"),
		Size:     header.Size,
		Body:     file,
	})
	peerResults(w, r, results, err)
}

func (s HTTPServer) DeleteImage(w http.ResponseWriter, r *http.Request) {
	results, err := s.server.DeleteImage(r.Context(), r.URL.Query().Get("imageName"))
	peerResults(w, r, results, err)
}

func (s HTTPServer) InspectImage(w http.ResponseWriter, r *http.Request) {
	results, err := s.server.InspectImage(r.Context(), r.URL.Query().Get("imageName"))
	peerResults(w, r, results, err)
}

func (s HTTPServer) ListImages(w http.ResponseWriter, r *http.Request) {
	opts := v1.ListImagesOptions{TagPattern: r.URL.Query().Get("tag")}
	images, err := s.server.ListImages(r.Context(), opts)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, images)
}

// --- projects

func (s HTTPServer) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.server.ListProjects(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, projects)
}

func (s HTTPServer) CreateProject(w http.ResponseWriter, r *http.Request) {
	var p v1.NewProject
	if err := decode(r, &p); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	created, err := s.server.CreateProject(r.Context(), p)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponseWithStatus(w, r, http.StatusCreated, created)
}

func (s HTTPServer) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.server.GetProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, p)
}

func (s HTTPServer) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var p v1.NewProject
	if err := decode(r, &p); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	updated, err := s.server.UpdateProject(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, updated)
}

func (s HTTPServer) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.server.DeleteProject(r.Context(), mux.Vars(r)["id"]); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) DeployProject(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.server.DeployProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	writeOutcomes(w, r, outcomes)
}

func (s HTTPServer) Rollback(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Rollback(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("tag")); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- deployment configs

func (s HTTPServer) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.server.ListConfigs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, configs)
}

func (s HTTPServer) AddConfig(w http.ResponseWriter, r *http.Request) {
	var c v1.NewConfig
	if err := decode(r, &c); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	added, err := s.server.AddConfig(r.Context(), mux.Vars(r)["id"], c)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponseWithStatus(w, r, http.StatusCreated, added)
}

func (s HTTPServer) GetConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c, err := s.server.GetConfig(r.Context(), vars["id"], vars["tag"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, c)
}

func (s HTTPServer) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.server.DeleteConfig(r.Context(), vars["id"], vars["tag"]); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) CurrentConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.server.CurrentConfig(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, c)
}

func (s HTTPServer) UpdateCurrentConfig(w http.ResponseWriter, r *http.Request) {
	var c v1.NewConfig
	if err := decode(r, &c); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	updated, err := s.server.UpdateCurrentConfig(r.Context(), mux.Vars(r)["id"], c)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, updated)
}
