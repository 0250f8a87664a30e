// Package builder serves the builder agent's API, which the daemon
// calls on every node.
package builder

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

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "deployhub",
		Subsystem: "builder",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{dhmetrics.LabelMethod, dhmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

func NewRouter() *mux.Router {
	r := transport.NewBuilderRouter()
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})
	return r
}

func NewHandler(b api.Builder, r *mux.Router) http.Handler {
	handle := HTTPServer{b}

	r.Get(transport.BuilderBuild).HandlerFunc(handle.Build)
	r.Get(transport.BuilderDelete).HandlerFunc(handle.Delete)
	r.Get(transport.BuilderList).HandlerFunc(handle.List)
	r.Get(transport.BuilderInspect).HandlerFunc(handle.Inspect)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	builder api.Builder
}

// respond writes the builder's response, with a status according to
// the error if there is one. The body is sent either way, since it
// says which node answered.
func respond(w http.ResponseWriter, r *http.Request, result interface{}, err error) {
	code := http.StatusOK
	if err != nil {
		code = transport.StatusCode(err)
	}
	transport.JSONResponseWithStatus(w, r, code, result)
}

func (s HTTPServer) Build(w http.ResponseWriter, r *http.Request) {
	var req v1.BuilderBuildRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.ErrorResponse(w, r, dherr.UserError(errors.Wrap(err, "decoding build request")))
		return
	}
	resp, err := s.builder.Build(r.Context(), req)
	respond(w, r, resp, err)
}

func (s HTTPServer) Delete(w http.ResponseWriter, r *http.Request) {
	resp, err := s.builder.Delete(r.Context(), r.URL.Query().Get("imageName"))
	respond(w, r, resp, err)
}

func (s HTTPServer) List(w http.ResponseWriter, r *http.Request) {
	resp, err := s.builder.List(r.Context())
	respond(w, r, resp, err)
}

func (s HTTPServer) Inspect(w http.ResponseWriter, r *http.Request) {
	resp, err := s.builder.Inspect(r.Context(), r.URL.Query().Get("imageName"))
	respond(w, r, resp, err)
}
