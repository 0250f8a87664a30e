package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/version")

	r.NewRoute().Name(ApplyResources).Methods("POST").Path("/resources")

	r.NewRoute().Name(BuildImage).Methods("POST").Path("/images/build")
	r.NewRoute().Name(UploadImage).Methods("POST").Path("/images/upload")
	r.NewRoute().Name(InspectImage).Methods("GET").Path("/images/inspect")
	r.NewRoute().Name(DeleteImage).Methods("DELETE").Path("/images")
	r.NewRoute().Name(ListImages).Methods("GET").Path("/images")

	r.NewRoute().Name(ListProjects).Methods("GET").Path("/projects")
	r.NewRoute().Name(CreateProject).Methods("POST").Path("/projects")
	r.NewRoute().Name(GetProject).Methods("GET").Path("/projects/{id}")
	r.NewRoute().Name(UpdateProject).Methods("PUT").Path("/projects/{id}")
	r.NewRoute().Name(DeleteProject).Methods("DELETE").Path("/projects/{id}")
	r.NewRoute().Name(DeployProject).Methods("POST").Path("/projects/{id}/deploy")
	r.NewRoute().Name(Rollback).Methods("POST").Path("/projects/{id}/rollback")

	r.NewRoute().Name(ListConfigs).Methods("GET").Path("/projects/{id}/configs")
	r.NewRoute().Name(AddConfig).Methods("POST").Path("/projects/{id}/configs")
	// "current" is matched before the {tag} routes, so it can't be
	// used as a tag.
	r.NewRoute().Name(CurrentConfig).Methods("GET").Path("/projects/{id}/configs/current")
	r.NewRoute().Name(UpdateCurrentConfig).Methods("PUT").Path("/projects/{id}/configs/current")
	r.NewRoute().Name(GetConfig).Methods("GET").Path("/projects/{id}/configs/{tag}")
	r.NewRoute().Name(DeleteConfig).Methods("DELETE").Path("/projects/{id}/configs/{tag}")

	return r
}

func NewBuilderRouter() *mux.Router {
	r := mux.NewRouter()
	r.NewRoute().Name(BuilderBuild).Methods("POST").Path("/api/image/build")
	r.NewRoute().Name(BuilderDelete).Methods("DELETE").Path("/api/image/delete")
	r.NewRoute().Name(BuilderList).Methods("GET").Path("/api/image/list")
	r.NewRoute().Name(BuilderInspect).Methods("GET").Path("/api/image/inspect")
	return r
}

// MakeURL resolves a named route against endpoint. The urlParams are
// key, value pairs; those naming a variable in the route's path fill
// in the path, and the rest become query parameters.
func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	varNames, err := route.GetVarNames()
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route variables %s", routeName)
	}
	isVar := map[string]bool{}
	for _, name := range varNames {
		isVar[name] = true
	}

	var pathPairs []string
	v := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		if isVar[urlParams[i]] {
			pathPairs = append(pathPairs, urlParams[i], urlParams[i+1])
			continue
		}
		v.Add(urlParams[i], urlParams[i+1])
	}

	routeURL, err := route.URLPath(pathPairs...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// Clients that can decode JSON errors say so in the Accept
	// header; anyone else (curl, mostly) gets the error text.
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, []string{"application/json", "text/plain"}) {
		case "application/json":
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		case "text/plain":
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(code)
			if apiErr, ok := err.(*dherr.Error); ok && apiErr.Help != "" {
				fmt.Fprint(w, apiErr.Help)
				return
			}
			fmt.Fprint(w, err.Error())
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	JSONResponseWithStatus(w, r, http.StatusOK, result)
}

// JSONResponseWithStatus is JSONResponse for results that go out with
// a status other than 200, e.g., a batch with failures in it.
func JSONResponseWithStatus(w http.ResponseWriter, r *http.Request, code int, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

// StatusCode gives the HTTP status for an error, according to its
// type. Errors without a type are server errors.
func StatusCode(err error) int {
	var apiErr *dherr.Error
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Type {
	case dherr.Missing:
		return http.StatusNotFound
	case dherr.User:
		return http.StatusUnprocessableEntity
	case dherr.Unauthorized:
		return http.StatusUnauthorized
	case dherr.Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *dherr.Error
	if !errors.As(apiError, &outErr) {
		outErr = dherr.CoverAllError(apiError)
	}
	WriteError(w, r, StatusCode(outErr), outErr)
}
