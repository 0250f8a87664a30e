package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/deployhub/deployhub/pkg/api"
	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	transport "github.com/deployhub/deployhub/pkg/http"
	"github.com/deployhub/deployhub/pkg/image"
	"github.com/deployhub/deployhub/pkg/project"
)

type Token string

func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t))
	}
}

type Client struct {
	client   *http.Client
	token    Token
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string, t Token) *Client {
	return &Client{
		client:   c,
		token:    t,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) ApplyResources(ctx context.Context, req v1.ResourceRequest) ([]v1.ResourceOutcome, error) {
	return c.outcomes(ctx, transport.ApplyResources, req)
}

func (c *Client) BuildImage(ctx context.Context, req v1.BuildRequest) ([]v1.PeerResult, error) {
	var res []v1.PeerResult
	err := c.methodWithResp(ctx, "POST", &res, transport.BuildImage, req)
	return res, err
}

// UploadImage streams the build context as a multipart form, so the
// archive is never held in memory.
func (c *Client) UploadImage(ctx context.Context, req v1.UploadRequest) ([]v1.PeerResult, error) {
	u, err := transport.MakeURL(c.endpoint, c.router, transport.UploadImage)
	if err != nil {
		return nil, errors.Wrap(err, "constructing URL")
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := form.WriteField("imageTag", req.ImageTag); err != nil {
				return err
			}
			part, err := form.CreateFormFile("imageFile", req.FileName)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, req.Body); err != nil {
				return err
			}
			return form.Close()
		}()
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", u.String(), pr)
	if err != nil {
		pr.Close()
		return nil, errors.Wrapf(err, "constructing request %s", u)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	c.token.Set(httpReq)

	var res []v1.PeerResult
	err = c.send(httpReq, &res)
	pr.Close()
	return res, err
}

func (c *Client) DeleteImage(ctx context.Context, imageName string) ([]v1.PeerResult, error) {
	var res []v1.PeerResult
	err := c.methodWithResp(ctx, "DELETE", &res, transport.DeleteImage, nil, "imageName", imageName)
	return res, err
}

func (c *Client) ListImages(ctx context.Context, opts v1.ListImagesOptions) ([]image.Merged, error) {
	var res []image.Merged
	var params []string
	if opts.TagPattern != "" {
		params = append(params, "tag", opts.TagPattern)
	}
	err := c.Get(ctx, &res, transport.ListImages, params...)
	return res, err
}

func (c *Client) InspectImage(ctx context.Context, imageName string) ([]v1.PeerResult, error) {
	var res []v1.PeerResult
	err := c.Get(ctx, &res, transport.InspectImage, "imageName", imageName)
	return res, err
}

func (c *Client) ListProjects(ctx context.Context) ([]project.Project, error) {
	var res []project.Project
	err := c.Get(ctx, &res, transport.ListProjects)
	return res, err
}

func (c *Client) GetProject(ctx context.Context, id string) (project.Project, error) {
	var res project.Project
	err := c.Get(ctx, &res, transport.GetProject, "id", id)
	return res, err
}

func (c *Client) CreateProject(ctx context.Context, p v1.NewProject) (project.Project, error) {
	var res project.Project
	err := c.methodWithResp(ctx, "POST", &res, transport.CreateProject, p)
	return res, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, p v1.NewProject) (project.Project, error) {
	var res project.Project
	err := c.methodWithResp(ctx, "PUT", &res, transport.UpdateProject, p, "id", id)
	return res, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.methodWithResp(ctx, "DELETE", nil, transport.DeleteProject, nil, "id", id)
}

func (c *Client) ListConfigs(ctx context.Context, projectID string) ([]project.Config, error) {
	var res []project.Config
	err := c.Get(ctx, &res, transport.ListConfigs, "id", projectID)
	return res, err
}

func (c *Client) AddConfig(ctx context.Context, projectID string, config v1.NewConfig) (project.Config, error) {
	var res project.Config
	err := c.methodWithResp(ctx, "POST", &res, transport.AddConfig, config, "id", projectID)
	return res, err
}

func (c *Client) GetConfig(ctx context.Context, projectID, tag string) (project.Config, error) {
	var res project.Config
	err := c.Get(ctx, &res, transport.GetConfig, "id", projectID, "tag", tag)
	return res, err
}

func (c *Client) DeleteConfig(ctx context.Context, projectID, tag string) error {
	return c.methodWithResp(ctx, "DELETE", nil, transport.DeleteConfig, nil, "id", projectID, "tag", tag)
}

func (c *Client) CurrentConfig(ctx context.Context, projectID string) (project.Config, error) {
	var res project.Config
	err := c.Get(ctx, &res, transport.CurrentConfig, "id", projectID)
	return res, err
}

func (c *Client) UpdateCurrentConfig(ctx context.Context, projectID string, config v1.NewConfig) (project.Config, error) {
	var res project.Config
	err := c.methodWithResp(ctx, "PUT", &res, transport.UpdateCurrentConfig, config, "id", projectID)
	return res, err
}

func (c *Client) Rollback(ctx context.Context, projectID, tag string) error {
	return c.Post(ctx, transport.Rollback, "id", projectID, "tag", tag)
}

func (c *Client) DeployProject(ctx context.Context, projectID string) ([]v1.ResourceOutcome, error) {
	return c.outcomes(ctx, transport.DeployProject, nil, "id", projectID)
}

// --- Request helpers

// outcomes posts a request answered with a batch of resource
// outcomes. A batch with failures in it comes back as a 422 with the
// outcomes still in the body; that's not an error here, and it's for
// the caller to look at the outcomes.
func (c *Client) outcomes(ctx context.Context, route string, body interface{}, queryParams ...string) ([]v1.ResourceOutcome, error) {
	req, err := c.newRequest(ctx, "POST", route, body, queryParams...)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response from server")
	}
	var res []v1.ResourceOutcome
	if resp.StatusCode == http.StatusOK ||
		(resp.StatusCode == http.StatusUnprocessableEntity && bytes.HasPrefix(bytes.TrimSpace(respBytes), []byte("["))) {
		if err := json.Unmarshal(respBytes, &res); err != nil {
			return nil, errors.Wrap(err, "decoding response from server")
		}
		return res, nil
	}
	return nil, responseError(resp, respBytes)
}

// Post is a simple query-param only post request
func (c *Client) Post(ctx context.Context, route string, queryParams ...string) error {
	return c.PostWithBody(ctx, route, nil, queryParams...)
}

// PostWithBody is a more complex post request, which includes a json-ified body.
// If body is not nil, it is encoded to json before sending
func (c *Client) PostWithBody(ctx context.Context, route string, body interface{}, queryParams ...string) error {
	return c.methodWithResp(ctx, "POST", nil, route, body, queryParams...)
}

// methodWithResp is the full enchilada, it handles body and query-param
// encoding, as well as decoding the response into the provided destination.
// Note, the response will only be decoded into the dest if the len is > 0.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, queryParams ...string) error {
	req, err := c.newRequest(ctx, method, route, body, queryParams...)
	if err != nil {
		return err
	}
	return c.send(req, dest)
}

// Get executes a get request against the daemon. it unmarshals the response into dest, if not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, queryParams ...string) error {
	return c.methodWithResp(ctx, "GET", dest, route, nil, queryParams...)
}

func (c *Client) newRequest(ctx context.Context, method, route string, body interface{}, queryParams ...string) (*http.Request, error) {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return nil, errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "constructing request %s", u)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.token.Set(req)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request, dest interface{}) error {
	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	if dest == nil || len(respBytes) <= 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	default:
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "reading response body of error")
		}
		return nil, responseError(resp, body)
	}
}

// responseError makes an error from an unsuccessful response. The
// content type discriminates between a `dherr.Error` and any old
// error, e.g., from a proxy in the way.
func responseError(resp *http.Response, body []byte) error {
	if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
		var niceError dherr.Error
		if err := json.Unmarshal(body, &niceError); err != nil {
			return errors.Wrap(err, "decoding response body of error")
		}
		// just in case it's JSON but not one of our own errors
		if niceError.Err != nil {
			return &niceError
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return transport.ErrorUnauthorized
	}
	return errors.New(resp.Status + " " + string(body))
}
