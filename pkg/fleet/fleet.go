package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	"github.com/deployhub/deployhub/pkg/cluster/kubernetes"
	transport "github.com/deployhub/deployhub/pkg/http"
	"github.com/deployhub/deployhub/pkg/image"
	dhmetrics "github.com/deployhub/deployhub/pkg/metrics"
)

const (
	DefaultNamespace = "automated-deployment"
	DefaultSelector  = "app=imagebuilderapi"
	DefaultService   = "imagebuilderapi"
	DefaultPort      = 5000
	DefaultTimeout   = 30 * time.Second

	// peer response bodies bigger than this are cut off
	maxBodyBytes = 10 << 20
)

// Discoverer finds the builder peers at the time of the call.
type Discoverer interface {
	ListPeers(ctx context.Context, selector, namespace string) []kubernetes.PeerEndpoint
}

type Config struct {
	Namespace string
	Selector  string
	Service   string
	Port      int
	// Timeout bounds each peer call separately.
	Timeout time.Duration
	// RPS and Burst limit requests to any one peer.
	RPS   float64
	Burst int
}

// Coordinator sends an operation to every builder peer at once and
// collects what each one said.
type Coordinator struct {
	discovery Discoverer
	config    Config
	router    *mux.Router
	limiters  *hostLimiters
	transport http.RoundTripper
	logger    log.Logger

	// endpoint gives the base URL for calling a peer
	endpoint func(p kubernetes.PeerEndpoint) string
}

func NewCoordinator(discovery Discoverer, config Config, logger log.Logger) *Coordinator {
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.Selector == "" {
		config.Selector = DefaultSelector
	}
	if config.Service == "" {
		config.Service = DefaultService
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RPS <= 0 {
		config.RPS = 20
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	c := &Coordinator{
		discovery: discovery,
		config:    config,
		router:    transport.NewBuilderRouter(),
		limiters:  newHostLimiters(config.RPS, config.Burst, logger),
		transport: http.DefaultTransport,
		logger:    logger,
	}
	c.endpoint = func(p kubernetes.PeerEndpoint) string {
		return fmt.Sprintf("http://%s:%d", c.host(p), c.config.Port)
	}
	return c
}

// host is the per-pod DNS name of a peer.
func (c *Coordinator) host(p kubernetes.PeerEndpoint) string {
	return fmt.Sprintf("%s.%s.%s.svc.cluster.local", p.HostLabel(), c.config.Service, c.config.Namespace)
}

// Request is one operation to send to every peer. Params are key,
// value pairs for the builder route's query. Body, if not nil, is
// sent as JSON.
type Request struct {
	Method string
	Route  string
	Params []string
	Body   interface{}
}

// Peers runs discovery.
func (c *Coordinator) Peers(ctx context.Context) []kubernetes.PeerEndpoint {
	peers := c.discovery.ListPeers(ctx, c.config.Selector, c.config.Namespace)
	peersDiscovered.With(dhmetrics.LabelNamespace, c.config.Namespace).Set(float64(len(peers)))
	return peers
}

// Broadcast sends req to all peers concurrently, and waits for all of
// them. There is one result per peer, in the order of peers; a peer
// that fails, or doesn't answer in time, is reported in its result
// and doesn't affect the others.
func (c *Coordinator) Broadcast(ctx context.Context, peers []kubernetes.PeerEndpoint, req Request) []v1.PeerResult {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			// the same for every peer
			results := make([]v1.PeerResult, len(peers))
			for i, p := range peers {
				results[i] = v1.PeerResult{IP: p.IP, Host: c.host(p), Error: errors.Wrap(err, "encoding request").Error()}
			}
			return results
		}
	}

	results := make([]v1.PeerResult, len(peers))
	var g errgroup.Group
	for i, p := range peers {
		g.Go(func() error {
			results[i] = c.call(ctx, p, req, body)
			return nil
		})
	}
	g.Wait()
	return results
}

func (c *Coordinator) call(ctx context.Context, p kubernetes.PeerEndpoint, req Request, body []byte) (result v1.PeerResult) {
	host := c.host(p)
	result = v1.PeerResult{IP: p.IP, Host: host}
	logger := log.With(c.logger, "peer", p.IP, "route", req.Route)

	defer func(start time.Time) {
		peerRequestDuration.With(
			dhmetrics.LabelRoute, req.Route,
			dhmetrics.LabelSuccess, strconv.FormatBool(result.Success),
		).Observe(time.Since(start).Seconds())
		if !result.Success {
			logger.Log("warn", "peer call unsuccessful", "status", result.StatusCode, "err", result.Error)
		}
	}(time.Now())

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	u, err := transport.MakeURL(c.endpoint(p), c.router, req.Route, req.Params...)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	method := req.Method
	if method == "" {
		method = c.routeMethod(req.Route)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		result.Error = errors.Wrap(err, "constructing request").Error()
		return result
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Transport: c.limiters.roundTripper(c.transport, host)}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.Errorf("no response within %s", c.config.Timeout)
		}
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusTooManyRequests {
		c.limiters.recover(host)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result.Error = errors.Wrap(err, "reading response").Error()
		return result
	}

	parsed, err := gabs.ParseJSON(respBody)
	if err != nil {
		result.Error = fmt.Sprintf("response is not JSON: %q", truncate(respBody, 200))
		return result
	}
	result.Body = json.RawMessage(respBody)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if flag, isBool := parsed.Path("success").Data().(bool); isBool && !flag {
		ok = false
	}
	result.Success = ok
	if !ok {
		if msg, isString := parsed.Path("message").Data().(string); isString {
			result.Error = msg
		} else {
			result.Error = http.StatusText(resp.StatusCode)
		}
	}
	return result
}

func (c *Coordinator) routeMethod(name string) string {
	if route := c.router.Get(name); route != nil {
		if methods, err := route.GetMethods(); err == nil && len(methods) > 0 {
			return methods[0]
		}
	}
	return http.MethodGet
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ---

func (c *Coordinator) Build(ctx context.Context, imageTag, fileName string) []v1.PeerResult {
	return c.Broadcast(ctx, c.Peers(ctx), Request{
		Route: transport.BuilderBuild,
		Body:  v1.BuilderBuildRequest{ImageTag: imageTag, FileName: fileName},
	})
}

func (c *Coordinator) Delete(ctx context.Context, imageName string) []v1.PeerResult {
	return c.Broadcast(ctx, c.Peers(ctx), Request{
		Route:  transport.BuilderDelete,
		Params: []string{"imageName", imageName},
	})
}

func (c *Coordinator) Inspect(ctx context.Context, imageName string) []v1.PeerResult {
	return c.Broadcast(ctx, c.Peers(ctx), Request{
		Route:  transport.BuilderInspect,
		Params: []string{"imageName", imageName},
	})
}

// List asks every peer for its images, and merges what the successful
// ones said. Each peer's images are attributed to the node IP it
// reports, or failing that the pod IP.
func (c *Coordinator) List(ctx context.Context) []image.Merged {
	results := c.Broadcast(ctx, c.Peers(ctx), Request{Route: transport.BuilderList})
	return image.Merge(c.reports(results))
}

func (c *Coordinator) reports(results []v1.PeerResult) []image.NodeReport {
	var reports []image.NodeReport
	for _, r := range results {
		if !r.Success {
			continue
		}
		var resp v1.ListImagesResponse
		if err := json.Unmarshal(r.Body, &resp); err != nil {
			c.logger.Log("warn", "ignoring unreadable image list", "peer", r.IP, "err", err)
			continue
		}
		nodeIP := resp.NodeIP
		if nodeIP == "" {
			nodeIP = r.IP
		}
		reports = append(reports, image.NodeReport{NodeIP: nodeIP, Images: resp.Images})
	}
	return reports
}
