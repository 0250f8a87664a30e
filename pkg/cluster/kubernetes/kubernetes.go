package kubernetes

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	apiextclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	aggregatorclient "k8s.io/kube-aggregator/pkg/client/clientset_generated/clientset"
)

type coreClient k8sclient.Interface
type extensionsClient apiextclient.Interface
type aggregatorClient aggregatorclient.Interface

// ExtendedClient bundles the typed clientsets needed to reach every
// supported resource kind.
type ExtendedClient struct {
	coreClient
	extensionsClient
	aggregatorClient
}

func MakeClusterClientset(core coreClient, ext extensionsClient, agg aggregatorClient) ExtendedClient {
	return ExtendedClient{
		coreClient:       core,
		extensionsClient: ext,
		aggregatorClient: agg,
	}
}

// NewClientsetForConfig builds all the clientsets from one REST
// config.
func NewClientsetForConfig(restConfig *rest.Config) (ExtendedClient, error) {
	core, err := k8sclient.NewForConfig(restConfig)
	if err != nil {
		return ExtendedClient{}, errors.Wrap(err, "creating core clientset")
	}
	ext, err := apiextclient.NewForConfig(restConfig)
	if err != nil {
		return ExtendedClient{}, errors.Wrap(err, "creating apiextensions clientset")
	}
	agg, err := aggregatorclient.NewForConfig(restConfig)
	if err != nil {
		return ExtendedClient{}, errors.Wrap(err, "creating aggregator clientset")
	}
	return MakeClusterClientset(core, ext, agg), nil
}

// Cluster is a handle to a Kubernetes API server.
// (Typically, this code is deployed into the same cluster.)
type Cluster struct {
	client ExtendedClient
	kinds  map[string]KindDescriptor
	logger log.Logger

	// labels put on namespaces created on demand
	namespaceLabels map[string]string
}

// NewCluster returns a usable cluster.
func NewCluster(client ExtendedClient, logger log.Logger) *Cluster {
	return &Cluster{
		client: client,
		kinds:  resourceKinds,
		logger: logger,
		namespaceLabels: map[string]string{
			"auto-created": "true",
			"created-by":   "deployhub",
		},
	}
}

// Ping checks that the API server is reachable.
func (c *Cluster) Ping(ctx context.Context) error {
	_, err := c.client.coreClient.Discovery().ServerVersion()
	return err
}
