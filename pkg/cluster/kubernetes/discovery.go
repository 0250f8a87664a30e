package kubernetes

import (
	"context"
	"strings"

	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PeerEndpoint is a builder pod that can be called directly.
type PeerEndpoint struct {
	IP string
	// Name is the pod name, for logging.
	Name string
}

// HostLabel turns the pod IP into the DNS label used for per-pod
// addressing, e.g., 10.244.1.2 -> 10-244-1-2.
func (p PeerEndpoint) HostLabel() string {
	return strings.ReplaceAll(p.IP, ".", "-")
}

// ListPeers finds the pods matching selector in namespace that have
// been given an IP. Failing to list pods is logged and treated the
// same as finding none, so callers get an empty fleet rather than an
// error. The result is never cached, since the fleet scales
// between calls.
func (c *Cluster) ListPeers(ctx context.Context, selector, namespace string) []PeerEndpoint {
	peers := []PeerEndpoint{}
	pods, err := c.client.CoreV1().Pods(namespace).List(ctx, meta_v1.ListOptions{LabelSelector: selector})
	if err != nil {
		c.logger.Log("err", err, "op", "list peers", "namespace", namespace, "selector", selector)
		return peers
	}
	for _, pod := range pods.Items {
		if pod.Status.PodIP == "" {
			continue
		}
		peers = append(peers, PeerEndpoint{IP: pod.Status.PodIP, Name: pod.Name})
	}
	if len(peers) == 0 {
		c.logger.Log("warn", "no builder peers found", "namespace", namespace, "selector", selector)
	}
	return peers
}
