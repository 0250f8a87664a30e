package kubernetes

import (
	"context"

	"github.com/pkg/errors"
	apiv1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ensureNamespace creates the namespace if it doesn't exist. A
// namespace that already exists (created by us, by someone else, or
// concurrently) is fine, and is left as it is.
func (c *Cluster) ensureNamespace(ctx context.Context, name string) error {
	ns := &apiv1.Namespace{
		ObjectMeta: meta_v1.ObjectMeta{
			Name:   name,
			Labels: c.namespaceLabels,
		},
	}
	_, err := c.client.CoreV1().Namespaces().Create(ctx, ns, meta_v1.CreateOptions{})
	switch {
	case err == nil:
		c.logger.Log("info", "created namespace", "namespace", name)
		return nil
	case apierrors.IsAlreadyExists(err) || apierrors.IsConflict(err):
		return nil
	default:
		return errors.Wrapf(err, "creating namespace %q", name)
	}
}
