package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	"github.com/deployhub/deployhub/pkg/manifests"
	dhmetrics "github.com/deployhub/deployhub/pkg/metrics"
)

const (
	actionApply  = "apply"
	actionDelete = "delete"
)

// Reconcile applies or deletes each operation in turn, in order. It
// stops at the first operation whose kind isn't supported; the
// operations before it stay applied, and the last outcome in the
// result is the failure.
func (c *Cluster) Reconcile(ctx context.Context, operation v1.ResourceOperation, ops []manifests.Operation) []v1.ResourceOutcome {
	outcomes := make([]v1.ResourceOutcome, 0, len(ops))
	for _, op := range ops {
		var outcome v1.ResourceOutcome
		switch operation {
		case v1.Delete:
			outcome = c.Delete(ctx, op.Kind, op.Name, op.Namespace)
		default:
			outcome = c.Apply(ctx, op)
		}
		outcomes = append(outcomes, outcome)
		if _, ok := c.kinds[op.Kind]; !ok {
			c.logger.Log("warn", "stopping at unsupported kind", "kind", op.Kind, "applied", len(outcomes)-1, "skipped", len(ops)-len(outcomes))
			break
		}
	}
	return outcomes
}

// Apply creates or updates the resource in op. It never returns an
// error: failures are reported as a Failed outcome.
func (c *Cluster) Apply(ctx context.Context, op manifests.Operation) (outcome v1.ResourceOutcome) {
	defer func(start time.Time) {
		reconcileDuration.With(
			dhmetrics.LabelKind, op.Kind,
			dhmetrics.LabelAction, actionApply,
			dhmetrics.LabelSuccess, strconv.FormatBool(outcome.Result != v1.ResultFailed),
		).Observe(time.Since(start).Seconds())
	}(time.Now())

	logger := c.logger
	kind, ok := c.kinds[op.Kind]
	if !ok {
		return failed(op.Kind, op.Name, op.Namespace, UnsupportedKindError(op.Kind))
	}

	namespace := op.Namespace
	if !kind.Namespaced {
		namespace = ""
	}

	body, err := yaml.YAMLToJSON(op.Body)
	if err != nil {
		return failed(op.Kind, op.Name, namespace, errors.Wrap(err, "converting manifest to JSON"))
	}

	if kind.Namespaced && namespace != "" {
		if err := c.ensureNamespace(ctx, namespace); err != nil {
			return failed(op.Kind, op.Name, namespace, err)
		}
		if body, err = stampNamespace(body, namespace); err != nil {
			return failed(op.Kind, op.Name, namespace, err)
		}
	}

	patched := kind.patch(ctx, c.client, namespace, op.Name, body)
	switch patched.Status {
	case PatchUpdated:
		return succeeded(op.Kind, op.Name, namespace, v1.ResultUpdated, op.Kind+" updated successfully.")
	case PatchNotFound:
		if err := kind.create(ctx, c.client, namespace, body); err != nil {
			logger.Log("err", err, "op", "create", "kind", op.Kind, "name", op.Name)
			return failed(op.Kind, op.Name, namespace, err)
		}
		return succeeded(op.Kind, op.Name, namespace, v1.ResultCreated, op.Kind+" created successfully.")
	default:
		logger.Log("err", patched.Err, "op", "patch", "kind", op.Kind, "name", op.Name)
		return failed(op.Kind, op.Name, namespace, patched.Err)
	}
}

// Delete removes the named resource. Deleting something that isn't
// there is reported as NotFoundOnDelete, which is not a failure.
func (c *Cluster) Delete(ctx context.Context, kindName, name, namespace string) (outcome v1.ResourceOutcome) {
	defer func(start time.Time) {
		reconcileDuration.With(
			dhmetrics.LabelKind, kindName,
			dhmetrics.LabelAction, actionDelete,
			dhmetrics.LabelSuccess, strconv.FormatBool(outcome.Result != v1.ResultFailed),
		).Observe(time.Since(start).Seconds())
	}(time.Now())

	kind, ok := c.kinds[kindName]
	if !ok {
		return failed(kindName, name, namespace, UnsupportedKindError(kindName))
	}
	if !kind.Namespaced {
		namespace = ""
	}
	err := kind.delete(ctx, c.client, namespace, name)
	switch {
	case err == nil:
		return succeeded(kindName, name, namespace, v1.ResultDeleted, kindName+" deleted successfully.")
	case apierrors.IsNotFound(err):
		return succeeded(kindName, name, namespace, v1.ResultNotFoundOnDelete, kindName+" not found (no deletion performed).")
	default:
		c.logger.Log("err", err, "op", "delete", "kind", kindName, "name", name)
		return failed(kindName, name, namespace, err)
	}
}

// stampNamespace makes the body's namespace agree with the namespace
// the resource is being applied in.
func stampNamespace(body []byte, namespace string) ([]byte, error) {
	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{"namespace": namespace},
	})
	if err != nil {
		return nil, err
	}
	stamped, err := jsonpatch.MergePatch(body, patch)
	return stamped, errors.Wrap(err, "setting namespace in manifest")
}

func succeeded(kind, name, namespace string, result v1.ResourceResult, message string) v1.ResourceOutcome {
	return v1.ResourceOutcome{
		Kind:      kind,
		Name:      name,
		Namespace: namespace,
		Result:    result,
		Message:   message,
	}
}

func failed(kind, name, namespace string, err error) v1.ResourceOutcome {
	return v1.ResourceOutcome{
		Kind:      kind,
		Name:      name,
		Namespace: namespace,
		Result:    v1.ResultFailed,
		Message:   fmt.Sprintf("Failed to operate on %s: %s", kind, err.Error()),
	}
}

// ApplyAll creates or updates every resource in ops, in order.
func (c *Cluster) ApplyAll(ctx context.Context, ops []manifests.Operation) []v1.ResourceOutcome {
	return c.Reconcile(ctx, v1.CreateOrUpdate, ops)
}

// DeleteAll deletes every resource in ops, in order.
func (c *Cluster) DeleteAll(ctx context.Context, ops []manifests.Operation) []v1.ResourceOutcome {
	return c.Reconcile(ctx, v1.Delete, ops)
}
