package kubernetes

import (
	"context"
	"encoding/json"

	apiapps "k8s.io/api/apps/v1"
	apibatch "k8s.io/api/batch/v1"
	apiv1 "k8s.io/api/core/v1"
	apinetworking "k8s.io/api/networking/v1"
	apirbac "k8s.io/api/rbac/v1"
	apischeduling "k8s.io/api/scheduling/v1"
	apistorage "k8s.io/api/storage/v1"
	apiext "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	apiregistration "k8s.io/kube-aggregator/pkg/apis/apiregistration/v1"
)

/////////////////////////////////////////////////////////////////////////////
// Kind registry

// clusterScoped lists the kinds that live outside any namespace;
// every other kind is namespaced.
var clusterScoped = map[string]bool{
	"PersistentVolume":         true,
	"ClusterRole":              true,
	"ClusterRoleBinding":       true,
	"Namespace":                true,
	"Node":                     true,
	"StorageClass":             true,
	"IngressClass":             true,
	"CustomResourceDefinition": true,
	"APIService":               true,
	"PriorityClass":            true,
}

// PatchStatus is the outcome of a patch call. A patch of something
// that isn't there is not an error as far as the reconciler is
// concerned; it's the cue to create it.
type PatchStatus int

const (
	PatchUpdated PatchStatus = iota
	PatchNotFound
	PatchError
)

type PatchResult struct {
	Status PatchStatus
	Err    error
}

// KindDescriptor says how to patch, create and delete one kind of
// resource. Bodies are JSON.
type KindDescriptor struct {
	Kind       string
	Namespaced bool

	patch  func(ctx context.Context, c ExtendedClient, namespace, name string, body []byte) PatchResult
	create func(ctx context.Context, c ExtendedClient, namespace string, body []byte) error
	delete func(ctx context.Context, c ExtendedClient, namespace, name string) error
}

// typedClient is the part of a client-go typed resource client the
// registry uses.
type typedClient[T runtime.Object] interface {
	Create(ctx context.Context, obj T, opts meta_v1.CreateOptions) (T, error)
	Patch(ctx context.Context, name string, pt types.PatchType, data []byte, opts meta_v1.PatchOptions, subresources ...string) (T, error)
	Delete(ctx context.Context, name string, opts meta_v1.DeleteOptions) error
}

// describe builds the descriptor for a kind from the function giving
// its typed client. For cluster-scoped kinds the namespace passed to
// that function is always empty.
func describe[T any, PT interface {
	*T
	runtime.Object
}](kind string, client func(c ExtendedClient, namespace string) typedClient[PT]) KindDescriptor {
	namespaced := !clusterScoped[kind]
	scope := func(namespace string) string {
		if namespaced {
			return namespace
		}
		return ""
	}
	return KindDescriptor{
		Kind:       kind,
		Namespaced: namespaced,
		patch: func(ctx context.Context, c ExtendedClient, namespace, name string, body []byte) PatchResult {
			_, err := client(c, scope(namespace)).Patch(ctx, name, types.MergePatchType, body, meta_v1.PatchOptions{})
			switch {
			case err == nil:
				return PatchResult{Status: PatchUpdated}
			case apierrors.IsNotFound(err):
				return PatchResult{Status: PatchNotFound, Err: err}
			default:
				return PatchResult{Status: PatchError, Err: err}
			}
		},
		create: func(ctx context.Context, c ExtendedClient, namespace string, body []byte) error {
			obj := PT(new(T))
			if err := json.Unmarshal(body, obj); err != nil {
				return err
			}
			_, err := client(c, scope(namespace)).Create(ctx, obj, meta_v1.CreateOptions{})
			return err
		},
		delete: func(ctx context.Context, c ExtendedClient, namespace, name string) error {
			return client(c, scope(namespace)).Delete(ctx, name, meta_v1.DeleteOptions{})
		},
	}
}

var resourceKinds = map[string]KindDescriptor{}

func register(d KindDescriptor) {
	resourceKinds[d.Kind] = d
}

func init() {
	// core
	register(describe("Namespace", func(c ExtendedClient, _ string) typedClient[*apiv1.Namespace] {
		return c.CoreV1().Namespaces()
	}))
	register(describe("Node", func(c ExtendedClient, _ string) typedClient[*apiv1.Node] {
		return c.CoreV1().Nodes()
	}))
	register(describe("PersistentVolume", func(c ExtendedClient, _ string) typedClient[*apiv1.PersistentVolume] {
		return c.CoreV1().PersistentVolumes()
	}))
	register(describe("Pod", func(c ExtendedClient, ns string) typedClient[*apiv1.Pod] {
		return c.CoreV1().Pods(ns)
	}))
	register(describe("Service", func(c ExtendedClient, ns string) typedClient[*apiv1.Service] {
		return c.CoreV1().Services(ns)
	}))
	register(describe("ServiceAccount", func(c ExtendedClient, ns string) typedClient[*apiv1.ServiceAccount] {
		return c.CoreV1().ServiceAccounts(ns)
	}))
	register(describe("ConfigMap", func(c ExtendedClient, ns string) typedClient[*apiv1.ConfigMap] {
		return c.CoreV1().ConfigMaps(ns)
	}))
	register(describe("Secret", func(c ExtendedClient, ns string) typedClient[*apiv1.Secret] {
		return c.CoreV1().Secrets(ns)
	}))
	register(describe("PersistentVolumeClaim", func(c ExtendedClient, ns string) typedClient[*apiv1.PersistentVolumeClaim] {
		return c.CoreV1().PersistentVolumeClaims(ns)
	}))

	// workloads
	register(describe("Deployment", func(c ExtendedClient, ns string) typedClient[*apiapps.Deployment] {
		return c.AppsV1().Deployments(ns)
	}))
	register(describe("DaemonSet", func(c ExtendedClient, ns string) typedClient[*apiapps.DaemonSet] {
		return c.AppsV1().DaemonSets(ns)
	}))
	register(describe("StatefulSet", func(c ExtendedClient, ns string) typedClient[*apiapps.StatefulSet] {
		return c.AppsV1().StatefulSets(ns)
	}))
	register(describe("Job", func(c ExtendedClient, ns string) typedClient[*apibatch.Job] {
		return c.BatchV1().Jobs(ns)
	}))
	register(describe("CronJob", func(c ExtendedClient, ns string) typedClient[*apibatch.CronJob] {
		return c.BatchV1().CronJobs(ns)
	}))

	// networking
	register(describe("Ingress", func(c ExtendedClient, ns string) typedClient[*apinetworking.Ingress] {
		return c.NetworkingV1().Ingresses(ns)
	}))
	register(describe("IngressClass", func(c ExtendedClient, _ string) typedClient[*apinetworking.IngressClass] {
		return c.NetworkingV1().IngressClasses()
	}))

	// rbac
	register(describe("Role", func(c ExtendedClient, ns string) typedClient[*apirbac.Role] {
		return c.RbacV1().Roles(ns)
	}))
	register(describe("RoleBinding", func(c ExtendedClient, ns string) typedClient[*apirbac.RoleBinding] {
		return c.RbacV1().RoleBindings(ns)
	}))
	register(describe("ClusterRole", func(c ExtendedClient, _ string) typedClient[*apirbac.ClusterRole] {
		return c.RbacV1().ClusterRoles()
	}))
	register(describe("ClusterRoleBinding", func(c ExtendedClient, _ string) typedClient[*apirbac.ClusterRoleBinding] {
		return c.RbacV1().ClusterRoleBindings()
	}))

	// storage and scheduling
	register(describe("StorageClass", func(c ExtendedClient, _ string) typedClient[*apistorage.StorageClass] {
		return c.StorageV1().StorageClasses()
	}))
	register(describe("PriorityClass", func(c ExtendedClient, _ string) typedClient[*apischeduling.PriorityClass] {
		return c.SchedulingV1().PriorityClasses()
	}))

	// API extensions
	register(describe("CustomResourceDefinition", func(c ExtendedClient, _ string) typedClient[*apiext.CustomResourceDefinition] {
		return c.ApiextensionsV1().CustomResourceDefinitions()
	}))
	register(describe("APIService", func(c ExtendedClient, _ string) typedClient[*apiregistration.APIService] {
		return c.ApiregistrationV1().APIServices()
	}))
}

// SupportedKinds gives the kinds with a registered descriptor.
func SupportedKinds() []string {
	var kinds []string
	for k := range resourceKinds {
		kinds = append(kinds, k)
	}
	return kinds
}
