package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Applier fetches manifest templates, renders them and applies the result to
// the cluster. Applying the same manifest twice converges to the same state;
// the apply step itself is never retried here.
type Applier struct {
	client.Client
	httpClient *http.Client
}

func NewApplier(c client.Client) *Applier {
	return &Applier{
		Client:     c,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// Apply renders a manifest and applies every document in it to the target
// namespace.
func (a *Applier) Apply(ctx context.Context, body, namespace string, vars map[string]string) error {
	logger := log.FromContext(ctx)

	if vars != nil {
		body = Render(ctx, body, vars)
	}

	decoder := yaml.NewYAMLOrJSONDecoder(strings.NewReader(body), 4096)
	for {
		obj := &unstructured.Unstructured{}
		if err := decoder.Decode(obj); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to decode manifest document: %w", err)
		}
		if obj.Object == nil || obj.GetKind() == "" {
			continue
		}
		if namespaced(obj.GetKind()) {
			obj.SetNamespace(namespace)
		}
		if err := a.upsert(ctx, obj); err != nil {
			return err
		}
		logger.V(1).Info("applied document", "kind", obj.GetKind(), "name", obj.GetName())
	}
	return nil
}

// ApplyURL fetches a manifest template from url and applies it.
func (a *Applier) ApplyURL(ctx context.Context, url, namespace string, vars map[string]string) error {
	body, err := a.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return a.Apply(ctx, body, namespace, vars)
}

// ApplyObject applies a single already-built object with the same
// create-or-update semantics as Apply.
func (a *Applier) ApplyObject(ctx context.Context, obj *unstructured.Unstructured) error {
	return a.upsert(ctx, obj)
}

func (a *Applier) upsert(ctx context.Context, obj *unstructured.Unstructured) error {
	fetched := &unstructured.Unstructured{}
	fetched.SetGroupVersionKind(obj.GroupVersionKind())
	err := a.Get(ctx, types.NamespacedName{Name: obj.GetName(), Namespace: obj.GetNamespace()}, fetched)
	if err != nil && errors.IsNotFound(err) {
		if err := a.Create(ctx, obj); err != nil {
			return fmt.Errorf("failed to create %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	obj.SetResourceVersion(fetched.GetResourceVersion())
	if err := a.Update(ctx, obj); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return nil
}

// namespaced filters out the cluster-scoped kinds the manifest templates
// carry; everything else is applied into the instance namespace.
func namespaced(kind string) bool {
	switch kind {
	case "Namespace", "ClusterRole", "ClusterRoleBinding", "CustomResourceDefinition":
		return false
	}
	return true
}
