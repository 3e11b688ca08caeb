package kube

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Client wraps a controller-runtime client with the handful of cluster
// operations the orchestrator needs.
type Client struct {
	client.Client
}

func New() (*Client, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, err
	}
	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to build cluster client: %w", err)
	}
	return &Client{Client: c}, nil
}

// NewWithClient is used by tests to inject a fake client.
func NewWithClient(c client.Client) *Client {
	return &Client{Client: c}
}

func (c *Client) ReadConfigMap(ctx context.Context, name, namespace string) (*corev1.ConfigMap, error) {
	cm := &corev1.ConfigMap{}
	if err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, cm); err != nil {
		return nil, fmt.Errorf("failed to read config map %s/%s: %w", namespace, name, err)
	}
	return cm, nil
}

func (c *Client) ReadSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, secret); err != nil {
		return nil, fmt.Errorf("failed to read secret %s/%s: %w", namespace, name, err)
	}
	return secret, nil
}

// PatchConfigMap merge-patches only the given keys; a nil value removes the
// key. Other keys in the config map are left untouched so concurrent edits
// from unrelated operations are not clobbered.
func (c *Client) PatchConfigMap(ctx context.Context, name, namespace string, data map[string]*string) error {
	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	if err := c.Patch(ctx, cm, client.RawPatch(types.MergePatchType, payload)); err != nil {
		return fmt.Errorf("failed to patch config map %s/%s: %w", namespace, name, err)
	}
	return nil
}

// PatchSecret merge-patches only the given keys of a secret's data; a nil
// value removes the key.
func (c *Client) PatchSecret(ctx context.Context, name, namespace string, data map[string][]byte) error {
	enc := map[string]any{}
	for k, v := range data {
		if v == nil {
			enc[k] = nil
			continue
		}
		enc[k] = v // base64-encoded by encoding/json
	}
	payload, err := json.Marshal(map[string]any{"data": enc})
	if err != nil {
		return err
	}
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	if err := c.Patch(ctx, secret, client.RawPatch(types.MergePatchType, payload)); err != nil {
		return fmt.Errorf("failed to patch secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *Client) DeleteServiceAccount(ctx context.Context, name, namespace string) error {
	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	return c.deleteTolerant(ctx, sa, "service account "+namespace+"/"+name)
}

func (c *Client) DeleteSecret(ctx context.Context, name, namespace string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	return c.deleteTolerant(ctx, secret, "secret "+namespace+"/"+name)
}

func (c *Client) DeleteRole(ctx context.Context, name, namespace string) error {
	role := &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	return c.deleteTolerant(ctx, role, "role "+namespace+"/"+name)
}

func (c *Client) DeleteRoleBinding(ctx context.Context, name, namespace string) error {
	binding := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	return c.deleteTolerant(ctx, binding, "role binding "+namespace+"/"+name)
}

func (c *Client) DeleteClusterRole(ctx context.Context, name string) error {
	role := &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	return c.deleteTolerant(ctx, role, "cluster role "+name)
}

func (c *Client) DeleteClusterRoleBinding(ctx context.Context, name string) error {
	binding := &rbacv1.ClusterRoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	return c.deleteTolerant(ctx, binding, "cluster role binding "+name)
}

// deleteTolerant deletes an object, treating "already absent" as success.
func (c *Client) deleteTolerant(ctx context.Context, obj client.Object, what string) error {
	logger := log.FromContext(ctx)
	if err := c.Delete(ctx, obj); err != nil {
		if errors.IsNotFound(err) {
			logger.V(1).Info("already absent", "resource", what)
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	return nil
}
