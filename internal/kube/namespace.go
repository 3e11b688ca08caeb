package kube

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrNamespaceNotTerminated reports that a namespace still exists after the
// deletion wait elapsed. Resources inside are likely still terminating and
// the operator should intervene.
var ErrNamespaceNotTerminated = stderrors.New("namespace not terminated within timeout")

const namespacePollInterval = 5 * time.Second

// CreateNamespace creates a namespace, tolerating one that already exists so
// creation flows can be re-run.
func (c *Client) CreateNamespace(ctx context.Context, name string) error {
	logger := log.FromContext(ctx)
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	if err := c.Create(ctx, ns); err != nil {
		if errors.IsAlreadyExists(err) {
			logger.Info("namespace already exists", "namespace", name)
			return nil
		}
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

// NamespaceExists reports whether the namespace is present at all.
func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	ns := &corev1.Namespace{}
	if err := c.Get(ctx, types.NamespacedName{Name: name}, ns); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteNamespace deletes a namespace and waits up to timeout for it to be
// gone. Absence is success; a namespace still present after the wait is the
// one teardown failure that escalates.
func (c *Client) DeleteNamespace(ctx context.Context, name string, timeout time.Duration) error {
	logger := log.FromContext(ctx)
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	if err := c.Delete(ctx, ns); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("namespace already absent", "namespace", name)
			return nil
		}
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}

	err := wait.PollUntilContextTimeout(ctx, namespacePollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			exists, err := c.NamespaceExists(ctx, name)
			if err != nil {
				return false, nil
			}
			return !exists, nil
		})
	if err != nil {
		logger.Info("namespace still exists, resources may still be terminating", "namespace", name)
		return fmt.Errorf("%w: %s", ErrNamespaceNotTerminated, name)
	}
	return nil
}
