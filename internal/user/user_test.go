/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package user

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/open-craft/phd/internal/config"
	"github.com/open-craft/phd/internal/kube"
	"github.com/open-craft/phd/internal/policy"
)

// controlPlaneObjects is the minimal state of both control planes.
func controlPlaneObjects() []client.Object {
	return []client.Object{
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: ssoSecret, Namespace: "argo"},
			Data:       map[string][]byte{},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: workflowPolicyMap, Namespace: "argo"},
			Data:       map[string]string{policy.PolicyKey: "g, admin, role:admin\n"},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: argocdConfigMap, Namespace: "argocd"},
			Data:       map[string]string{},
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: argocdSecret, Namespace: "argocd"},
			Data:       map[string][]byte{},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: argocdPolicyMap, Namespace: "argocd"},
			Data:       map[string]string{policy.PolicyKey: ""},
		},
	}
}

// manifestServer serves the role, binding and token-secret templates. When
// withToken is true the token secret comes up already populated, standing in
// for the cluster's token controller.
func manifestServer(t *testing.T, withToken bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for _, role := range []Role{Admin, Developer, ReadOnly} {
		role := role
		mux.HandleFunc("/"+roleManifest(role), func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, `apiVersion: rbac.authorization.k8s.io/v1
kind: Role
metadata:
  name: {{ PHD_ARGO_USERNAME }}-workflows
  labels:
    phd.opencraft.com/role: %s
rules: []
`, role)
		})
	}
	mux.HandleFunc("/"+bindingsManifest, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `apiVersion: rbac.authorization.k8s.io/v1
kind: RoleBinding
metadata:
  name: {{ PHD_ARGO_USERNAME }}-binding
roleRef:
  apiGroup: rbac.authorization.k8s.io
  kind: Role
  name: {{ PHD_ARGO_USERNAME }}-workflows
subjects:
  - kind: ServiceAccount
    name: {{ PHD_ARGO_USERNAME }}
    namespace: argo
`)
	})
	mux.HandleFunc("/"+tokenSecretManifest, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `apiVersion: v1
kind: ServiceAccount
metadata:
  name: {{ PHD_ARGO_USERNAME }}
---
apiVersion: v1
kind: Secret
metadata:
  name: {{ PHD_ARGO_USERNAME }}-token
  annotations:
    kubernetes.io/service-account.name: {{ PHD_ARGO_USERNAME }}
type: kubernetes.io/service-account-token
`)
		if withToken {
			_, _ = fmt.Fprint(w, "data:\n  token: dG9rZW4tYWJj\n")
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testManager(t *testing.T, baseURL string, objs ...client.Object) (*Manager, *kube.Client) {
	t.Helper()
	c := fake.NewClientBuilder().WithScheme(clientgoscheme.Scheme).WithObjects(objs...).Build()
	k := kube.NewWithClient(c)
	mgr := NewManager(k, &config.Config{
		ClusterDomain:     "cluster.test",
		WorkflowNamespace: "argo",
		ArgoCDNamespace:   "argocd",
		ManifestsURL:      baseURL,
	})
	mgr.TokenInterval = 10 * time.Millisecond
	mgr.TokenTimeout = 100 * time.Millisecond
	return mgr, k
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"admin", "developer", "readonly"} {
		role, err := ParseRole(valid)
		require.NoError(t, err)
		assert.Equal(t, Role(valid), role)
	}
	_, err := ParseRole("superuser")
	assert.Error(t, err)
}

func TestCreateConfiguresBothControlPlanes(t *testing.T) {
	server := manifestServer(t, true)
	mgr, k := testManager(t, server.URL, controlPlaneObjects()...)
	ctx := context.Background()

	account, err := mgr.Create(ctx, "Alice", "s3cret", Admin)
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, "token-abc", account.Token)

	sso, err := k.ReadSecret(ctx, ssoSecret, "argo")
	require.NoError(t, err)
	assert.Equal(t, []byte("true"), sso.Data["accounts.alice.enabled"])
	assert.NoError(t, bcrypt.CompareHashAndPassword(sso.Data["accounts.alice.password"], []byte("s3cret")))
	assert.Equal(t, []byte("token-abc"), sso.Data["accounts.alice.tokens"])

	wfPolicy, err := k.ReadConfigMap(ctx, workflowPolicyMap, "argo")
	require.NoError(t, err)
	assert.Contains(t, wfPolicy.Data[policy.PolicyKey], "g, alice, role:admin")
	// Pre-existing grants survive the edit.
	assert.Contains(t, wfPolicy.Data[policy.PolicyKey], "g, admin, role:admin")

	cm, err := k.ReadConfigMap(ctx, argocdConfigMap, "argocd")
	require.NoError(t, err)
	assert.Equal(t, "login", cm.Data["accounts.alice"])

	cdSecret, err := k.ReadSecret(ctx, argocdSecret, "argocd")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(cdSecret.Data["accounts.alice.password"], []byte("s3cret")))

	cdPolicy, err := k.ReadConfigMap(ctx, argocdPolicyMap, "argocd")
	require.NoError(t, err)
	assert.Contains(t, cdPolicy.Data[policy.PolicyKey], "g, alice, role:admin")
}

func TestCreateTokenTimeout(t *testing.T) {
	server := manifestServer(t, false)
	mgr, _ := testManager(t, server.URL, controlPlaneObjects()...)

	_, err := mgr.Create(context.Background(), "bob", "s3cret", Developer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenTimeout))
}

func TestUpdateRoleReplacesGrants(t *testing.T) {
	server := manifestServer(t, true)
	mgr, k := testManager(t, server.URL, controlPlaneObjects()...)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "bob", "s3cret", Developer)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateRole(ctx, "bob", Admin))

	for _, plane := range []struct{ cm, ns string }{
		{workflowPolicyMap, "argo"},
		{argocdPolicyMap, "argocd"},
	} {
		cm, err := k.ReadConfigMap(ctx, plane.cm, plane.ns)
		require.NoError(t, err)
		doc := policy.Parse(cm.Data[policy.PolicyKey])
		assert.Equal(t, "admin", doc.Grants()["bob"], plane.cm)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	server := manifestServer(t, true)
	mgr, k := testManager(t, server.URL, controlPlaneObjects()...)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "alice", "s3cret", Developer)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, "alice"))

	sso, err := k.ReadSecret(ctx, ssoSecret, "argo")
	require.NoError(t, err)
	assert.NotContains(t, sso.Data, "accounts.alice.enabled")
	assert.NotContains(t, sso.Data, "accounts.alice.password")
	assert.NotContains(t, sso.Data, "accounts.alice.tokens")

	cm, err := k.ReadConfigMap(ctx, argocdConfigMap, "argocd")
	require.NoError(t, err)
	assert.NotContains(t, cm.Data, "accounts.alice")

	for _, plane := range []struct{ cm, ns string }{
		{workflowPolicyMap, "argo"},
		{argocdPolicyMap, "argocd"},
	} {
		cm, err := k.ReadConfigMap(ctx, plane.cm, plane.ns)
		require.NoError(t, err)
		assert.NotContains(t, policy.Parse(cm.Data[policy.PolicyKey]).Grants(), "alice", plane.cm)
	}

	sa := &corev1.ServiceAccount{}
	err = k.Get(ctx, client.ObjectKey{Name: "alice", Namespace: "argo"}, sa)
	assert.Error(t, err)
	tokenSecret := &corev1.Secret{}
	err = k.Get(ctx, client.ObjectKey{Name: "alice-token", Namespace: "argo"}, tokenSecret)
	assert.Error(t, err)
}

func TestDeleteToleratesAbsentUser(t *testing.T) {
	server := manifestServer(t, true)
	mgr, _ := testManager(t, server.URL, controlPlaneObjects()...)

	require.NoError(t, mgr.Delete(context.Background(), "ghost"))
}
