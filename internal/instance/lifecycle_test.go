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

package instance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/open-craft/phd/internal/config"
	"github.com/open-craft/phd/internal/kube"
	"github.com/open-craft/phd/internal/workflow"
)

var workflowGVK = schema.GroupVersionKind{Group: "argoproj.io", Version: "v1alpha1", Kind: "Workflow"}

func testScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(s))
	for _, gvk := range []schema.GroupVersionKind{workflowGVK, applicationGVK} {
		s.AddKnownTypeWithName(gvk, &unstructured.Unstructured{})
		s.AddKnownTypeWithName(schema.GroupVersionKind{
			Group: gvk.Group, Version: gvk.Version, Kind: gvk.Kind + "List",
		}, &unstructured.UnstructuredList{})
	}
	return s
}

// manifestServer serves the RBAC manifest and one workflow manifest per
// (kind, direction). Kinds listed in succeed come up already completed with
// the success phase; the rest never complete.
func manifestServer(t *testing.T, succeed map[workflow.Kind]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/phd-instance-rbac.yml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `apiVersion: v1
kind: ServiceAccount
metadata:
  name: {{ PHD_INSTANCE_NAME }}-workflows
`)
	})
	for _, kind := range workflow.Kinds() {
		for _, direction := range []workflow.Direction{workflow.Provision, workflow.Deprovision} {
			kind, direction := kind, direction
			mux.HandleFunc("/"+workflow.ManifestFile(kind, direction), func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprintf(w, `apiVersion: argoproj.io/v1alpha1
kind: Workflow
metadata:
  name: %s
spec:
  arguments: {}
`, workflow.Name(kind, direction, "{{ PHD_INSTANCE_NAME }}"))
				if succeed[kind] {
					_, _ = fmt.Fprint(w, `status:
  phase: Succeeded
  conditions:
    - type: Completed
      status: "True"
`)
				}
			})
		}
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testOrchestrator(t *testing.T, baseURL string, objs ...client.Object) (*Orchestrator, client.Client) {
	t.Helper()
	c := fake.NewClientBuilder().WithScheme(testScheme(t)).WithObjects(objs...).Build()
	cfg := &config.Config{
		ClusterDomain:     "cluster.test",
		ArgoCDNamespace:   "argocd",
		WorkflowNamespace: "argo",
		ManifestsURL:      baseURL,
		MySQL:             config.MySQL{Host: "mysql.db", Port: "3306"},
	}
	store := &Store{Dir: t.TempDir()}
	orch := NewOrchestrator(kube.NewWithClient(c), cfg, store, nil)
	orch.Launcher.Timeout = 100 * time.Millisecond
	return orch, c
}

func TestCreateProvisionsInstance(t *testing.T) {
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.MongoDB: true, workflow.Storage: true,
	})
	orch, c := testOrchestrator(t, server.URL)
	ctx := context.Background()

	err := orch.Create(ctx, "demo", CreateOptions{
		TemplateRepository: "https://github.com/example/templates",
		TemplateVersion:    "v1.0",
	})
	require.NoError(t, err)

	rec, err := orch.Store.Load("demo")
	require.NoError(t, err)
	assert.Equal(t, Active, rec.Phase)
	assert.Equal(t, "demo_db", rec.Config["MYSQL_DATABASE"])
	assert.Len(t, rec.Config["MYSQL_PASSWORD"], 24)

	exists, err := orch.Kube.NamespaceExists(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, exists)

	// Successful jobs leave no records behind.
	for _, kind := range workflow.Kinds() {
		obj := &unstructured.Unstructured{}
		obj.SetGroupVersionKind(workflowGVK)
		name := workflow.Name(kind, workflow.Provision, "demo")
		err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: "demo"}, obj)
		assert.True(t, apierrors.IsNotFound(err), "workflow %s should be cleaned up", name)
	}

	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(applicationGVK)
	require.NoError(t, c.Get(ctx, types.NamespacedName{Name: "demo", Namespace: "argocd"}, app))
	repo, _, _ := unstructured.NestedString(app.Object, "spec", "source", "repoURL")
	assert.Equal(t, "https://github.com/example/templates", repo)
}

func TestCreateFailureRetainsJobRecords(t *testing.T) {
	// mongodb never completes, so the batch fails while the other jobs run.
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.Storage: true,
	})
	orch, c := testOrchestrator(t, server.URL)
	ctx := context.Background()

	err := orch.Create(ctx, "demo", CreateOptions{})
	require.Error(t, err)

	var provErr *ProvisionError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, []workflow.Kind{workflow.MongoDB}, provErr.Kinds)

	// The failed job's record stays for inspection, and the instance record
	// keeps its provisioning phase so the create can be re-run.
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(workflowGVK)
	name := workflow.Name(workflow.MongoDB, workflow.Provision, "demo")
	require.NoError(t, c.Get(ctx, types.NamespacedName{Name: name, Namespace: "demo"}, obj))

	rec, err := orch.Store.Load("demo")
	require.NoError(t, err)
	assert.Equal(t, Provisioning, rec.Phase)
}

func TestCreateReusesExistingRecord(t *testing.T) {
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.MongoDB: true, workflow.Storage: true,
	})
	orch, _ := testOrchestrator(t, server.URL)
	ctx := context.Background()

	require.NoError(t, orch.Store.Save(&Record{
		Name:  "demo",
		Phase: Provisioning,
		Config: map[string]string{
			"MYSQL_PASSWORD": "kept-password",
		},
	}))

	require.NoError(t, orch.Create(ctx, "demo", CreateOptions{}))

	rec, err := orch.Store.Load("demo")
	require.NoError(t, err)
	assert.Equal(t, "kept-password", rec.Config["MYSQL_PASSWORD"])
}

func TestDeleteTearsDownLeniently(t *testing.T) {
	// mongodb deprovisioning never completes; deletion must still finish.
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.Storage: true,
	})

	ns := namespaceObject("demo")
	orch, c := testOrchestrator(t, server.URL, ns)
	ctx := context.Background()

	require.NoError(t, orch.Store.Save(&Record{Name: "demo", Phase: Active, Config: map[string]string{}}))
	require.NoError(t, orch.Applier.ApplyObject(ctx, orch.application(&Record{Name: "demo", Config: map[string]string{}})))

	require.NoError(t, orch.Delete(ctx, "demo"))

	exists, err := orch.Kube.NamespaceExists(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, orch.Store.Exists("demo"))

	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(applicationGVK)
	err = c.Get(ctx, types.NamespacedName{Name: "demo", Namespace: "argocd"}, app)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestDeleteWithoutNamespaceSkipsDeprovisioning(t *testing.T) {
	server := manifestServer(t, nil)
	orch, _ := testOrchestrator(t, server.URL)
	ctx := context.Background()

	require.NoError(t, orch.Store.Save(&Record{Name: "demo", Phase: Active, Config: map[string]string{}}))

	require.NoError(t, orch.Delete(ctx, "demo"))
	assert.False(t, orch.Store.Exists("demo"))
}

// fakeObjectStore records the storage calls the orchestrator makes.
type fakeObjectStore struct {
	buckets        []string
	listErr        error
	existing       map[string]bool
	checkedBuckets []string
	deletedBuckets []string
	deletedUsers   []string
}

func (f *fakeObjectStore) ListBuckets(ctx context.Context) ([]string, error) {
	return f.buckets, f.listErr
}

func (f *fakeObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	f.checkedBuckets = append(f.checkedBuckets, bucketName)
	return f.existing[bucketName], nil
}

func (f *fakeObjectStore) DeleteBucket(ctx context.Context, bucketName string) error {
	f.deletedBuckets = append(f.deletedBuckets, bucketName)
	return nil
}

func (f *fakeObjectStore) DeleteUser(ctx context.Context, userName string) error {
	f.deletedUsers = append(f.deletedUsers, userName)
	return nil
}

func (f *fakeObjectStore) Provider() config.StorageProvider {
	return config.StorageMinio
}

func TestCreatePreflightChecksInstanceBucket(t *testing.T) {
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.MongoDB: true, workflow.Storage: true,
	})
	orch, _ := testOrchestrator(t, server.URL)
	object := &fakeObjectStore{existing: map[string]bool{"phd-demo-cluster.test": true}}
	orch.Object = object

	// An existing bucket is only worth a warning, never a failure.
	require.NoError(t, orch.Create(context.Background(), "demo", CreateOptions{}))
	assert.Equal(t, []string{"phd-demo-cluster.test"}, object.checkedBuckets)
}

func TestCreatePreflightFailureDoesNotBlock(t *testing.T) {
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.MongoDB: true, workflow.Storage: true,
	})
	orch, _ := testOrchestrator(t, server.URL)
	object := &fakeObjectStore{listErr: errors.New("connection refused")}
	orch.Object = object

	require.NoError(t, orch.Create(context.Background(), "demo", CreateOptions{}))
	// Unusable credentials skip the bucket check entirely.
	assert.Empty(t, object.checkedBuckets)
}

func TestDeleteStorageFallbackOnFailedJob(t *testing.T) {
	// The storage deprovisioning job never completes; the bucket and user
	// are removed directly instead.
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.MongoDB: true,
	})
	orch, _ := testOrchestrator(t, server.URL, namespaceObject("demo"))
	object := &fakeObjectStore{}
	orch.Object = object

	require.NoError(t, orch.Store.Save(&Record{Name: "demo", Phase: Active, Config: map[string]string{}}))

	require.NoError(t, orch.Delete(context.Background(), "demo"))
	assert.Equal(t, []string{"phd-demo"}, object.deletedUsers)
	assert.Equal(t, []string{"phd-demo-cluster.test"}, object.deletedBuckets)
}

func TestDeletePersistsDeletedPhaseWhenRemovalFails(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	server := manifestServer(t, nil)
	orch, _ := testOrchestrator(t, server.URL)

	require.NoError(t, orch.Store.Save(&Record{Name: "demo", Phase: Active, Config: map[string]string{}}))
	dir := filepath.Join(orch.Store.Dir, "demo")
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	require.Error(t, orch.Delete(context.Background(), "demo"))

	require.NoError(t, os.Chmod(dir, 0o755))
	rec, err := orch.Store.Load("demo")
	require.NoError(t, err)
	assert.Equal(t, Deleted, rec.Phase)
}

func TestDeleteWithoutRecordSynthesizes(t *testing.T) {
	server := manifestServer(t, map[workflow.Kind]bool{
		workflow.MySQL: true, workflow.MongoDB: true, workflow.Storage: true,
	})
	orch, _ := testOrchestrator(t, server.URL, namespaceObject("demo"))

	require.NoError(t, orch.Delete(context.Background(), "demo"))

	exists, err := orch.Kube.NamespaceExists(context.Background(), "demo")
	require.NoError(t, err)
	assert.False(t, exists)
}
