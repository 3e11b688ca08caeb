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

	"k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/objectstore"
	"github.com/open-craft/phd/internal/workflow"
)

// Delete tears an instance down. Deprovisioning is lenient: individual job
// failures are logged and never block the remaining steps, so a partially
// failed teardown still frees as much as possible. The one escalated step is
// namespace termination; a namespace that outlives its timeout needs an
// operator.
func (o *Orchestrator) Delete(ctx context.Context, name string) error {
	logger := log.FromContext(ctx).WithValues("instance", name)

	rec := o.loadOrSynthesize(ctx, name)
	rec.Phase = Deprovisioning
	if err := o.Store.Save(rec); err != nil {
		logger.Info("failed to persist record phase", "error", err.Error())
	}

	// Stale records from an aborted create attempt.
	o.Launcher.DeleteStale(ctx, name, workflow.Provision, workflow.Kinds())

	o.removeApplication(ctx, rec)

	exists, err := o.Kube.NamespaceExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info("namespace already absent, skipping deprovisioning", "namespace", name)
	} else {
		o.deprovision(ctx, rec)

		// Cluster-scoped access-control objects for the instance.
		if err := o.Kube.DeleteClusterRole(ctx, name+"-workflows"); err != nil {
			logger.Info("failed to delete cluster role", "error", err.Error())
		}
		if err := o.Kube.DeleteClusterRoleBinding(ctx, name+"-binding"); err != nil {
			logger.Info("failed to delete cluster role binding", "error", err.Error())
		}

		if err := o.Kube.DeleteNamespace(ctx, name, namespaceDeleteTimeout); err != nil {
			return err
		}
		logger.Info("namespace deleted", "namespace", name)
	}

	// Persist the terminal phase first so an interrupted removal still
	// leaves an accurate record behind.
	rec.Phase = Deleted
	if err := o.Store.Save(rec); err != nil {
		logger.Info("failed to persist record phase", "error", err.Error())
	}
	if err := o.Store.Remove(name); err != nil {
		return err
	}
	logger.Info("instance deleted successfully")
	return nil
}

// deprovision launches the teardown batch and reports outcomes as warnings
// only. Job records are cleaned up only after a fully successful batch.
func (o *Orchestrator) deprovision(ctx context.Context, rec *Record) {
	logger := log.FromContext(ctx).WithValues("instance", rec.Name)

	jobs := o.Launcher.LaunchBatch(ctx, rec.Name, workflow.Deprovision, workflow.Kinds(), o.variables(rec))
	outcomes := o.Launcher.AwaitBatch(ctx, jobs, o.Launcher.JobTimeout())

	if workflow.AllSucceeded(outcomes) {
		o.Launcher.CleanupBatch(ctx, jobs)
		logger.Info("deprovisioning workflows completed")
		return
	}
	for _, kind := range workflow.FailedKinds(outcomes) {
		logger.Info("deprovisioning job did not succeed, continuing", "kind", kind, "outcome", outcomes[kind])
		if kind == workflow.Storage {
			o.storageFallback(ctx, rec)
		}
	}
}

// storageFallback removes the instance bucket and storage user directly when
// the storage deprovisioning job failed. Best-effort.
func (o *Orchestrator) storageFallback(ctx context.Context, rec *Record) {
	logger := log.FromContext(ctx).WithValues("instance", rec.Name)
	if o.Object == nil {
		return
	}
	userName := objectstore.UserName(rec.Name)
	if err := o.Object.DeleteUser(ctx, userName); err != nil {
		logger.Info("failed to delete storage user", "user", userName, "error", err.Error())
	}
	bucketName := rec.Get("STORAGE_BUCKET_NAME", objectstore.BucketName(rec.Name, o.Cfg.ClusterDomain))
	if err := o.Object.DeleteBucket(ctx, bucketName); err != nil {
		logger.Info("failed to delete bucket", "bucket", bucketName, "error", err.Error())
		return
	}
	logger.Info("bucket removed directly", "bucket", bucketName)
}

func (o *Orchestrator) removeApplication(ctx context.Context, rec *Record) {
	logger := log.FromContext(ctx).WithValues("instance", rec.Name)
	app := o.application(rec)
	if err := o.Kube.Delete(ctx, app); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("application already absent")
			return
		}
		logger.Info("failed to remove application", "error", err.Error())
		return
	}
	logger.Info("application removed from deployment controller")
}

// loadOrSynthesize falls back to a minimal record so deletion can proceed
// even when the local record is gone.
func (o *Orchestrator) loadOrSynthesize(ctx context.Context, name string) *Record {
	logger := log.FromContext(ctx)
	if o.Store.Exists(name) {
		rec, err := o.Store.Load(name)
		if err == nil {
			return rec
		}
		logger.Info("failed to load instance record, synthesizing", "instance", name, "error", err.Error())
	}
	return &Record{Name: name, Config: map[string]string{}}
}
