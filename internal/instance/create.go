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
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/objectstore"
	"github.com/open-craft/phd/internal/workflow"
)

// Create provisions a new instance: namespace and access setup, the strict
// provisioning batch, and registration of the application descriptor with
// the deployment controller. Re-running creation for an instance whose
// namespace or record already exists is safe.
func (o *Orchestrator) Create(ctx context.Context, name string, opts CreateOptions) error {
	logger := log.FromContext(ctx).WithValues("instance", name)

	var rec *Record
	var err error
	if o.Store.Exists(name) {
		logger.Info("instance record already exists, reusing")
		rec, err = o.Store.Load(name)
	} else {
		rec, err = o.newRecord(name, opts)
	}
	if err != nil {
		return err
	}
	rec.Phase = Provisioning
	if err := o.Store.Save(rec); err != nil {
		return err
	}

	if err := o.Kube.CreateNamespace(ctx, name); err != nil {
		return err
	}

	rbacVars := map[string]string{"PHD_INSTANCE_NAME": name}
	if err := o.Applier.ApplyURL(ctx, o.Cfg.ManifestBaseURL()+"/"+rbacManifest, name, rbacVars); err != nil {
		return fmt.Errorf("failed to configure instance access control: %w", err)
	}
	logger.Info("instance access control configured", "namespace", name)

	o.storagePreflight(ctx, rec)

	jobs := o.Launcher.LaunchBatch(ctx, name, workflow.Provision, workflow.Kinds(), o.variables(rec))
	outcomes := o.Launcher.AwaitBatch(ctx, jobs, o.Launcher.JobTimeout())

	if !workflow.AllSucceeded(outcomes) {
		failed := workflow.FailedKinds(outcomes)
		for _, kind := range failed {
			logger.Info("provisioning job did not succeed", "kind", kind, "outcome", outcomes[kind])
		}
		return &ProvisionError{Instance: name, Kinds: failed}
	}

	// All jobs succeeded; the records serve no further purpose.
	o.Launcher.CleanupBatch(ctx, jobs)
	logger.Info("provisioning workflows completed", "kinds", len(outcomes))

	if err := o.Applier.ApplyObject(ctx, o.application(rec)); err != nil {
		return fmt.Errorf("failed to register application for instance %s: %w", name, err)
	}
	logger.Info("application registered with deployment controller")

	rec.Phase = Active
	if err := o.Store.Save(rec); err != nil {
		return err
	}
	logger.Info("instance created successfully")
	return nil
}

// storagePreflight verifies the storage credentials before any job runs and
// warns when the instance bucket already exists. Failures here never block
// creation; the storage workflow reports authoritatively.
func (o *Orchestrator) storagePreflight(ctx context.Context, rec *Record) {
	logger := log.FromContext(ctx).WithValues("instance", rec.Name)
	if o.Object == nil {
		return
	}
	buckets, err := o.Object.ListBuckets(ctx)
	if err != nil {
		logger.Info("storage credentials preflight failed", "provider", o.Object.Provider(), "error", err.Error())
		return
	}
	logger.V(1).Info("storage credentials verified", "provider", o.Object.Provider(), "buckets", len(buckets))

	bucketName := rec.Get("STORAGE_BUCKET_NAME", objectstore.BucketName(rec.Name, o.Cfg.ClusterDomain))
	exists, err := o.Object.BucketExists(ctx, bucketName)
	if err != nil {
		logger.Info("failed to check for existing bucket", "bucket", bucketName, "error", err.Error())
		return
	}
	if exists {
		logger.Info("instance bucket already exists", "bucket", bucketName)
	}
}
