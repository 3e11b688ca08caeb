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
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/open-craft/phd/internal/config"
	"github.com/open-craft/phd/internal/kube"
	"github.com/open-craft/phd/internal/manifest"
	"github.com/open-craft/phd/internal/objectstore"
	"github.com/open-craft/phd/internal/password"
	"github.com/open-craft/phd/internal/workflow"
)

const (
	rbacManifest           = "phd-instance-rbac.yml"
	namespaceDeleteTimeout = 300 * time.Second
)

var applicationGVK = schema.GroupVersionKind{
	Group:   "argoproj.io",
	Version: "v1alpha1",
	Kind:    "Application",
}

// Orchestrator drives the full create and delete lifecycle of an instance:
// namespace and access setup, provisioning batches, application descriptor
// registration, and teardown.
type Orchestrator struct {
	Kube     *kube.Client
	Applier  *manifest.Applier
	Launcher *workflow.Launcher
	Store    *Store
	Object   objectstore.Client
	Cfg      *config.Config
}

func NewOrchestrator(k *kube.Client, cfg *config.Config, store *Store, object objectstore.Client) *Orchestrator {
	applier := manifest.NewApplier(k)
	return &Orchestrator{
		Kube:    k,
		Applier: applier,
		Launcher: &workflow.Launcher{
			Client:  k,
			Applier: applier,
			BaseURL: cfg.ManifestBaseURL(),
		},
		Store:  store,
		Object: object,
		Cfg:    cfg,
	}
}

// ProvisionError reports which resource kinds of a strict batch did not
// succeed. The batch's job records are retained for inspection.
type ProvisionError struct {
	Instance string
	Kinds    []workflow.Kind
}

func (e *ProvisionError) Error() string {
	kinds := make([]string, 0, len(e.Kinds))
	for _, k := range e.Kinds {
		kinds = append(kinds, string(k))
	}
	return fmt.Sprintf("provisioning failed for instance %s: %s did not succeed, job records retained for inspection",
		e.Instance, strings.Join(kinds, ", "))
}

// CreateOptions are the caller-supplied settings for a new instance.
type CreateOptions struct {
	PlatformName       string
	TemplateRepository string
	TemplateVersion    string
	PlatformRepository string
	PlatformVersion    string
	Extra              map[string]string
}

// newRecord builds the configuration record for a fresh instance, applying
// defaults for everything the caller did not supply.
func (o *Orchestrator) newRecord(name string, opts CreateOptions) (*Record, error) {
	// Database identifiers cannot carry dashes; the database itself gets a
	// _db suffix so it never collides with the like-named user.
	dbUser := strings.ReplaceAll(name, "-", "_")
	dbName := dbUser + "_db"

	mysqlPassword, err := password.Generate(24)
	if err != nil {
		return nil, err
	}
	mongoPassword, err := password.Generate(24)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Name:  name,
		Phase: Provisioning,
		Config: map[string]string{
			"PLATFORM_NAME":          opts.PlatformName,
			"PLATFORM_REPOSITORY":    opts.PlatformRepository,
			"PLATFORM_VERSION":       opts.PlatformVersion,
			"APPLICATION_REPOSITORY": opts.TemplateRepository,
			"APPLICATION_REVISION":   opts.TemplateVersion,
			"APPLICATION_PATH":       "instances/" + name,
			"MYSQL_DATABASE":         dbName,
			"MYSQL_USERNAME":         dbUser,
			"MYSQL_PASSWORD":         mysqlPassword,
			"MYSQL_HOST":             o.Cfg.MySQL.Host,
			"MYSQL_PORT":             o.Cfg.MySQL.Port,
			"MONGODB_DATABASE":       dbName,
			"MONGODB_USERNAME":       dbUser,
			"MONGODB_PASSWORD":       mongoPassword,
			"STORAGE_BUCKET_NAME":    objectstore.BucketName(name, o.Cfg.ClusterDomain),
		},
	}
	for k, v := range opts.Extra {
		rec.Config[k] = v
	}
	return rec, nil
}

// variables is the substitution context handed to the workflow templates,
// assembled from the instance record and the per-command configuration.
func (o *Orchestrator) variables(rec *Record) map[string]string {
	cfg := o.Cfg
	return map[string]string{
		"PHD_INSTANCE_NAME": rec.Name,
		"PHD_ENVIRONMENT":   cfg.Environment,
		"PHD_PLATFORM_NAME": rec.Get("PLATFORM_NAME", rec.Name),

		"PHD_INSTANCE_MYSQL_DATABASE":      rec.Get("MYSQL_DATABASE", ""),
		"PHD_INSTANCE_MYSQL_USERNAME":      rec.Get("MYSQL_USERNAME", ""),
		"PHD_INSTANCE_MYSQL_PASSWORD":      rec.Get("MYSQL_PASSWORD", ""),
		"PHD_INSTANCE_MYSQL_HOST":          rec.Get("MYSQL_HOST", cfg.MySQL.Host),
		"PHD_INSTANCE_MYSQL_PORT":          rec.Get("MYSQL_PORT", cfg.MySQL.Port),
		"PHD_INSTANCE_MYSQL_ROOT_USER":     cfg.MySQL.RootUser,
		"PHD_INSTANCE_MYSQL_ROOT_PASSWORD": cfg.MySQL.RootPassword,

		"PHD_INSTANCE_MONGODB_DATABASE": rec.Get("MONGODB_DATABASE", ""),
		"PHD_INSTANCE_MONGODB_USERNAME": rec.Get("MONGODB_USERNAME", ""),
		"PHD_INSTANCE_MONGODB_PASSWORD": rec.Get("MONGODB_PASSWORD", ""),
		"PHD_INSTANCE_MONGODB_PROVIDER": string(cfg.Mongo.Provider),
		"PHD_INSTANCE_MONGODB_HOST":     cfg.Mongo.Host,
		"PHD_INSTANCE_MONGODB_PORT":     cfg.Mongo.Port,

		"PHD_INSTANCE_MONGODB_CLUSTER_ID":  cfg.Mongo.ClusterID,
		"PHD_INSTANCE_DIGITALOCEAN_TOKEN":  cfg.Mongo.DigitalOceanToken,
		"PHD_INSTANCE_ATLAS_PUBLIC_KEY":    cfg.Mongo.AtlasPublicKey,
		"PHD_INSTANCE_ATLAS_PRIVATE_KEY":   cfg.Mongo.AtlasPrivateKey,
		"PHD_INSTANCE_ATLAS_PROJECT_ID":    cfg.Mongo.AtlasProjectID,
		"PHD_INSTANCE_ATLAS_CLUSTER_NAME":  cfg.Mongo.AtlasClusterName,

		"PHD_INSTANCE_STORAGE_BUCKET_NAME":       rec.Get("STORAGE_BUCKET_NAME", ""),
		"PHD_INSTANCE_STORAGE_TYPE":              string(cfg.Storage.Provider),
		"PHD_INSTANCE_STORAGE_REGION":            cfg.Storage.Region,
		"PHD_INSTANCE_STORAGE_ENDPOINT_URL":      cfg.Storage.Endpoint,
		"PHD_INSTANCE_STORAGE_ACCESS_KEY_ID":     cfg.Storage.AccessKeyID,
		"PHD_INSTANCE_STORAGE_SECRET_ACCESS_KEY": cfg.Storage.SecretAccessKey,
		"PHD_INSTANCE_STORAGE_MAKE_PUBLIC":       fmt.Sprintf("%t", cfg.Storage.MakePublic),
	}
}

// application is the declarative descriptor handed to the deployment
// controller once provisioning succeeds.
func (o *Orchestrator) application(rec *Record) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(applicationGVK)
	obj.SetName(rec.Name)
	obj.SetNamespace(o.Cfg.ArgoCDNamespace)
	obj.Object["spec"] = map[string]interface{}{
		"project": "default",
		"source": map[string]interface{}{
			"repoURL":        rec.Get("APPLICATION_REPOSITORY", ""),
			"path":           rec.Get("APPLICATION_PATH", "instances/"+rec.Name),
			"targetRevision": rec.Get("APPLICATION_REVISION", "main"),
		},
		"destination": map[string]interface{}{
			"server":    "https://kubernetes.default.svc",
			"namespace": rec.Name,
		},
		"syncPolicy": map[string]interface{}{
			"automated": map[string]interface{}{
				"prune":    true,
				"selfHeal": true,
			},
		},
	}
	return obj
}
