package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// MongoProvider selects which managed-database API the MongoDB workflows
// talk to. Resolved once at load time from the credentials that are present.
type MongoProvider string

const (
	MongoStandard     MongoProvider = "standard"
	MongoDigitalOcean MongoProvider = "digitalocean"
	MongoAtlas        MongoProvider = "atlas"
)

// StorageProvider selects the object-storage backend.
type StorageProvider string

const (
	StorageMinio StorageProvider = "minio"
	StorageS3    StorageProvider = "s3"
	StorageGCS   StorageProvider = "gcs"
)

type MySQL struct {
	Host         string `env:"MYSQL_HOST"`
	Port         string `env:"MYSQL_PORT" envDefault:"3306"`
	RootUser     string `env:"MYSQL_ROOT_USER" envDefault:"root"`
	RootPassword string `env:"MYSQL_ROOT_PASSWORD"`
}

type Mongo struct {
	Provider MongoProvider `env:"-"`

	Host string `env:"MONGODB_HOST"`
	Port string `env:"MONGODB_PORT" envDefault:"27017"`

	// DigitalOcean managed databases.
	DigitalOceanToken string `env:"DIGITALOCEAN_TOKEN"`
	ClusterID         string `env:"MONGODB_CLUSTER_ID"`

	// MongoDB Atlas.
	AtlasPublicKey   string `env:"ATLAS_PUBLIC_KEY"`
	AtlasPrivateKey  string `env:"ATLAS_PRIVATE_KEY"`
	AtlasProjectID   string `env:"ATLAS_PROJECT_ID"`
	AtlasClusterName string `env:"ATLAS_CLUSTER_NAME"`
}

type Storage struct {
	Provider StorageProvider `env:"-"`

	Type            string `env:"STORAGE_TYPE" envDefault:"minio"`
	Region          string `env:"STORAGE_REGION"`
	Endpoint        string `env:"STORAGE_ENDPOINT_URL"`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"STORAGE_SECRET_ACCESS_KEY"`
	MakePublic      bool   `env:"STORAGE_MAKE_PUBLIC" envDefault:"false"`
	TLS             bool   `env:"STORAGE_TLS" envDefault:"true"`
}

// Config is built once per command invocation and passed by reference to
// every component. Nothing reads process environment after Load returns.
type Config struct {
	ClusterDomain string `env:"CLUSTER_DOMAIN"`
	Environment   string `env:"ENVIRONMENT" envDefault:"production"`

	WorkflowNamespace string `env:"ARGO_NAMESPACE" envDefault:"argo"`
	ArgoCDNamespace   string `env:"ARGOCD_NAMESPACE" envDefault:"argocd"`

	ManifestsVersion string `env:"MANIFESTS_VERSION" envDefault:"main"`
	ManifestsURL     string `env:"MANIFESTS_URL"`

	InstancesDir string `env:"INSTANCES_DIRECTORY" envDefault:"instances"`

	// Optional; one is generated when empty.
	AdminPassword string `env:"ARGO_ADMIN_PASSWORD"`

	MySQL   MySQL   `envPrefix:""`
	Mongo   Mongo   `envPrefix:""`
	Storage Storage `envPrefix:""`
}

// Load builds a Config from PHD_-prefixed environment variables and resolves
// the provider variants.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "PHD_"}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.resolveProviders(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveProviders() error {
	switch {
	case c.Mongo.DigitalOceanToken != "" && c.Mongo.ClusterID != "":
		c.Mongo.Provider = MongoDigitalOcean
	case c.Mongo.AtlasPublicKey != "" && c.Mongo.AtlasPrivateKey != "":
		c.Mongo.Provider = MongoAtlas
	default:
		c.Mongo.Provider = MongoStandard
	}

	switch StorageProvider(c.Storage.Type) {
	case StorageMinio, StorageS3, StorageGCS:
		c.Storage.Provider = StorageProvider(c.Storage.Type)
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	return nil
}

// Validate fails fast on missing required settings, before any mutation.
func (c *Config) Validate() error {
	if c.ClusterDomain == "" {
		return fmt.Errorf("PHD_CLUSTER_DOMAIN is required")
	}
	if c.Storage.Provider == StorageMinio && c.Storage.Endpoint == "" {
		return fmt.Errorf("PHD_STORAGE_ENDPOINT_URL is required for minio storage")
	}
	return nil
}

// ManifestBaseURL is where the workflow and RBAC manifest templates live.
func (c *Config) ManifestBaseURL() string {
	if c.ManifestsURL != "" {
		return c.ManifestsURL
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/open-craft/phd-cluster-template/%s/manifests", c.ManifestsVersion)
}
