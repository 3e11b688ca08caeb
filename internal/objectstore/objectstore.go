package objectstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/storage"
	giam "google.golang.org/api/iam/v1"
	"google.golang.org/api/iterator"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/open-craft/phd/internal/config"
)

// Client is the provider-specific slice of object storage the orchestrator
// touches directly: a credentials preflight before provisioning jobs run,
// and best-effort bucket/user removal when a deprovisioning job fails.
// Bucket and credential creation belong to the job engine, not here.
type Client interface {
	// ListBuckets lists all buckets; also serves as the credentials check.
	ListBuckets(ctx context.Context) ([]string, error)
	// BucketExists reports whether the named bucket is present.
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	// DeleteBucket deletes a bucket.
	DeleteBucket(ctx context.Context, bucketName string) error
	// DeleteUser deletes the provider-side user scoped to a bucket.
	DeleteUser(ctx context.Context, userName string) error
	// Provider names the backing cloud provider.
	Provider() config.StorageProvider
}

// New resolves a client for the provider picked at configuration-load time.
func New(ctx context.Context, cfg *config.Storage) (Client, error) {
	switch cfg.Provider {
	case config.StorageGCS:
		g := &gcsClient{}
		if err := g.auth(ctx); err != nil {
			return nil, err
		}
		return g, nil
	case config.StorageS3:
		a := &awsClient{}
		if err := a.auth(ctx, cfg); err != nil {
			return nil, err
		}
		return a, nil
	case config.StorageMinio:
		m := &minioClient{}
		if err := m.auth(cfg); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("storage provider %s not supported", cfg.Provider)
	}
}

// BucketName is the per-instance bucket the provisioning workflows create.
func BucketName(instance, clusterDomain string) string {
	return "phd-" + instance + "-" + clusterDomain
}

// UserName is the provider-side user the storage workflows create for an
// instance.
func UserName(instance string) string {
	return "phd-" + instance
}

type gcsClient struct {
	client     *storage.Client
	iam        *giam.Service
	projectID  string
	projectNum string
}

func (g *gcsClient) auth(ctx context.Context) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	g.client = client
	g.projectID, err = metadata.ProjectID()
	if err != nil {
		return err
	}
	g.projectNum, err = metadata.NumericProjectID()
	if err != nil {
		return err
	}
	g.iam, err = giam.NewService(ctx)
	return err
}

func (g *gcsClient) Provider() config.StorageProvider {
	return config.StorageGCS
}

func (g *gcsClient) ListBuckets(ctx context.Context) ([]string, error) {
	it := g.client.Buckets(ctx, g.projectID)
	var buckets []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, attrs.Name)
	}
	return buckets, nil
}

func (g *gcsClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	_, err := g.client.Bucket(bucketName).Attrs(ctx)
	if err == storage.ErrBucketNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *gcsClient) DeleteBucket(ctx context.Context, bucketName string) error {
	return g.client.Bucket(bucketName).Delete(ctx)
}

func (g *gcsClient) DeleteUser(ctx context.Context, userName string) error {
	resp, err := g.iam.Projects.ServiceAccounts.List("projects/" + g.projectNum).Context(ctx).Do()
	if err != nil {
		return err
	}
	for _, sa := range resp.Accounts {
		if sa.DisplayName == userName {
			_, err := g.iam.Projects.ServiceAccounts.Delete("projects/" + g.projectID + "/serviceAccounts/" + sa.Email).Context(ctx).Do()
			if err != nil {
				return err
			}
			break
		}
	}
	return nil
}

type awsClient struct {
	svc    *s3.Client
	iam    *iam.Client
	region string
}

func (a *awsClient) auth(ctx context.Context, cfg *config.Storage) error {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return err
	}
	a.region = region
	a.svc = s3.NewFromConfig(awsCfg)
	a.iam = iam.NewFromConfig(awsCfg)
	return nil
}

func (a *awsClient) Provider() config.StorageProvider {
	return config.StorageS3
}

func (a *awsClient) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := a.svc.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, bucket := range buckets.Buckets {
		names = append(names, *bucket.Name)
	}
	return names, nil
}

func (a *awsClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	_, err := a.svc.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucketName})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (a *awsClient) DeleteBucket(ctx context.Context, bucketName string) error {
	_, err := a.svc.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucketName})
	return err
}

func (a *awsClient) DeleteUser(ctx context.Context, userName string) error {
	_, err := a.iam.DeleteUser(ctx, &iam.DeleteUserInput{UserName: &userName})
	return err
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) auth(cfg *config.Storage) error {
	var err error
	m.client, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.TLS,
	})
	return err
}

func (m *minioClient) Provider() config.StorageProvider {
	return config.StorageMinio
}

func (m *minioClient) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := m.client.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, bucket := range buckets {
		names = append(names, bucket.Name)
	}
	return names, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return m.client.BucketExists(ctx, bucketName)
}

func (m *minioClient) DeleteBucket(ctx context.Context, bucketName string) error {
	return m.client.RemoveBucket(ctx, bucketName)
}

func (m *minioClient) DeleteUser(ctx context.Context, userName string) error {
	// Minio users are managed by the workflow templates themselves.
	return nil
}
