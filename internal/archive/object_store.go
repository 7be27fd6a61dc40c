package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore offloads result payloads to S3-compatible storage so the
// relational rows stay small.
type ObjectStore struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

type ObjectConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return &ObjectStore{client: client, bucketName: bucket, region: region}, nil
}

// NewObjectStoreFromEnv returns (nil, nil) when the endpoint is unset.
func NewObjectStoreFromEnv() (*ObjectStore, error) {
	endpoint := strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	return NewObjectStore(ObjectConfig{
		Endpoint:  endpoint,
		Region:    os.Getenv("ARCHIVE_S3_REGION"),
		AccessKey: os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("ARCHIVE_S3_SECRET_KEY"),
		Bucket:    os.Getenv("ARCHIVE_S3_BUCKET"),
		UseSSL:    strings.EqualFold(os.Getenv("ARCHIVE_S3_USE_SSL"), "true"),
	})
}

func (o *ObjectStore) ensureBucket(ctx context.Context) error {
	if o == nil || o.client == nil {
		return fmt.Errorf("object store is nil")
	}
	o.initOnce.Do(func() {
		exists, err := o.client.BucketExists(ctx, o.bucketName)
		if err != nil {
			o.initErr = err
			return
		}
		if exists {
			return
		}
		o.initErr = o.client.MakeBucket(ctx, o.bucketName, minio.MakeBucketOptions{Region: o.region})
	})
	return o.initErr
}

func (o *ObjectStore) Put(ctx context.Context, runID, resultHash string, content []byte) error {
	if o == nil {
		return fmt.Errorf("object store is nil")
	}
	runID = strings.TrimSpace(runID)
	resultHash = strings.TrimSpace(resultHash)
	if runID == "" || resultHash == "" {
		return fmt.Errorf("run id and result hash are required")
	}
	if err := o.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if content == nil {
		content = []byte{}
	}
	key := payloadKey(runID, resultHash)
	_, err := o.client.PutObject(ctx, o.bucketName, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (o *ObjectStore) Get(ctx context.Context, runID, resultHash string) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("object store is nil")
	}
	if err := o.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := o.client.GetObject(ctx, o.bucketName, payloadKey(runID, resultHash), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
