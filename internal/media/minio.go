package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

// presignExpiry is the lifetime of a presigned GET URL, the S3 maximum.
const presignExpiry = 7 * 24 * time.Hour

// MinioConfig configures the S3-compatible provider.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	Prefix        string
}

// Minio stores media in a MinIO/S3 compatible bucket. The object key is the
// deletion token.
type Minio struct {
	client     *minio.Client
	bucket     string
	prefix     string
	publicBase string
}

// NewMinio connects to MinIO and ensures the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Minio{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Name implements Provider.
func (m *Minio) Name() string { return "minio" }

// Upload implements Provider. Objects land under <prefix>/<window>/<uuid><ext>.
func (m *Minio) Upload(ctx context.Context, f File, meta UploadMeta) (Ref, error) {
	const op = "minio.upload"
	fh, err := f.Open()
	if err != nil {
		return Ref{}, err
	}
	defer fh.Close()

	key := objectKey(m.prefix, meta.WindowID, uuid.NewString()+f.Ext)
	_, err = m.client.PutObject(ctx, m.bucket, key, fh, f.Size, minio.PutObjectOptions{
		ContentType: f.ContentType,
		UserMetadata: map[string]string{
			"window-id":  meta.WindowID,
			"message-id": meta.MessageID,
		},
	})
	if err != nil {
		return Ref{}, classifyMinio(op, err)
	}

	url, err := m.objectURL(ctx, key)
	if err != nil {
		return Ref{}, classifyMinio(op, err)
	}
	return Ref{URL: url, DeleteToken: key}, nil
}

// Delete removes the object named by token.
func (m *Minio) Delete(ctx context.Context, token string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, token, minio.RemoveObjectOptions{}); err != nil {
		return classifyMinio("minio.delete", err)
	}
	return nil
}

func (m *Minio) objectURL(ctx context.Context, key string) (string, error) {
	if m.publicBase != "" {
		return publicURL(m.publicBase, m.bucket, key), nil
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

func objectKey(prefix, windowID, name string) string {
	if windowID == "" {
		windowID = "unassigned"
	}
	return path.Join(prefix, windowID, name)
}

// publicURL builds a path-style URL below a public base such as a CDN or a
// reverse proxy in front of the bucket.
func publicURL(base, bucket, key string) string {
	return base + "/" + bucket + "/" + key
}

// classifyMinio maps S3 error responses onto the failure taxonomy.
func classifyMinio(op string, err error) error {
	if resp := minio.ToErrorResponse(err); resp.StatusCode > 0 {
		return failure.FromStatus(op, resp.StatusCode, err)
	}
	return failure.Transient(op, err)
}
