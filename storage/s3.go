package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"interaction-pipeline/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectInfo beschreibt ein Objekt im Archiv.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ObjectStore ist der Ausschnitt des Archivs, den Pipeline und Audit-Export brauchen.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// NewS3Client erstellt einen S3-Client für den konfigurierten Archiv-Endpunkt.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3URL != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3URL)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store implementiert ObjectStore für einen Bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Store erstellt einen ObjectStore auf dem Archiv-Bucket.
func NewS3Store(client *s3.Client, cfg *config.Config) *S3Store {
	return &S3Store{client: client, bucket: cfg.ArchiveS3Bucket, baseURL: cfg.ArchiveS3URL}
}

// Put lädt Daten ins S3 hoch und gibt die URI zurück.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// List liefert alle Objekte unter prefix, neueste zuerst.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
	}
	SortNewestFirst(out)
	return out, nil
}

// Delete entfernt ein Objekt.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// SortNewestFirst sortiert nach LastModified absteigend, bei Gleichstand nach Key absteigend.
func SortNewestFirst(objs []ObjectInfo) {
	sort.Slice(objs, func(i, j int) bool {
		if objs[i].LastModified.Equal(objs[j].LastModified) {
			return objs[i].Key > objs[j].Key
		}
		return objs[i].LastModified.After(objs[j].LastModified)
	})
}

// Rotate löscht unter prefix alle Objekte bis auf die keep neuesten.
// Gibt die gelöschten Keys zurück; Fehler beim Löschen einzelner Objekte brechen nicht ab.
func Rotate(ctx context.Context, store ObjectStore, prefix string, keep int) ([]string, error) {
	objs, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(objs) <= keep {
		return nil, nil
	}
	SortNewestFirst(objs)

	var deleted []string
	var firstErr error
	for _, obj := range objs[keep:] {
		if err := store.Delete(ctx, obj.Key); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete %s: %w", obj.Key, err)
			}
			continue
		}
		deleted = append(deleted, obj.Key)
	}
	return deleted, firstErr
}

// ObjectGetter ist der Teil des S3-Clients, den Lesezugriffe brauchen.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OpenObject öffnet ein Objekt zum Lesen.
func OpenObject(ctx context.Context, client ObjectGetter, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}
