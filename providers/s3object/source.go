package s3object

import (
	"context"
	"fmt"
	"io"
	"strings"

	"interaction-pipeline/storage"
)

// Scheme ist das URI-Präfix von S3-Quellen.
const Scheme = "s3://"

// Source liest eine CSV-Datei aus einem S3-Bucket.
type Source struct {
	client storage.ObjectGetter
	bucket string
	key    string
}

// New erstellt eine S3-Quelle.
func New(client storage.ObjectGetter, bucket, key string) *Source {
	return &Source{client: client, bucket: bucket, key: key}
}

// ParseURI zerlegt s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return "", "", fmt.Errorf("%q is not an s3 uri", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%q must have the form s3://bucket/key", uri)
	}
	return bucket, key, nil
}

// Name gibt die s3-URI zurück.
func (s *Source) Name() string {
	return Scheme + s.bucket + "/" + s.key
}

// Open lädt das Objekt.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	return storage.OpenObject(ctx, s.client, s.bucket, s.key)
}
