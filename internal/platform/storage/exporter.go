// Package storage writes picklist exports to Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ExportedObject locates a written export.
type ExportedObject struct {
	Bucket string
	Object string
	// Download is empty when no URLSigner is configured.
	Download SignedURL
}

// Exporter writes immutable JSON objects to one bucket.
type Exporter struct {
	client *gcs.Client
	bucket string
	urls   *URLSigner
}

// NewExporter constructs an Exporter. urls may be nil.
func NewExporter(client *gcs.Client, bucket string, urls *URLSigner) (*Exporter, error) {
	if client == nil {
		return nil, errors.New("storage exporter: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &Exporter{client: client, bucket: bucket, urls: urls}, nil
}

// PutJSON writes body under object. Existing objects are never overwritten.
func (e *Exporter) PutJSON(ctx context.Context, object string, body []byte) (ExportedObject, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return ExportedObject{}, errInvalidObject
	}

	handle := e.client.Bucket(e.bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	w := handle.NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return ExportedObject{}, fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return ExportedObject{}, fmt.Errorf("storage: close %s: %w", object, err)
	}

	out := ExportedObject{Bucket: e.bucket, Object: object}
	if e.urls != nil {
		signed, err := e.urls.DownloadURL(ctx, e.bucket, object)
		if err != nil {
			return out, err
		}
		out.Download = signed
	}
	return out, nil
}

// Close releases the underlying client.
func (e *Exporter) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}
