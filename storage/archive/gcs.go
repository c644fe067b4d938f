package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"

	"github.com/como-project/como/cmn"
)

// GCSBackend archives chunks to a Google Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

func NewGCSBackend(ctx context.Context, bucket string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "construct gcs client")
	}
	return &GCSBackend{client: client, bucket: bucket}, nil
}

func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return cmn.Wrap(cmn.KindIO, err, "gcs put "+key)
	}
	if err := w.Close(); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "gcs close writer for "+key)
	}
	return nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "gcs get "+key)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "gcs read body for "+key)
	}
	return data, nil
}
