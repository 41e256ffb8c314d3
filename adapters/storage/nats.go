package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// ObjectStore is the subset of jetstream.ObjectStore used by NATSObjects.
type ObjectStore interface {
	Put(ctx context.Context, meta jetstream.ObjectMeta, r io.Reader) (*jetstream.ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}

// NATSObjects is the secondary cloud provider: a JetStream object store
// bucket.
type NATSObjects struct {
	store   ObjectStore
	bucket  string
	baseURL string
}

// NewNATSObjects wraps store. A nil store yields an unconfigured provider.
func NewNATSObjects(store ObjectStore, cfg config.NATSConfig) *NATSObjects {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "nats://" + cfg.ObjectBucket
	}
	return &NATSObjects{store: store, bucket: cfg.ObjectBucket, baseURL: base}
}

// OpenObjectStore creates (or reuses) the configured bucket on nc.
func OpenObjectStore(ctx context.Context, nc *nats.Conn, bucket string) (jetstream.ObjectStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "nats.jetstream", err)
	}
	store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "optimized image variants",
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "nats.object_store", err)
	}
	return store, nil
}

func (n *NATSObjects) Name() string               { return "nats" }
func (n *NATSObjects) Target() core.StorageTarget { return core.TargetCloudSecondary }
func (n *NATSObjects) Configured() bool           { return n.store != nil }

func (n *NATSObjects) Put(ctx context.Context, key core.StorageKey, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "nats.put", err)
	}
	if !n.Configured() {
		return "", apperrors.New(apperrors.CategoryStorage, "nats.put", apperrors.ErrProviderNotConfigured)
	}
	name := key.Bucket + "/" + key.Path
	hdr := nats.Header{}
	hdr.Set("Content-Type", contentType)
	_, err := n.store.Put(ctx, jetstream.ObjectMeta{Name: name, Headers: hdr}, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, context.Canceled) {
			return "", apperrors.Wrap(apperrors.CategoryStorage, "nats.put", err)
		}
		return "", apperrors.Transient("nats.put", err)
	}
	return n.baseURL + "/" + name, nil
}

func (n *NATSObjects) Delete(ctx context.Context, key core.StorageKey) error {
	if !n.Configured() {
		return nil
	}
	err := n.store.Delete(ctx, key.Bucket+"/"+key.Path)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil
	}
	return apperrors.Wrap(apperrors.CategoryStorage, "nats.delete", err)
}

var _ core.StorageProvider = (*NATSObjects)(nil)
