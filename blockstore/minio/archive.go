package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/revgo/blockstore"
)

// Archive implements blockstore.Archive on MinIO.
type Archive struct {
	client  *minio.Client
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ blockstore.Archive = (*Archive)(nil)

// NewArchive creates a new MinIO archive.
// rootPrefix is prepended to all keys (e.g. "docs-archive/").
func NewArchive(client *minio.Client, bucket, rootPrefix string) (*Archive, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Archive{
		client:  client,
		bucket:  bucket,
		prefix:  rootPrefix,
		encoder: enc,
		decoder: dec,
	}, nil
}

func (a *Archive) key(h string) string {
	return path.Join(a.prefix, "blocks", h)
}

// Store uploads a zstd-compressed block. Storing an existing hash is a
// no-op: the content address guarantees the bytes are identical.
func (a *Archive) Store(ctx context.Context, h string, content []byte) error {
	_, err := a.client.StatObject(ctx, a.bucket, a.key(h), minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	compressed := a.encoder.EncodeAll(content, nil)

	_, err = a.client.PutObject(ctx, a.bucket, a.key(h),
		bytes.NewReader(compressed), int64(len(compressed)), minio.PutObjectOptions{})
	return err
}

// Load downloads and decompresses an archived block.
func (a *Archive) Load(ctx context.Context, h string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, a.key(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	compressed, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, blockstore.ErrNotFound
		}
		return nil, err
	}
	content, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress archived block %s: %w", h, err)
	}
	return content, nil
}

// Delete removes an archived block. Absent objects are not an error.
func (a *Archive) Delete(ctx context.Context, h string) error {
	err := a.client.RemoveObject(ctx, a.bucket, a.key(h), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the archived content addresses.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	fullPrefix := path.Join(a.prefix, "blocks") + "/"

	var hashes []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		hashes = append(hashes, path.Base(obj.Key))
	}
	sort.Strings(hashes)
	return hashes, nil
}

func isNotFound(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
}
