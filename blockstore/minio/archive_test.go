package minio

import (
	"bytes"
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/revgo/blockstore"
	ihash "github.com/hupe1980/revgo/internal/hash"
)

// TestMinioArchive_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioArchive_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-revgo"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	_, err = client.ListBuckets(ctx)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	archive, err := NewArchive(client, bucket, "archive-test")
	require.NoError(t, err)

	content := bytes.Repeat([]byte("cold documentation content\n"), 100)
	h := ihash.Content(content)

	// Store, load, list, delete round-trip
	require.NoError(t, archive.Store(ctx, h, content))

	got, err := archive.Load(ctx, h)
	require.NoError(t, err)
	require.Equal(t, content, got)

	hashes, err := archive.List(ctx)
	require.NoError(t, err)
	require.Contains(t, hashes, h)

	require.NoError(t, archive.Delete(ctx, h))
	_, err = archive.Load(ctx, h)
	require.ErrorIs(t, err, blockstore.ErrNotFound)
}
