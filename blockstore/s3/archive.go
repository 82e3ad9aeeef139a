package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/revgo/blockstore"
)

// Client is the subset of the S3 API the archive uses.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	manager.UploadAPIClient
}

// Archive implements blockstore.Archive on S3.
type Archive struct {
	client  Client
	bucket  string
	prefix  string
	ledger  *Ledger
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ blockstore.Archive = (*Archive)(nil)

// Options configures an Archive beyond its required client and bucket.
type Options struct {
	// Ledger versions the published archive index through conditional
	// DynamoDB puts. Nil disables index publication.
	Ledger *Ledger
}

// NewArchive creates a new S3 archive.
// rootPrefix is prepended to all keys (e.g. "docs-archive/").
func NewArchive(client Client, bucket, rootPrefix string, optFns ...func(o *Options)) (*Archive, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

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
		ledger:  opts.Ledger,
		encoder: enc,
		decoder: dec,
	}, nil
}

// NewClient creates an S3 client from the default AWS configuration chain.
func NewClient(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (a *Archive) key(h string) string {
	return path.Join(a.prefix, "blocks", h)
}

// Store uploads a zstd-compressed block. Storing an existing hash is a no-op:
// the content address guarantees the bytes are identical.
func (a *Archive) Store(ctx context.Context, h string, content []byte) error {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(h)),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	compressed := a.encoder.EncodeAll(content, nil)

	uploader := manager.NewUploader(a.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(h)),
		Body:   bytes.NewReader(compressed),
	})
	return err
}

// Load downloads and decompresses an archived block.
func (a *Archive) Load(ctx context.Context, h string) ([]byte, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(h)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blockstore.ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()

	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
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
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(h)),
	})
	return err
}

// List returns the archived content addresses.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	fullPrefix := path.Join(a.prefix, "blocks") + "/"
	var hashes []string

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			hashes = append(hashes, path.Base(*obj.Key))
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// archiveIndex is the published manifest of archived blocks.
type archiveIndex struct {
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Blocks    []string  `json:"blocks"`
}

// PublishIndex uploads a manifest of the archived blocks and commits it
// through the ledger. The index object is written first; the conditional
// ledger commit then makes it the current one, so of two concurrent
// publishers exactly one wins and the loser's object is removed.
// Returns the committed index key.
func (a *Archive) PublishIndex(ctx context.Context) (string, error) {
	if a.ledger == nil {
		return "", errors.New("archive has no commit ledger configured")
	}

	blocks, err := a.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list archived blocks: %w", err)
	}

	current, _, err := a.ledger.Latest(ctx)
	if err != nil {
		return "", err
	}
	next := current + 1

	idx := archiveIndex{
		Version:   next,
		CreatedAt: time.Now().UTC(),
		Blocks:    blocks,
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return "", err
	}

	// Outside blocks/ so block listings stay unpolluted.
	key := path.Join(a.prefix, fmt.Sprintf("archive-index-%06d.json", next))
	uploader := manager.NewUploader(a.client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return "", fmt.Errorf("upload archive index: %w", err)
	}

	if err := a.ledger.Commit(ctx, next, key); err != nil {
		// The uncommitted object is unreferenced; remove it best effort.
		_, _ = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		})
		return "", err
	}
	return key, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
