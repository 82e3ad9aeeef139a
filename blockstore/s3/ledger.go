package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another archiver committed an index
// version concurrently. The caller should reload the latest index and retry.
var ErrConcurrentCommit = errors.New("concurrent archive commit detected")

// DDBClient is the subset of the DynamoDB API the ledger uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Ledger provides atomic CURRENT-pointer semantics for archive index
// snapshots via DynamoDB conditional writes.
//
// S3 lacks compare-and-swap, so archivers that periodically publish an index
// object ("archive-index-000042.json") record each publication here. The
// conditional put on the version sort key guarantees that of two concurrent
// commits exactly one wins; the loser gets ErrConcurrentCommit.
//
// Table schema:
//   - Partition key: archive_uri (string) — the s3://bucket/prefix identity
//   - Sort key: version (number) — monotonically increasing commit version
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name revgo-archive-commits \
//	  --attribute-definitions AttributeName=archive_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=archive_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Ledger struct {
	client     DDBClient
	tableName  string
	archiveURI string
}

// NewLedger creates a commit ledger for the archive at archiveURI
// ("s3://bucket/prefix").
func NewLedger(client DDBClient, tableName, archiveURI string) *Ledger {
	return &Ledger{
		client:     client,
		tableName:  tableName,
		archiveURI: archiveURI,
	}
}

// Latest returns the most recently committed version and index key.
// A zero version means nothing has been committed yet.
func (l *Ledger) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("archive_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: l.archiveURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query archive ledger: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in archive ledger")
	}
	keyAttr, ok := item["index_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid index_key attribute in archive ledger")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse ledger version: %w", err)
	}
	return version, keyAttr.Value, nil
}

// Commit atomically records indexKey as index version next. Callers derive
// next from Latest; two publishers that both derived the same next collide
// at the conditional put and exactly one wins.
func (l *Ledger) Commit(ctx context.Context, next uint64, indexKey string) error {
	// Conditional put: only succeed if this version doesn't exist yet.
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"archive_uri": &types.AttributeValueMemberS{Value: l.archiveURI},
			"version":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next)},
			"index_key":   &types.AttributeValueMemberS{Value: indexKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("commit archive index: %w", err)
	}
	return nil
}
