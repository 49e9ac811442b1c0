package store

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"mediarelay/internal/models"
	"mediarelay/internal/retries"
)

// ErrArtifactNotFound is returned for unknown artifact ids.
var ErrArtifactNotFound = errors.New("artifact not found")

type ArtifactStore interface {
	Create(ctx context.Context, artifact models.Artifact) error
	Get(ctx context.Context, artifactID string) (*models.Artifact, error)
	Delete(ctx context.Context, artifactID string) error
}

type ArtifactStoreImpl struct {
	client    *dynamodb.Client
	tableName string
}

func NewArtifactStore(client *dynamodb.Client, tableName string) *ArtifactStoreImpl {
	return &ArtifactStoreImpl{
		client:    client,
		tableName: tableName,
	}
}

func (s *ArtifactStoreImpl) Create(ctx context.Context, artifact models.Artifact) error {
	item, err := attributevalue.MarshalMap(artifact)
	if err != nil {
		return err
	}

	return retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(artifact_id)"),
			})
			return err
		},
		retries.IsRetriableDbError,
	)
}

func (s *ArtifactStoreImpl) Get(ctx context.Context, artifactID string) (*models.Artifact, error) {
	var artifact models.Artifact

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
				TableName: aws.String(s.tableName),
				Key:       artifactKey(artifactID),
			})
			if err != nil {
				return err
			}
			if out.Item == nil {
				return ErrArtifactNotFound
			}
			return attributevalue.UnmarshalMap(out.Item, &artifact)
		},
		retries.IsRetriableDbError,
	)

	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *ArtifactStoreImpl) Delete(ctx context.Context, artifactID string) error {
	return retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key:       artifactKey(artifactID),
			})
			return err
		},
		retries.IsRetriableDbError,
	)
}

func artifactKey(artifactID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"artifact_id": &types.AttributeValueMemberS{Value: artifactID},
	}
}
