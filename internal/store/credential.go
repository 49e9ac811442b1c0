package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"mediarelay/internal/errs"
	"mediarelay/internal/models"
	"mediarelay/internal/retries"
)

// CredentialStore is a read/write collaborator keyed by (owner, platform).
// No business logic lives here; the lifecycle manager owns refresh policy.
type CredentialStore interface {
	Get(ctx context.Context, ownerID, platform string) (*models.Credential, error)
	Put(ctx context.Context, cred models.Credential) error
}

type CredentialStoreImpl struct {
	client    *dynamodb.Client
	tableName string
}

func NewCredentialStore(client *dynamodb.Client, tableName string) *CredentialStoreImpl {
	return &CredentialStoreImpl{
		client:    client,
		tableName: tableName,
	}
}

func (s *CredentialStoreImpl) Get(ctx context.Context, ownerID, platform string) (*models.Credential, error) {
	var cred models.Credential

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
				TableName: aws.String(s.tableName),
				Key:       credentialKey(ownerID, platform),
			})
			if err != nil {
				return err
			}
			if out.Item == nil {
				return errs.ErrCredentialNotFound
			}
			return attributevalue.UnmarshalMap(out.Item, &cred)
		},
		retries.IsRetriableDbError,
	)

	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Put overwrites the stored credential. The lifecycle manager serializes
// refreshes per owner, so last-writer-wins is safe here.
func (s *CredentialStoreImpl) Put(ctx context.Context, cred models.Credential) error {
	item, err := attributevalue.MarshalMap(cred)
	if err != nil {
		return err
	}

	return retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(s.tableName),
				Item:      item,
			})
			return err
		},
		retries.IsRetriableDbError,
	)
}

func credentialKey(ownerID, platform string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"owner_id": &types.AttributeValueMemberS{Value: ownerID},
		"platform": &types.AttributeValueMemberS{Value: platform},
	}
}
