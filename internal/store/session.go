package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"mediarelay/internal/errs"
	"mediarelay/internal/models"
	"mediarelay/internal/retries"
)

// ErrSessionExists is returned by Create when the session id is taken.
// The first-chunk race resolves by the loser falling through to
// RecordChunk against the winner's record.
var ErrSessionExists = errors.New("session already exists")

type SessionStore interface {
	Create(ctx context.Context, session models.UploadSession) error
	Get(ctx context.Context, sessionID string) (*models.UploadSession, error)
	RecordChunk(ctx context.Context, sessionID string, index int, sizeBytes int64) (*models.UploadSession, error)
	TryMarkMerging(ctx context.Context, sessionID string) error
	ReleaseMerge(ctx context.Context, sessionID string) error
	MarkConsumed(ctx context.Context, sessionID, artifactID string) error
	Delete(ctx context.Context, sessionID string) error
	ListExpired(ctx context.Context, now time.Time) ([]models.UploadSession, error)
}

type SessionStoreImpl struct {
	client    *dynamodb.Client
	tableName string
}

func NewSessionStore(client *dynamodb.Client, tableName string) *SessionStoreImpl {
	return &SessionStoreImpl{
		client:    client,
		tableName: tableName,
	}
}

func (s *SessionStoreImpl) Create(ctx context.Context, session models.UploadSession) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return err
	}

	err = retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(session_id)"),
			})
			return err
		},
		retries.IsRetriableDbError,
	)

	if isConditionFailed(err) {
		return ErrSessionExists
	}
	return err
}

func (s *SessionStoreImpl) Get(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	var session models.UploadSession

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
				TableName: aws.String(s.tableName),
				Key:       sessionKey(sessionID),
			})
			if err != nil {
				return err
			}
			if out.Item == nil {
				return errs.ErrSessionNotFound
			}
			return attributevalue.UnmarshalMap(out.Item, &session)
		},
		retries.IsRetriableDbError,
	)

	if err != nil {
		return nil, err
	}
	return &session, nil
}

// RecordChunk atomically adds index to the received set and records the
// chunk size, returning the post-update session. Completeness must be
// computed from the returned record, not a separate read, so two chunks
// arriving together cannot both observe a stale count.
func (s *SessionStoreImpl) RecordChunk(ctx context.Context, sessionID string, index int, sizeBytes int64) (*models.UploadSession, error) {
	var session models.UploadSession

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:           aws.String(s.tableName),
				Key:                 sessionKey(sessionID),
				UpdateExpression:    aws.String("ADD received_indices :idx SET chunk_sizes.#i = :size"),
				ConditionExpression: aws.String("attribute_exists(session_id)"),
				ExpressionAttributeNames: map[string]string{
					"#i": strconv.Itoa(index),
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":idx": &types.AttributeValueMemberNS{
						Value: []string{strconv.Itoa(index)},
					},
					":size": &types.AttributeValueMemberN{
						Value: strconv.FormatInt(sizeBytes, 10),
					},
				},
				ReturnValues: types.ReturnValueAllNew,
			})
			if err != nil {
				return err
			}
			return attributevalue.UnmarshalMap(out.Attributes, &session)
		},
		retries.IsRetriableDbError,
	)

	if isConditionFailed(err) {
		return nil, errs.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// TryMarkMerging acquires the per-session merge flag with a conditional
// pending -> merging transition. Exactly one caller wins.
func (s *SessionStoreImpl) TryMarkMerging(ctx context.Context, sessionID string) error {
	err := s.transitionMergeState(ctx, sessionID, models.MergePending, models.MergeMerging, "")
	if isConditionFailed(err) {
		return errs.ErrMergeInProgress
	}
	return err
}

// ReleaseMerge returns the flag to pending after a failed merge attempt
// so the caller can retry.
func (s *SessionStoreImpl) ReleaseMerge(ctx context.Context, sessionID string) error {
	err := s.transitionMergeState(ctx, sessionID, models.MergeMerging, models.MergePending, "")
	if isConditionFailed(err) {
		return nil
	}
	return err
}

// MarkConsumed finalizes the session after a successful merge, recording
// the artifact that replaced it.
func (s *SessionStoreImpl) MarkConsumed(ctx context.Context, sessionID, artifactID string) error {
	return s.transitionMergeState(ctx, sessionID, models.MergeMerging, models.MergeConsumed, artifactID)
}

func (s *SessionStoreImpl) transitionMergeState(ctx context.Context, sessionID, from, to, artifactID string) error {
	update := "SET merge_state = :to"
	values := map[string]types.AttributeValue{
		":to":   &types.AttributeValueMemberS{Value: to},
		":from": &types.AttributeValueMemberS{Value: from},
	}
	if artifactID != "" {
		update += ", artifact_id = :aid"
		values[":aid"] = &types.AttributeValueMemberS{Value: artifactID}
	}

	return retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 aws.String(s.tableName),
				Key:                       sessionKey(sessionID),
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String("merge_state = :from"),
				ExpressionAttributeValues: values,
			})
			return err
		},
		retries.IsRetriableDbError,
	)
}

func (s *SessionStoreImpl) Delete(ctx context.Context, sessionID string) error {
	return retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key:       sessionKey(sessionID),
			})
			return err
		},
		retries.IsRetriableDbError,
	)
}

// ListExpired scans for unconsumed sessions past their deadline. Used by
// the background sweeper to reclaim staged chunks.
func (s *SessionStoreImpl) ListExpired(ctx context.Context, now time.Time) ([]models.UploadSession, error) {
	cutoff, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, err
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("expires_at < :now AND merge_state <> :consumed"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":      cutoff,
			":consumed": &types.AttributeValueMemberS{Value: models.MergeConsumed},
		},
	})

	var sessions []models.UploadSession
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired sessions: %w", err)
		}
		var batch []models.UploadSession
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		sessions = append(sessions, batch...)
	}
	return sessions, nil
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
	}
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}
