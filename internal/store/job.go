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

	"mediarelay/internal/models"
	"mediarelay/internal/retries"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("publish job not found")

// ErrStaleTransition is returned when a state update would move a job
// backwards or re-terminate it. Transitions are monotonic forward only.
var ErrStaleTransition = errors.New("stale job state transition")

type JobStore interface {
	Create(ctx context.Context, job models.PublishJob) error
	Get(ctx context.Context, jobID string) (*models.PublishJob, error)
	UpdateState(ctx context.Context, jobID, newState string, attempts int, lastError string, terminalAt time.Time) error
	ListNonTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.PublishJob, error)
}

type JobStoreImpl struct {
	client    *dynamodb.Client
	tableName string
}

func NewJobStore(client *dynamodb.Client, tableName string) *JobStoreImpl {
	return &JobStoreImpl{
		client:    client,
		tableName: tableName,
	}
}

func (s *JobStoreImpl) Create(ctx context.Context, job models.PublishJob) error {
	item, err := attributevalue.MarshalMap(job)
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
				ConditionExpression: aws.String("attribute_not_exists(job_id)"),
			})
			return err
		},
		retries.IsRetriableDbError,
	)
}

func (s *JobStoreImpl) Get(ctx context.Context, jobID string) (*models.PublishJob, error) {
	var job models.PublishJob

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
				TableName: aws.String(s.tableName),
				Key:       jobKey(jobID),
			})
			if err != nil {
				return err
			}
			if out.Item == nil {
				return ErrJobNotFound
			}
			return attributevalue.UnmarshalMap(out.Item, &job)
		},
		retries.IsRetriableDbError,
	)

	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateState persists a forward transition. The condition expression
// pins the current state to a valid predecessor of newState, so a
// concurrent poller or reconciler can never move a job backwards or
// flip a terminal state.
func (s *JobStoreImpl) UpdateState(ctx context.Context, jobID, newState string, attempts int, lastError string, terminalAt time.Time) error {
	allowed := allowedPredecessors(newState)
	if len(allowed) == 0 {
		return fmt.Errorf("unknown job state: %s", newState)
	}

	update := "SET #st = :new, attempts = :attempts"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: newState},
		":attempts": &types.AttributeValueMemberN{Value: strconv.Itoa(attempts)},
	}

	condition := "#st IN ("
	for i, prev := range allowed {
		placeholder := fmt.Sprintf(":prev%d", i)
		if i > 0 {
			condition += ", "
		}
		condition += placeholder
		values[placeholder] = &types.AttributeValueMemberS{Value: prev}
	}
	condition += ")"

	if lastError != "" {
		update += ", last_error = :err"
		values[":err"] = &types.AttributeValueMemberS{Value: lastError}
	}
	if models.TerminalState(newState) {
		marshaled, err := attributevalue.Marshal(terminalAt)
		if err != nil {
			return err
		}
		update += ", terminal_at = :term"
		values[":term"] = marshaled
	}

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 aws.String(s.tableName),
				Key:                       jobKey(jobID),
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String(condition),
				ExpressionAttributeNames:  map[string]string{"#st": "state"},
				ExpressionAttributeValues: values,
			})
			return err
		},
		retries.IsRetriableDbError,
	)

	if isConditionFailed(err) {
		return ErrStaleTransition
	}
	return err
}

// ListNonTerminalBefore scans for jobs still SUBMITTED or PROCESSING
// that were created before cutoff. The reconciler resumes polling these.
func (s *JobStoreImpl) ListNonTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.PublishJob, error) {
	marshaled, err := attributevalue.Marshal(cutoff)
	if err != nil {
		return nil, err
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("#st IN (:submitted, :processing) AND created_at < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":submitted":  &types.AttributeValueMemberS{Value: models.JobSubmitted},
			":processing": &types.AttributeValueMemberS{Value: models.JobProcessing},
			":cutoff":     marshaled,
		},
	})

	var jobs []models.PublishJob
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale jobs: %w", err)
		}
		var batch []models.PublishJob
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		jobs = append(jobs, batch...)
	}
	return jobs, nil
}

func allowedPredecessors(newState string) []string {
	switch newState {
	case models.JobProcessing:
		return []string{models.JobSubmitted, models.JobProcessing}
	case models.JobComplete, models.JobFailed:
		return []string{models.JobSubmitted, models.JobProcessing}
	default:
		return nil
	}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}
