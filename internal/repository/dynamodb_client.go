package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"realty-bot/internal/domain"
)

const (
	skSession   = "SESSION"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by SessionStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SessionStore keeps one conversation transcript item per lead.
type SessionStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewSessionStore creates a SessionStore over tableName.
func NewSessionStore(api dynamodbAPI, tableName string) (*SessionStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &SessionStore{api: api, tableName: tableName, now: time.Now}, nil
}

// leadPK returns the DynamoDB partition key for a lead's session.
func leadPK(leadID string) string {
	return "LEAD#" + leadID
}

func (s *SessionStore) key(leadID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: leadPK(leadID)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
}

// LoadTranscript returns the stored transcript, or an empty one when the
// lead has no session yet.
func (s *SessionStore) LoadTranscript(ctx context.Context, leadID string) ([]domain.ChatMessage, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, errors.New("repository: LoadTranscript: lead id is required")
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(leadID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadTranscript get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return []domain.ChatMessage{}, nil
	}

	raw, err := strAttr(out.Item, "transcript")
	if err != nil {
		return nil, fmt.Errorf("repository: LoadTranscript: %w", err)
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("repository: LoadTranscript decode transcript: %w", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// SaveTranscript replaces the lead's session in a single write. A write
// carrying an updatedAt older than the stored one is rejected with
// domain.ErrConflict.
func (s *SessionStore) SaveTranscript(ctx context.Context, leadID string, messages []domain.ChatMessage, updatedAt time.Time) error {
	if strings.TrimSpace(leadID) == "" {
		return errors.New("repository: SaveTranscript: lead id is required")
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("repository: SaveTranscript encode transcript: %w", err)
	}

	stamp := strconv.FormatInt(updatedAt.UTC().UnixMilli(), 10)
	item := s.key(leadID)
	item["leadId"] = &types.AttributeValueMemberS{Value: leadID}
	item["transcript"] = &types.AttributeValueMemberS{Value: string(raw)}
	item["messageCount"] = &types.AttributeValueMemberN{Value: strconv.Itoa(len(messages))}
	item["updatedAt"] = &types.AttributeValueMemberN{Value: stamp}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlValue(), 10)}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR updatedAt <= :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberN{Value: stamp},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: SaveTranscript: stale session for lead %s: %w", leadID, domain.ErrConflict)
		}
		return fmt.Errorf("repository: SaveTranscript: %w", err)
	}
	return nil
}

// ttlValue returns a Unix timestamp 30 days in the future.
func (s *SessionStore) ttlValue() int64 {
	return s.now().Add(ttlDuration).Unix()
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	sv, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return sv.Value, nil
}
