package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"whatsapp-relay/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skProfile    = "PROFILE"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client wraps a DynamoDB table holding one profile item per sender.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the DynamoDB partition key for a sender.
func userPK(phoneNumber string) string {
	return pkPrefixUser + phoneNumber
}

func userKey(phoneNumber string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(phoneNumber)},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var now = func() time.Time {
	return time.Now().UTC()
}

// GetOrCreateUser returns the stored profile for phoneNumber, inserting a
// fresh one on first contact. A lost insert race is resolved by re-reading the
// winner's record.
func (c *Client) GetOrCreateUser(ctx context.Context, phoneNumber string) (domain.User, error) {
	if phoneNumber == "" {
		return domain.User{}, errors.New("repository: GetOrCreateUser: phone number is required")
	}

	user, found, err := c.getUser(ctx, phoneNumber)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetOrCreateUser: %w", err)
	}
	if found {
		return user, nil
	}

	user = NewUser(phoneNumber)
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                userItem(user),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return user, nil
	}

	var conflict *types.ConditionalCheckFailedException
	if !errors.As(err, &conflict) {
		return domain.User{}, fmt.Errorf("repository: GetOrCreateUser put item: %w", err)
	}

	user, found, err = c.getUser(ctx, phoneNumber)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetOrCreateUser re-read: %w", err)
	}
	if !found {
		return domain.User{}, errors.New("repository: GetOrCreateUser: record vanished after conflicting insert")
	}
	return user, nil
}

func (c *Client) getUser(ctx context.Context, phoneNumber string) (domain.User, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(phoneNumber),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, false, nil
	}
	user, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("unmarshal: %w", err)
	}
	return user, true, nil
}

// RecordMessage bumps the message counter and last-activity timestamp of an
// existing profile. It never creates a profile.
func (c *Client) RecordMessage(ctx context.Context, phoneNumber string) error {
	if phoneNumber == "" {
		return errors.New("repository: RecordMessage: phone number is required")
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 userKey(phoneNumber),
		UpdateExpression:    aws.String("ADD messageCount :one SET lastMessageAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberS{Value: timestamp(now())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: RecordMessage: %w", err)
	}
	return nil
}

// Ping checks that the table is reachable and ACTIVE.
func (c *Client) Ping(ctx context.Context) error {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.tableName),
	})
	if err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	if out == nil || out.Table == nil {
		return errors.New("repository: Ping: empty table description")
	}
	if out.Table.TableStatus != types.TableStatusActive {
		return fmt.Errorf("repository: Ping: table status %s", out.Table.TableStatus)
	}
	return nil
}

// NewUser constructs the default profile for a first-time sender.
func NewUser(phoneNumber string) domain.User {
	return domain.User{
		PhoneNumber:  phoneNumber,
		CreatedAt:    timestamp(now()),
		MessageCount: 0,
	}
}

func userItem(u domain.User) map[string]types.AttributeValue {
	item := userKey(u.PhoneNumber)
	item["phoneNumber"] = &types.AttributeValueMemberS{Value: u.PhoneNumber}
	item["createdAt"] = &types.AttributeValueMemberS{Value: u.CreatedAt}
	item["messageCount"] = &types.AttributeValueMemberN{Value: strconv.Itoa(u.MessageCount)}
	if u.LastMessageAt == nil {
		item["lastMessageAt"] = &types.AttributeValueMemberNULL{Value: true}
	} else {
		item["lastMessageAt"] = &types.AttributeValueMemberS{Value: *u.LastMessageAt}
	}
	return item
}

// itemToUser converts a DynamoDB attribute map to a User, dropping PK/SK.
func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	phone, err := strAttr(item, "phoneNumber")
	if err != nil {
		return domain.User{}, err
	}
	createdAt, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.User{}, err
	}
	createdAt, err = normalizeTimestamp(createdAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: attribute %q: %w", "createdAt", err)
	}

	count := 0
	if _, ok := item["messageCount"]; ok {
		count, err = intAttr(item, "messageCount")
		if err != nil {
			return domain.User{}, err
		}
	}

	var last *string
	if v, ok := item["lastMessageAt"].(*types.AttributeValueMemberS); ok {
		ts, err := normalizeTimestamp(v.Value)
		if err != nil {
			return domain.User{}, fmt.Errorf("repository: attribute %q: %w", "lastMessageAt", err)
		}
		last = &ts
	}

	return domain.User{
		PhoneNumber:   phone,
		CreatedAt:     createdAt,
		MessageCount:  count,
		LastMessageAt: last,
	}, nil
}

// Zone-less layouts are read as UTC; older records were written that way.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func normalizeTimestamp(raw string) (string, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return timestamp(t), nil
		}
	}
	return "", fmt.Errorf("unrecognized timestamp %q", raw)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
