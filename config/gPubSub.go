package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// AuditMessage is the payload published for every audit_logs row.
type AuditMessage struct {
	ID            int             `json:"id"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityId      int             `json:"entity_id"`
	OldValues     json.RawMessage `json:"old_values,omitempty"`
	NewValues     json.RawMessage `json:"new_values,omitempty"`
	CorrelationId string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

const pubsubConnectAttempts = 5

func pubSubProjectID() string {
	return envOrDefault("PUBSUB_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT"))
}

// AuditTopic returns the configured topic name, "" when publishing is disabled.
func AuditTopic() string {
	return os.Getenv("AUDIT_PUBSUB_TOPIC")
}

func pubSubOptions() []option.ClientOption {
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	return nil
}

// GetPubSubClient lazily builds the shared client, retrying a few times.
// Application Default Credentials are used unless PUBSUB_CREDENTIALS_JSON is set.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := pubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	logger := GetLogger().WithFields(logrus.Fields{"field": "pubsub", "project_id": projectID})

	for attempt := 1; ; attempt++ {
		c, err := pubsub.NewClient(ctx, projectID, pubSubOptions()...)
		if err == nil {
			pubsubClient = c
			logger.WithField("attempt", attempt).Info("pubsub client ready")
			return c, nil
		}
		if attempt >= pubsubConnectAttempts {
			return nil, err
		}
		sleep := backoff(attempt)
		logger.WithField("attempt", attempt).Warn("pubsub client init failed: " + err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// PublishAuditWithResult publishes msg to topicName and waits for the server-assigned message id.
func PublishAuditWithResult(ctx context.Context, topicName string, msg AuditMessage) (string, error) {
	if topicName == "" {
		return "", errors.New("AUDIT_PUBSUB_TOPIC is required")
	}
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	attrs := map[string]string{
		"entity_type": msg.EntityType,
		"action":      msg.Action,
	}
	if msg.CorrelationId != "" {
		attrs["correlation_id"] = msg.CorrelationId
	}
	return client.Topic(topicName).Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
}
