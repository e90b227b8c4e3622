package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// LedgerEventMessage is the envelope published for every committed ledger/settlement event.
type LedgerEventMessage struct {
	EventId       int             `json:"event_id"`
	EventName     string          `json:"event_name"`
	AggregateType string          `json:"aggregate_type"`
	AggregateId   int             `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// GetClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	return getPubSubClient(ctx)
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}

		if attempt >= 5 {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// PubSubPublisher publishes ledger events to PUBSUB_TOPIC.
type PubSubPublisher struct {
	Topic string
}

func NewPubSubPublisherFromEnv() (*PubSubPublisher, error) {
	topicName := os.Getenv("PUBSUB_TOPIC")
	if topicName == "" {
		return nil, errors.New("PUBSUB_TOPIC is required")
	}
	return &PubSubPublisher{Topic: topicName}, nil
}

// Publish returns the server-assigned message id. Ordering key keeps events of one aggregate in order.
func (p *PubSubPublisher) Publish(ctx context.Context, orderingKey string, data []byte, attrs map[string]string) (string, error) {
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	t := client.Topic(p.Topic)
	t.EnableMessageOrdering = orderingKey != ""
	result := t.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})
	id, err := result.Get(ctx)
	if err != nil && orderingKey != "" {
		// A failed ordered publish pauses the key until resumed.
		t.ResumePublish(orderingKey)
	}
	return id, err
}
