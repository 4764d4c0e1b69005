// Package stream carries tick records and learned thresholds over Redis streams.
package stream

import (
	"bathguard/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	TypeTick       = "tick"
	TypeThresholds = "thresholds"
)

// Message is one decoded stream entry
type Message struct {
	StreamID string // Redis entry id, used for XACK
	ID       string // producer assigned uuid
	Type     string
	Data     []byte
}

// Publisher appends JSON payloads to streams
type Publisher struct {
	client *redis.Client
	maxLen int64
}

// NewPublisher creates a publisher. maxLen > 0 caps each stream approximately.
func NewPublisher(client *redis.Client, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

// Publish serializes v and appends it to stream, returning the message uuid
func (p *Publisher) Publish(ctx context.Context, stream, msgType, id string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s: %w", msgType, err)
	}
	if id == "" {
		id = uuid.NewString()
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"id":   id,
			"type": msgType,
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return id, nil
}

// PublishTick assigns the tick an id when it has none and publishes it
func (p *Publisher) PublishTick(ctx context.Context, stream string, tick *models.TickRecord) error {
	if tick.ID == "" {
		tick.ID = uuid.NewString()
	}
	_, err := p.Publish(ctx, stream, TypeTick, tick.ID, tick)
	return err
}

// PublishThresholds announces an accepted threshold proposal
func (p *Publisher) PublishThresholds(ctx context.Context, stream string, lt *models.LearnedThresholds) error {
	_, err := p.Publish(ctx, stream, TypeThresholds, "", lt)
	return err
}

// Consumer reads a stream through a consumer group
type Consumer struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	count      int64
	block      time.Duration
	retryDelay time.Duration
}

func NewConsumer(client *redis.Client, stream, group, consumer string) *Consumer {
	return &Consumer{
		client:     client,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		count:      10,              // Process up to 10 messages at a time
		block:      time.Second * 5, // Block for 5 seconds if no messages
		retryDelay: time.Second,
	}
}

// SetBlock changes how long Read waits for new entries
func (c *Consumer) SetBlock(d time.Duration) {
	c.block = d
}

// EnsureGroup creates the consumer group (and the stream) if missing
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Read returns the next batch of undelivered entries; an empty batch is not an error
func (c *Consumer) Read(ctx context.Context) ([]Message, error) {
	return c.read(ctx, ">", c.block)
}

// ReadPending returns entries already delivered to this consumer but never
// acknowledged. It does not block.
func (c *Consumer) ReadPending(ctx context.Context) ([]Message, error) {
	return c.read(ctx, "0", -1)
}

// read issues XREADGROUP from id. A negative block omits BLOCK; zero would block forever.
func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    c.count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			msgs = append(msgs, decode(m))
		}
	}
	return msgs, nil
}

// Ack acknowledges processed entries
func (c *Consumer) Ack(ctx context.Context, streamIDs ...string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	return c.client.XAck(ctx, c.stream, c.group, streamIDs...).Err()
}

// Run reads until ctx is cancelled, passing each batch to handle. A batch is
// acknowledged only when handle succeeds. Unacknowledged entries, including
// those left by a previous run under the same consumer name, are handed to
// handle again before any new entry is read.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, []Message) error) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	backlog := true
	for {
		var (
			msgs []Message
			err  error
		)
		if backlog {
			msgs, err = c.ReadPending(ctx)
		} else {
			msgs, err = c.Read(ctx)
		}
		if ctx.Err() != nil {
			// Context cancelled, exit gracefully
			return nil
		}
		if err != nil {
			log.Printf("Error reading from Redis stream %s: %v", c.stream, err)
			c.pause(ctx)
			continue
		}
		if len(msgs) == 0 {
			backlog = false
			continue
		}

		if err := handle(ctx, msgs); err != nil {
			log.Printf("Failed to handle %d messages from %s, retrying: %v", len(msgs), c.stream, err)
			backlog = true
			c.pause(ctx)
			continue
		}

		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.StreamID
		}
		if err := c.Ack(context.Background(), ids...); err != nil {
			log.Printf("Failed to ack messages on %s: %v", c.stream, err)
		}
	}
}

func (c *Consumer) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.retryDelay):
	}
}

func decode(m redis.XMessage) Message {
	msg := Message{StreamID: m.ID}
	if v, ok := m.Values["id"].(string); ok {
		msg.ID = v
	}
	if v, ok := m.Values["type"].(string); ok {
		msg.Type = v
	}
	if v, ok := m.Values["data"].(string); ok {
		msg.Data = []byte(v)
	}
	return msg
}

// DecodeTick unmarshals a tick message
func DecodeTick(m Message) (*models.TickRecord, error) {
	if m.Type != TypeTick {
		return nil, fmt.Errorf("message %s is %q, not %q", m.StreamID, m.Type, TypeTick)
	}
	var tick models.TickRecord
	if err := json.Unmarshal(m.Data, &tick); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tick %s: %w", m.StreamID, err)
	}
	if tick.ID == "" {
		tick.ID = m.ID
	}
	return &tick, nil
}

// DecodeThresholds unmarshals a learned thresholds message
func DecodeThresholds(m Message) (*models.LearnedThresholds, error) {
	if m.Type != TypeThresholds {
		return nil, fmt.Errorf("message %s is %q, not %q", m.StreamID, m.Type, TypeThresholds)
	}
	var lt models.LearnedThresholds
	if err := json.Unmarshal(m.Data, &lt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thresholds %s: %w", m.StreamID, err)
	}
	return &lt, nil
}
