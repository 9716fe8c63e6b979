package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "CHECKOUT_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	eventsTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// replayMessage: сообщение, которое вернётся в исходный топик.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

// outboxLetter повторяет формат, в котором outbox worker кладёт неопубликованное событие в DLQ.
type outboxLetter struct {
	ID            string `json:"id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
	EventType     string `json:"event_type"`
	Payload       struct {
		OutboxID      string          `json:"outbox_id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
	} `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

type stats struct {
	scanned  int
	replayed int
	skipped  int
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail(fmt.Errorf("dlq replay failed: %w", err))
	}
}

func parseFlags(args []string, getenv func(string) string) (config, error) {
	var (
		cfg        config
		brokersRaw string
	)
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicOrderEvents, "topic for failed outbox events")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of dead letters to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replays; without it only candidates are logged")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	for _, broker := range strings.Split(brokersRaw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or " + envKafkaBrokers + ")")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.eventsTopic) == "":
		return config{}, errors.New("events-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	var producer *kafka.Producer
	if cfg.execute {
		producer, err = kafka.NewProducer(cfg.brokers, log.WithField("component", "dlq-replay"))
		if err != nil {
			return err
		}
		defer producer.Close()
	}

	var publish func(replayMessage) error
	if producer != nil {
		publish = func(msg replayMessage) error {
			return producer.PublishRaw(ctx, msg.topic, msg.key, msg.value, msg.headers...)
		}
	}

	total, err := replay(ctx, cfg, client, saramaSource{consumer: consumer}, publish)
	log.WithFields(log.Fields{
		"execute":  cfg.execute,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return err
}

// replay читает DLQ от старых сообщений к новым, пока не наберёт limit.
// При publish == nil кандидаты только логируются.
func replay(ctx context.Context, cfg config, client offsetClient, source partitionSource, publish func(replayMessage) error) (stats, error) {
	var total stats

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.scanned >= cfg.limit {
			break
		}
		if err := scanPartition(ctx, cfg, client, source, partition, publish, &total); err != nil {
			return total, err
		}
	}
	return total, nil
}

func scanPartition(
	ctx context.Context,
	cfg config,
	client offsetClient,
	source partitionSource,
	partition int32,
	publish func(replayMessage) error,
	total *stats,
) error {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	pc, err := source.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for total.scanned < cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case consumeErr := <-pc.Errors():
			if consumeErr != nil {
				return fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}
			idle.Reset(cfg.idleTimeout)
			total.scanned++

			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}
			out, err := decodeDeadLetter(msg.Value, cfg.eventsTopic)
			if err != nil {
				total.skipped++
				log.WithError(err).WithFields(fields).Warn("skip dead letter")
			} else if publish == nil {
				total.replayed++
				fields["target_topic"] = out.topic
				fields["key"] = out.key
				log.WithFields(fields).Info("dead letter can be replayed")
			} else {
				if err := publish(out); err != nil {
					return fmt.Errorf("republish offset %d: %w", msg.Offset, err)
				}
				total.replayed++
			}

			if msg.Offset+1 >= newest {
				return nil
			}
		}
	}
	return nil
}

// decodeDeadLetter распознаёт оба формата DLQ: письмо consumer'а с исходным
// сообщением и outbox-событие, которое не удалось опубликовать.
func decodeDeadLetter(value []byte, eventsTopic string) (replayMessage, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(value, &letter); err == nil && letter.OriginalValue != "" {
		if letter.OriginalTopic == "" {
			return replayMessage{}, errors.New("dead letter has no original topic")
		}
		return replayMessage{
			topic: letter.OriginalTopic,
			key:   letter.OriginalKey,
			value: []byte(letter.OriginalValue),
		}, nil
	}

	var outbox outboxLetter
	if err := json.Unmarshal(value, &outbox); err != nil {
		return replayMessage{}, fmt.Errorf("unrecognised dead letter: %w", err)
	}
	if len(outbox.Payload.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dead letter carries no event payload")
	}

	envelope := replayEnvelope{
		ID:            firstNonEmpty(outbox.Payload.OutboxID, outbox.ID),
		AggregateType: firstNonEmpty(outbox.Payload.AggregateType, outbox.AggregateType),
		AggregateID:   firstNonEmpty(outbox.Payload.AggregateID, outbox.AggregateID),
		EventType:     firstNonEmpty(outbox.Payload.EventType, outbox.EventType),
		Payload:       outbox.Payload.Payload,
		OccurredAt:    outbox.OccurredAt,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:   eventsTopic,
		key:     firstNonEmpty(envelope.AggregateID, envelope.ID),
		value:   encoded,
		headers: []sarama.RecordHeader{{Key: []byte(kafka.HeaderEventType), Value: []byte(envelope.EventType)}},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
