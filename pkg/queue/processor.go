package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

var (
	// ErrProcessorRunning is returned when Start is called twice
	ErrProcessorRunning = errors.New("processor already running")
)

const (
	// DefaultBatchSize is the default number of messages to consume at once
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxDeliveries is how many times a wake-up is delivered before it is dead-lettered
	DefaultMaxDeliveries = 5

	// DefaultClaimInterval is how often to claim stale pending messages
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimMinIdle is the minimum idle time before claiming a message
	DefaultClaimMinIdle = 60 * time.Second
)

// WakeHandler runs one wake-up of a conversation actor. A returned error leaves the
// message pending so another delivery can pick it up.
type WakeHandler interface {
	HandleWake(ctx context.Context, wake redis.WakeMessage) error
}

// WakeHandlerFunc adapts a function to WakeHandler
type WakeHandlerFunc func(ctx context.Context, wake redis.WakeMessage) error

func (f WakeHandlerFunc) HandleWake(ctx context.Context, wake redis.WakeMessage) error {
	return f(ctx, wake)
}

// ProcessorConfig holds configuration for the wake-up processor
type ProcessorConfig struct {
	// Stream name for the wake-up mailbox
	Stream string

	// Consumer group name
	ConsumerGroup string

	// Consumer name (unique per instance)
	ConsumerName string

	// Number of messages to fetch per batch
	BatchSize int64

	// How long to block waiting for new messages
	BlockTimeout time.Duration

	// Deliveries allowed before a message is moved to the DLQ
	MaxDeliveries int

	// How often to check for and claim stale pending messages
	ClaimInterval time.Duration

	// Minimum idle time before claiming a pending message
	ClaimMinIdle time.Duration

	// Number of worker goroutines
	WorkerCount int
}

// DefaultProcessorConfig returns the default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return ProcessorConfig{
		Stream:        "wingfox:wakeups",
		ConsumerGroup: "wingfox-actors",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxDeliveries: DefaultMaxDeliveries,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   4,
	}
}

// Processor delivers wake-ups from a Redis Streams consumer group to a WakeHandler
type Processor struct {
	streams *redis.Streams
	dlq     *redis.DeadLetterQueue
	handler WakeHandler
	config  ProcessorConfig
	logger  *zap.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	wakeCh   chan redis.StreamMessage

	running bool
	mu      sync.RWMutex
}

// NewProcessor creates a new wake-up processor
func NewProcessor(
	streams *redis.Streams,
	dlq *redis.DeadLetterQueue,
	handler WakeHandler,
	config ProcessorConfig,
	logger *zap.Logger,
) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = DefaultMaxDeliveries
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:  streams,
		dlq:      dlq,
		handler:  handler,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		wakeCh:   make(chan redis.StreamMessage, config.BatchSize*2),
	}
}

// Start creates the consumer group and starts the consume, claim and worker goroutines
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrProcessorRunning
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Info("Starting wake-up processor",
		zap.String("stream", p.config.Stream),
		zap.String("group", p.config.ConsumerGroup),
		zap.String("consumer", p.config.ConsumerName),
		zap.Int("workers", p.config.WorkerCount))

	if err := p.streams.CreateConsumerGroup(ctx, p.config.Stream, p.config.ConsumerGroup); err != nil {
		p.logger.Error("Failed to create consumer group", zap.Error(err))
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var workers sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		workers.Add(1)
		go p.worker(ctx, &workers, i)
	}

	var producers sync.WaitGroup
	producers.Add(2)
	go p.consumeLoop(ctx, &producers)
	go p.claimLoop(ctx, &producers)

	go func() {
		<-p.stopCh
		// workers drain wakeCh only after nothing can send on it
		producers.Wait()
		close(p.wakeCh)
		workers.Wait()
		close(p.stoppedC)
	}()

	p.logger.Info("Wake-up processor started")
	return nil
}

// Stop stops the processor and waits for in-flight wake-ups
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Stopping wake-up processor...")
	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.Info("Wake-up processor stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("Wake-up processor shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the processor is running
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := p.streams.Consume(
			ctx,
			p.config.Stream,
			p.config.ConsumerGroup,
			p.config.ConsumerName,
			p.config.BatchSize,
			p.config.BlockTimeout,
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("Failed to consume wake-ups", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-p.stopCh:
				return
			}
			continue
		}

		for _, msg := range messages {
			if msg.Err != nil {
				p.deadLetter(ctx, msg, 1, models.DLQReasonInvalidMessage, msg.Err.Error())
				continue
			}
			select {
			case p.wakeCh <- msg:
			case <-p.stopCh:
				return
			}
		}
	}
}

func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimPendingMessages(ctx)
		}
	}
}

// claimPendingMessages reclaims wake-ups whose consumer failed or died. Messages
// delivered MaxDeliveries times are moved to the DLQ instead.
func (p *Processor) claimPendingMessages(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Processor.claimPendingMessages")
	defer span.End()

	pending, err := p.streams.Pending(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.BatchSize)
	if err != nil {
		p.logger.Warn("Failed to get pending wake-ups", zap.Error(err))
		return
	}

	var staleIDs []string
	for _, msg := range pending {
		if msg.Idle < p.config.ClaimMinIdle {
			continue
		}
		if msg.RetryCount < int64(p.config.MaxDeliveries) {
			staleIDs = append(staleIDs, msg.ID)
			continue
		}

		p.logger.Warn("Wake-up exceeded max deliveries, moving to DLQ",
			zap.String("message_id", msg.ID),
			zap.Int64("deliveries", msg.RetryCount))
		originals, err := p.streams.Range(ctx, p.config.Stream, msg.ID, msg.ID)
		if err != nil || len(originals) == 0 {
			p.logger.Warn("Failed to read wake-up for DLQ", zap.String("message_id", msg.ID), zap.Error(err))
			p.ack(ctx, msg.ID)
			continue
		}
		p.deadLetter(ctx, originals[0], int(msg.RetryCount), models.DLQReasonMaxRetries, "exceeded maximum delivery count")
	}

	if len(staleIDs) == 0 {
		return
	}

	p.logger.Info("Claiming stale wake-ups", zap.Int("count", len(staleIDs)))
	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.ClaimMinIdle, staleIDs...)
	if err != nil {
		p.logger.Warn("Failed to claim pending wake-ups", zap.Error(err))
		return
	}

	for _, msg := range claimed {
		if msg.Err != nil {
			p.deadLetter(ctx, msg, 1, models.DLQReasonInvalidMessage, msg.Err.Error())
			continue
		}
		select {
		case p.wakeCh <- msg:
		case <-p.stopCh:
			return
		default:
			// channel full; the message stays pending for the next claim
		}
	}
}

func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker", id))
	for msg := range p.wakeCh {
		if err := p.process(ctx, msg); err != nil {
			// left pending; reclaimed after ClaimMinIdle
			p.logger.Warn("Wake-up failed, will be redelivered",
				zap.String("message_id", msg.ID),
				zap.Stringer("conversation_id", msg.Wake.ConversationID),
				zap.Int("round", msg.Wake.Round),
				zap.Error(err))
			continue
		}
		p.ack(ctx, msg.ID)
	}
	p.logger.Debug("Worker stopped", zap.Int("worker", id))
}

func (p *Processor) process(ctx context.Context, msg redis.StreamMessage) error {
	ctx = tracing.ContextWithTraceParent(ctx, msg.Wake.TraceParent)
	ctx, span := tracing.StartSpan(ctx, "Processor.process")
	defer span.End()

	ctx = appctx.SetRequestID(ctx, msg.Wake.ID)
	ctx = appctx.SetConversationID(ctx, msg.Wake.ConversationID.String())

	metrics.QueueWakeupsInFlight.Inc()
	defer metrics.QueueWakeupsInFlight.Dec()

	start := time.Now()
	err := p.handler.HandleWake(ctx, *msg.Wake)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordQueueWakeup("failed")
		return err
	}

	metrics.RecordQueueWakeup("success")
	appctx.Logger(ctx, p.logger).Debug("Processed wake-up",
		zap.Int("round", msg.Wake.Round),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, msg redis.StreamMessage, deliveries int, reason models.DeadLetterReason, errorMsg string) {
	ctx, span := tracing.StartSpan(ctx, "Processor.deadLetter")
	defer span.End()

	if p.dlq != nil {
		entry := &redis.DLQEntry{
			OriginalWake: msg.Wake,
			RawPayload:   msg.Raw,
			Reason:       reason,
			ErrorMessage: errorMsg,
			RetryCount:   deliveries,
		}
		if _, err := p.dlq.Add(ctx, entry); err != nil {
			// keep the message pending so it is not lost
			p.logger.Error("Failed to add wake-up to DLQ", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		metrics.RecordDLQEntry(string(reason))
	}
	p.ack(ctx, msg.ID)
}

func (p *Processor) ack(ctx context.Context, messageID string) {
	if err := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); err != nil {
		p.logger.Warn("Failed to ack wake-up", zap.String("message_id", messageID), zap.Error(err))
	}
}
