// Package queue routes queued tasks through NATS JetStream so processing can
// run on separate workers. Publishing and consuming share one durable stream;
// the orchestration contract is identical to inline dispatch.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/probelab/dataprobe/internal/pipeline"
)

const (
	streamName     = "DATAPROBE"
	processSubject = "tasks.process"
	consumerName   = "task-workers"
)

// taskMessage is the wire payload for one queued task.
type taskMessage struct {
	TaskID uuid.UUID `json:"task_id"`
	UserID uuid.UUID `json:"user_id"`
}

// Queue wraps a NATS JetStream connection with the stream this service uses.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"tasks.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// Dispatch publishes the task for a worker to pick up. Implements
// pipeline.Dispatcher.
func (q *Queue) Dispatch(ctx context.Context, taskID, userID uuid.UUID) error {
	data, err := json.Marshal(taskMessage{TaskID: taskID, UserID: userID})
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	if _, err := q.js.Publish(ctx, processSubject, data); err != nil {
		return fmt.Errorf("publish %s: %w", processSubject, err)
	}
	slog.Info("task dispatched to queue", "task_id", taskID)
	return nil
}

// Processor is the subset of the orchestrator a worker needs.
type Processor interface {
	Process(ctx context.Context, taskID, userID uuid.UUID) error
}

// Worker consumes queued tasks and runs them through the processor.
type Worker struct {
	queue     *Queue
	processor Processor
}

// NewWorker creates a Worker bound to a queue and processor.
func NewWorker(q *Queue, p Processor) *Worker {
	return &Worker{queue: q, processor: p}
}

// Run subscribes and processes tasks until the returned stop function is
// called. Messages are acked on success and on lock contention (another
// worker owns the task), and nacked for redelivery on transient errors.
func (w *Worker) Run(ctx context.Context) (func(), error) {
	consumer, err := w.queue.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: processSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var m taskMessage
		if err := json.Unmarshal(msg.Data(), &m); err != nil {
			slog.Error("malformed task message dropped", "error", err)
			if ackErr := msg.Ack(); ackErr != nil {
				slog.Error("nats ack failed", "error", ackErr)
			}
			return
		}

		err := w.processor.Process(ctx, m.TaskID, m.UserID)
		if err != nil && !errors.Is(err, pipeline.ErrTaskLocked) {
			slog.Error("task processing failed", "task_id", m.TaskID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if errors.Is(err, pipeline.ErrTaskLocked) {
			slog.Info("task already being processed elsewhere", "task_id", m.TaskID)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	slog.Info("queue worker started", "subject", processSubject, "consumer", consumerName)
	return cons.Stop, nil
}
