package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hirohiro424/sparkling/internal/config"
)

// Enqueuer publishes background work. Client implements it over asynq.
type Enqueuer interface {
	EnqueueRunExecute(ctx context.Context, payload RunExecutePayload) (string, error)
	EnqueueRunEvaluate(ctx context.Context, payload RunEvaluatePayload) (string, error)
}

type Client struct {
	client *asynq.Client
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueRunExecute returns the asynq task id. Runs are not retried by the
// queue because the gateway already retries LLM calls.
func (c *Client) EnqueueRunExecute(ctx context.Context, payload RunExecutePayload) (string, error) {
	return c.enqueue(ctx, TypeRunExecute, payload, asynq.MaxRetry(0), asynq.Timeout(5*time.Minute))
}

func (c *Client) EnqueueRunEvaluate(ctx context.Context, payload RunEvaluatePayload) (string, error) {
	return c.enqueue(ctx, TypeRunEvaluate, payload, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (string, error) {
	task, err := NewTask(taskType, payload, opts...)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

// NewTask encodes payload as the JSON body of a task.
func NewTask(taskType string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, data, opts...), nil
}

var _ Enqueuer = (*Client)(nil)
