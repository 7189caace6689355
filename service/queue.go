package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"BriefToVideo-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeFullGeneration  = "generation:full"
	TypeRegenerateScene = "generation:scene"
)

type GenerationPayload struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
	Sequence  int    `json:"sequence,omitempty"`
}

var QueueClient *asynq.Client

// InitQueue initializes the asynq client.
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueGeneration enqueues a generation run (full pipeline or single-scene
// regeneration). Queue-level retries are disabled: the orchestrator owns
// retrying individual external calls, and re-running a whole pipeline from
// the queue would fight the per-project single-flight guard.
func EnqueueGeneration(taskType string, payload GenerationPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(taskType, b,
		asynq.MaxRetry(0),
		asynq.Timeout(60*time.Minute), // generation is slow, give the run room
		asynq.Retention(24*time.Hour),
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] task enqueued: type=%s project=%s queue_id=%s", taskType, payload.ProjectID, info.ID)
	return nil
}
