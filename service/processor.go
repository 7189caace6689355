package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"BriefToVideo-server/config"
	"BriefToVideo-server/models"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Processor consumes generation tasks from the queue and drives the
// orchestrator. One run row in generation_run tracks each consumed task.
type Processor struct {
	DB   *gorm.DB
	Orch *Orchestrator
	Hub  *ProgressHub
}

func NewProcessor(db *gorm.DB, orch *Orchestrator, hub *ProgressHub) *Processor {
	return &Processor{DB: db, Orch: orch, Hub: hub}
}

// StartProcessor starts the queue consumer.
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeFullGeneration, p.HandleFullGeneration)
	mux.HandleFunc(TypeRegenerateScene, p.HandleRegenerateScene)

	log.Printf("Starting generation processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run queue server: %v", err)
		}
	}()
}

func (p *Processor) HandleFullGeneration(ctx context.Context, t *asynq.Task) error {
	var payload GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	return p.runAndTrack(ctx, payload, func(ctx context.Context, orch *Orchestrator) error {
		if err := orch.StartFullGeneration(ctx, payload.ProjectID); err != nil {
			return err
		}
		return p.mirrorFinalVideo(ctx, payload.ProjectID)
	})
}

func (p *Processor) HandleRegenerateScene(ctx context.Context, t *asynq.Task) error {
	var payload GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	return p.runAndTrack(ctx, payload, func(ctx context.Context, orch *Orchestrator) error {
		if err := orch.RegenerateScene(ctx, payload.ProjectID, payload.Sequence); err != nil {
			return err
		}
		return p.mirrorFinalVideo(ctx, payload.ProjectID)
	})
}

// runAndTrack walks the run row through its lifecycle and binds a
// hub-publishing observer to the orchestrator for the duration of the run.
func (p *Processor) runAndTrack(ctx context.Context, payload GenerationPayload, fn func(context.Context, *Orchestrator) error) error {
	run, err := models.GetRunByID(p.DB, payload.RunID)
	if err != nil {
		return fmt.Errorf("run not found: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing run: %s | type=%s project=%s", run.ID, run.Type, run.ProjectId)
	if err := models.UpdateRunFields(p.DB, run.ID, map[string]interface{}{
		"status":     models.RunStatusProcessing,
		"started_at": time.Now(),
	}); err != nil {
		log.Printf("mark run processing failed: %v", err)
	}

	obs := &runObserver{hub: p.Hub, db: p.DB, projectID: run.ProjectId, runID: run.ID}
	err = fn(ctx, p.Orch.WithObserver(obs))

	if errors.Is(err, ErrAlreadyRunning) {
		// Another run owns this project right now; record it and let the
		// owning run finish. No point retrying from the queue.
		log.Printf("run %s skipped: %v", run.ID, err)
		p.finishRunRow(run.ID, models.RunStatusFailed, err.Error())
		return nil
	}
	if err != nil {
		log.Printf("run %s failed: %v", run.ID, err)
		p.finishRunRow(run.ID, models.RunStatusFailed, err.Error())
		return nil // business failure, orchestrator already retried
	}

	p.finishRunRow(run.ID, models.RunStatusFinished, "")
	log.Printf("run %s completed", run.ID)
	return nil
}

func (p *Processor) finishRunRow(runID, status, errMsg string) {
	if err := models.UpdateRunFields(p.DB, runID, map[string]interface{}{
		"status":      status,
		"error":       errMsg,
		"finished_at": time.Now(),
	}); err != nil {
		log.Printf("finish run %s failed: %v", runID, err)
	}
}

// mirrorFinalVideo copies a worker-hosted final video into our bucket so it
// outlives the worker's storage, then rewrites final_video_url. Best effort:
// a mirror failure leaves the worker URL in place rather than failing the run.
func (p *Processor) mirrorFinalVideo(ctx context.Context, projectID string) error {
	if MinioClient == nil {
		return nil
	}
	project, err := models.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("reload project after run: %v", err)
	}
	src := project.FinalVideoURL
	if src == "" || strings.Contains(src, config.AppConfig.MinIO.Endpoint) {
		return nil
	}

	objectName := fmt.Sprintf("projects/%s/final.mp4", projectID)
	finalURL, err := MirrorToMinIO(src, objectName)
	if err != nil {
		log.Printf("mirror final video for project %s failed: %v", projectID, err)
		return nil
	}
	if err := models.UpdateProjectFields(p.DB, projectID, map[string]interface{}{
		"final_video_url": finalURL,
	}); err != nil {
		log.Printf("persist mirrored final url failed: %v", err)
	}
	return nil
}

// runObserver forwards orchestrator notifications to the websocket hub and
// keeps the run row's progress column current.
type runObserver struct {
	hub       *ProgressHub
	db        *gorm.DB
	projectID string
	runID     string
}

func (r *runObserver) OnProgress(stage string, completed, total int, message string) {
	r.hub.Publish(ProgressEvent{
		ProjectID: r.projectID,
		Kind:      "progress",
		Stage:     stage,
		Completed: completed,
		Total:     total,
		Message:   message,
	})
	if err := models.UpdateRunFields(r.db, r.runID, map[string]interface{}{
		"progress": models.RunProgress{Stage: stage, Completed: completed, Total: total, Message: message},
	}); err != nil {
		log.Printf("persist run progress failed: %v", err)
	}
}

func (r *runObserver) OnError(stage string, itemIndex int, err error) {
	r.hub.Publish(ProgressEvent{
		ProjectID: r.projectID,
		Kind:      "error",
		Stage:     stage,
		ItemIndex: itemIndex,
		Error:     err.Error(),
	})
}

func (r *runObserver) OnRetry(stage string, itemIndex, attempt, maxAttempts int, delay time.Duration, err error) {
	r.hub.Publish(ProgressEvent{
		ProjectID: r.projectID,
		Kind:      "retry",
		Stage:     stage,
		ItemIndex: itemIndex,
		Attempt:   attempt,
		Max:       maxAttempts,
		DelayMs:   delay.Milliseconds(),
		Error:     err.Error(),
	})
}
