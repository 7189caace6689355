package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"BriefToVideo-server/config"
	"BriefToVideo-server/models"
)

// Pipeline stages, in execution order.
const (
	StageScenes  = "scenes"
	StageImages  = "images"
	StageVideos  = "videos"
	StageLipSync = "lipsync"
	StageCompose = "compose"
)

// ErrAlreadyRunning is returned when a generation run is requested for a
// project that already has one in flight in this process.
var ErrAlreadyRunning = errors.New("generation already running for project")

// ScenesRequest asks the scripting service to script and persist the scene
// collection for a project.
type ScenesRequest struct {
	ProjectID   string
	Idea        string
	Description string
	Flavor      string
	Params      map[string]interface{}
}

// VideoRequest asks the video service to generate one scene's clip. The
// service persists the resulting media reference into the scene record itself;
// the caller only re-reads after all per-scene calls settle.
type VideoRequest struct {
	ProjectID      string
	Sequence       int
	Prompt         string
	NegativePrompt string
	Flavor         string
	Params         map[string]interface{}
}

// LipSyncRequest asks the lip-sync service to re-render a clip against an
// audio track. VideoURL/AudioURL are resolved URLs; StartTime/EndTime bound an
// optional [start, end) audio window in seconds.
type LipSyncRequest struct {
	ProjectID string
	Sequence  int
	VideoURL  string
	AudioURL  string
	StartTime float64
	EndTime   float64
	Params    map[string]interface{}
}

// ComposeRequest asks the stitching service to assemble the final video from
// the ordered scene clips.
type ComposeRequest struct {
	ProjectID string
	SceneRefs []string
	AudioRef  string
	Params    map[string]interface{}
}

// ImageResult is one generated reference image.
type ImageResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// MediaResult is the video service's handle for a generated clip.
type MediaResult struct {
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}

// ComposeResult is the stitching service's handle for the final output.
type ComposeResult struct {
	JobID    string `json:"job_id"`
	FinalURL string `json:"final_url"`
}

// Generator is the external generation worker. Every method is a slow,
// unreliable remote call; callers wrap them in the retry policy.
type Generator interface {
	GenerateScenes(ctx context.Context, req ScenesRequest) error
	GenerateCharacterReference(ctx context.Context, description string, count int) ([]ImageResult, error)
	GenerateVideo(ctx context.Context, req VideoRequest) (*MediaResult, error)
	GenerateLipSync(ctx context.Context, req LipSyncRequest) (*MediaResult, error)
	ComposeVideo(ctx context.Context, req ComposeRequest) (*ComposeResult, error)
}

// MediaResolver resolves a media lookup id (video_id/audio_id) to a URL.
type MediaResolver interface {
	ResolveMediaURL(ctx context.Context, mediaID string) (string, error)
}

// Store is the opaque project/scene persistence collaborator.
type Store interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	GetScenes(ctx context.Context, projectID string) ([]models.Scene, error)
	UpdateProject(ctx context.Context, projectID string, fields map[string]interface{}) error
	UpdateScene(ctx context.Context, projectID string, sequence int, fields map[string]interface{}) error
}

// Observer receives orchestrator state transitions synchronously. No stage
// logic depends on it; implementations must not block for long.
type Observer interface {
	OnProgress(stage string, completed, total int, message string)
	OnError(stage string, itemIndex int, err error)
	OnRetry(stage string, itemIndex, attempt, maxAttempts int, delay time.Duration, err error)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) OnProgress(string, int, int, string)                         {}
func (NopObserver) OnError(string, int, error)                                  {}
func (NopObserver) OnRetry(string, int, int, int, time.Duration, error)         {}

// Orchestrator drives the five generation stages in sequence for one project
// run: scenes → images → videos → lipsync → compose. Work within a stage fans
// out concurrently; stages never overlap. The orchestrator itself is
// synchronous — running it in the background is the caller's concern.
type Orchestrator struct {
	store     Store
	gen       Generator
	resolver  MediaResolver
	flavors   *config.FlavorStore
	retry     *RetryPolicy
	retryCfg  RetryConfig
	retryOpts []RetryOption
	obs       Observer
	guard     *runGuard
}

// runGuard is the per-project single-flight slot. It guards overlapping runs
// within one process only; cross-process overlap is a stated limitation and
// is bounded by the recompute-from-truth reconciler.
type runGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func (g *runGuard) acquire(projectID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[projectID]; ok {
		return false
	}
	g.inflight[projectID] = struct{}{}
	return true
}

func (g *runGuard) release(projectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, projectID)
}

func NewOrchestrator(store Store, gen Generator, resolver MediaResolver, flavors *config.FlavorStore, retryCfg RetryConfig, obs Observer, retryOpts ...RetryOption) *Orchestrator {
	if obs == nil {
		obs = NopObserver{}
	}
	o := &Orchestrator{
		store:     store,
		gen:       gen,
		resolver:  resolver,
		flavors:   flavors,
		retryCfg:  retryCfg,
		retryOpts: retryOpts,
		obs:       obs,
		guard:     &runGuard{inflight: make(map[string]struct{})},
	}
	o.retry = o.buildRetry()
	return o
}

// WithObserver returns a copy of the orchestrator bound to obs. The copy
// shares the single-flight guard, so concurrent runs against one project are
// still excluded across observers.
func (o *Orchestrator) WithObserver(obs Observer) *Orchestrator {
	if obs == nil {
		obs = NopObserver{}
	}
	c := *o
	c.obs = obs
	c.retry = c.buildRetry()
	return &c
}

func (o *Orchestrator) buildRetry() *RetryPolicy {
	obs := o.obs
	opts := []RetryOption{
		WithErrorCallback(func(rc RetryContext, err error) {
			log.Printf("[%s] attempt failed (item %d): %v", rc.Stage, rc.ItemIndex, err)
		}),
		WithRetryCallback(func(rc RetryContext, attempt, maxAttempts int, delay time.Duration, err error) {
			obs.OnRetry(rc.Stage, rc.ItemIndex, attempt, maxAttempts, delay, err)
		}),
	}
	opts = append(opts, o.retryOpts...)
	return NewRetryPolicy(o.retryCfg, opts...)
}

func (o *Orchestrator) acquire(projectID string) bool { return o.guard.acquire(projectID) }
func (o *Orchestrator) release(projectID string)      { o.guard.release(projectID) }

// StartFullGeneration runs the whole pipeline for one project. Project-level
// failures (scenes, images, compose) abort the run and persist a failed
// status best-effort; per-scene failures are collected and leave the project
// non-terminal. The terminal status is recomputed from the final scene state,
// never hard-coded.
func (o *Orchestrator) StartFullGeneration(ctx context.Context, projectID string) error {
	if !o.acquire(projectID) {
		return ErrAlreadyRunning
	}
	defer o.release(projectID)

	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project %s: %w", projectID, err)
	}
	if err := validateProject(project); err != nil {
		// Validation failures are not retried and not persisted as failed:
		// the project never started processing.
		return err
	}

	log.Printf("starting full generation for project %s (mode=%s, flavor=%s)", project.ID, project.Mode, project.ConfigFlavor)

	if err := o.runScenesStage(ctx, project); err != nil {
		return o.failProject(ctx, projectID, StageScenes, err)
	}
	if err := o.runImagesStage(ctx, project); err != nil {
		return o.failProject(ctx, projectID, StageImages, err)
	}

	o.runVideosStage(ctx, project)
	o.runLipSyncStage(ctx, project)

	if err := o.runComposeStage(ctx, project); err != nil {
		return o.failProject(ctx, projectID, StageCompose, err)
	}

	return o.finishRun(ctx, projectID)
}

// RegenerateScene re-runs the video stage (and lip-sync when flagged) for a
// single scene, regardless of any media reference already attached — this is
// the explicit per-scene path; the bulk Videos stage never resubmits a scene
// that already has a reference. A fresh composition is triggered when the
// project had already produced a final output.
func (o *Orchestrator) RegenerateScene(ctx context.Context, projectID string, sequence int) error {
	if !o.acquire(projectID) {
		return ErrAlreadyRunning
	}
	defer o.release(projectID)

	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project %s: %w", projectID, err)
	}
	scenes, err := o.store.GetScenes(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load scenes for %s: %w", projectID, err)
	}
	var scene *models.Scene
	for i := range scenes {
		if scenes[i].Sequence == sequence {
			scene = &scenes[i]
			break
		}
	}
	if scene == nil {
		return fmt.Errorf("scene %d out of range for project %s (%d scenes)", sequence, projectID, len(scenes))
	}

	hadFinal := project.FinalVideoURL != ""

	// Clear the stale references so the generated clip is the active one.
	if err := o.store.UpdateScene(ctx, projectID, sequence, map[string]interface{}{
		"video_url":          "",
		"lip_sync_video_url": "",
		"status":             models.SceneStatusProcessing,
		"error_message":      "",
	}); err != nil {
		return fmt.Errorf("reset scene %d: %w", sequence, err)
	}

	if err := o.generateSceneVideo(ctx, project, scene); err != nil {
		o.reconcileAndPersist(ctx, projectID, false)
		return err
	}
	if scene.NeedsLipSync {
		if err := o.lipSyncScene(ctx, project, sequence); err != nil {
			o.obs.OnError(StageLipSync, sequence, err)
		}
	}
	o.reconcileAndPersist(ctx, projectID, false)

	if hadFinal {
		if err := o.runComposeStage(ctx, project); err != nil {
			return o.failProject(ctx, projectID, StageCompose, err)
		}
		return o.finishRun(ctx, projectID)
	}
	return nil
}

// finishRun recomputes the terminal aggregates and reports them.
func (o *Orchestrator) finishRun(ctx context.Context, projectID string) error {
	agg, err := o.reconcileAndPersist(ctx, projectID, false)
	if err != nil {
		return err
	}
	log.Printf("project %s run finished: status=%s completed=%d failed=%d", projectID, agg.Status, agg.CompletedScenes, agg.FailedScenes)
	return nil
}

// failProject persists the failed status best-effort (a failure to persist
// the failure is logged, not escalated) and returns the stage-tagged error.
func (o *Orchestrator) failProject(ctx context.Context, projectID, stage string, cause error) error {
	err := fmt.Errorf("stage %s: %w", stage, cause)
	o.obs.OnError(stage, NoItem, cause)
	if persistErr := o.store.UpdateProject(ctx, projectID, map[string]interface{}{
		"status":        models.ProjectStatusFailed,
		"error_message": err.Error(),
	}); persistErr != nil {
		log.Printf("failed to persist failed status for project %s: %v", projectID, persistErr)
	}
	return err
}

// reconcileAndPersist re-reads the scene collection, recomputes the
// aggregates, and writes them back. Recompute-only by design.
func (o *Orchestrator) reconcileAndPersist(ctx context.Context, projectID string, stageFailed bool) (Aggregates, error) {
	scenes, err := o.store.GetScenes(ctx, projectID)
	if err != nil {
		return Aggregates{}, fmt.Errorf("reconcile %s: %w", projectID, err)
	}
	agg := Reconcile(scenes, stageFailed)
	if err := o.store.UpdateProject(ctx, projectID, map[string]interface{}{
		"completed_scenes": agg.CompletedScenes,
		"failed_scenes":    agg.FailedScenes,
		"status":           agg.Status,
	}); err != nil {
		return agg, fmt.Errorf("persist aggregates for %s: %w", projectID, err)
	}
	return agg, nil
}

// markProcessing persists the processing status on stage entry. Idempotent to
// call repeatedly.
func (o *Orchestrator) markProcessing(ctx context.Context, projectID string) {
	if err := o.store.UpdateProject(ctx, projectID, map[string]interface{}{
		"status": models.ProjectStatusProcessing,
	}); err != nil {
		log.Printf("failed to mark project %s processing: %v", projectID, err)
	}
}

// flavorParams fetches one config-type bundle for the project's flavor,
// tolerating lookup errors (the worker applies its own defaults).
func (o *Orchestrator) flavorParams(flavor, configType string) map[string]interface{} {
	if o.flavors == nil {
		return nil
	}
	values, err := o.flavors.Get(flavor, configType)
	if err != nil {
		log.Printf("[Flavors] %v", err)
		return nil
	}
	return values
}

func validateProject(p *models.Project) error {
	if p.Idea == "" {
		return fmt.Errorf("project %s has no idea text", p.ID)
	}
	if p.Description() == "" {
		if p.Mode == models.ProjectModeAdCreative {
			return fmt.Errorf("project %s has no product description", p.ID)
		}
		return fmt.Errorf("project %s has no character description", p.ID)
	}
	return nil
}
