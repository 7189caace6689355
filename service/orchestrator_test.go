package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"BriefToVideo-server/config"
	"BriefToVideo-server/models"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store applying the same partial-update maps the
// GORM store receives.
type fakeStore struct {
	mu      sync.Mutex
	project models.Project
	scenes  []models.Scene
}

func newFakeStore(project models.Project, scenes []models.Scene) *fakeStore {
	return &fakeStore{project: project, scenes: scenes}
}

func (s *fakeStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project.ID != projectID {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	p := s.project
	return &p, nil
}

func (s *fakeStore) GetScenes(ctx context.Context, projectID string) ([]models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Scene, len(s.scenes))
	copy(out, s.scenes)
	return out, nil
}

func (s *fakeStore) UpdateProject(ctx context.Context, projectID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		switch k {
		case "status":
			s.project.Status = v.(string)
		case "completed_scenes":
			s.project.CompletedScenes = v.(int)
		case "failed_scenes":
			s.project.FailedScenes = v.(int)
		case "reference_image_id":
			s.project.ReferenceImageID = v.(string)
		case "final_video_url":
			s.project.FinalVideoURL = v.(string)
		case "error_message":
			s.project.ErrorMessage = v.(string)
		}
	}
	return nil
}

func (s *fakeStore) UpdateScene(ctx context.Context, projectID string, sequence int, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.scenes {
		if s.scenes[i].Sequence != sequence {
			continue
		}
		sc := &s.scenes[i]
		for k, v := range fields {
			switch k {
			case "status":
				sc.Status = v.(string)
			case "video_url":
				sc.VideoURL = v.(string)
			case "lip_sync_video_url":
				sc.LipSyncVideoURL = v.(string)
			case "error_message":
				sc.ErrorMessage = v.(string)
			case "retry_count":
				sc.RetryCount = v.(int)
			}
		}
		return nil
	}
	return fmt.Errorf("scene %d not found", sequence)
}

func (s *fakeStore) addScenes(scenes ...models.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = append(s.scenes, scenes...)
}

func (s *fakeStore) setSceneVideo(sequence int, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.scenes {
		if s.scenes[i].Sequence == sequence {
			s.scenes[i].VideoURL = url
		}
	}
}

func (s *fakeStore) snapshot() (models.Project, []models.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scenes := make([]models.Scene, len(s.scenes))
	copy(scenes, s.scenes)
	return s.project, scenes
}

// fakeGenerator mimics the worker: scene scripting and video generation
// persist their results into the store themselves, everything else only
// returns handles.
type fakeGenerator struct {
	store *fakeStore

	mu             sync.Mutex
	scenesToCreate int
	scenesCalls    int
	videoCalls     []int
	failVideo      map[int]bool
	blockVideo     chan struct{}
	lipSyncCalls   []LipSyncRequest
	failLipSync    bool
	composeCalls   []ComposeRequest
	failCompose    bool
}

func newFakeGenerator(store *fakeStore, scenesToCreate int) *fakeGenerator {
	return &fakeGenerator{store: store, scenesToCreate: scenesToCreate, failVideo: map[int]bool{}}
}

func (g *fakeGenerator) GenerateScenes(ctx context.Context, req ScenesRequest) error {
	g.mu.Lock()
	g.scenesCalls++
	n := g.scenesToCreate
	g.mu.Unlock()

	var scenes []models.Scene
	for i := 1; i <= n; i++ {
		scenes = append(scenes, models.Scene{
			ID:        uuid.NewString(),
			ProjectId: req.ProjectID,
			Sequence:  i,
			Prompt:    fmt.Sprintf("scene %d of %s", i, req.Idea),
			Status:    models.SceneStatusPending,
		})
	}
	g.store.addScenes(scenes...)
	return nil
}

func (g *fakeGenerator) GenerateCharacterReference(ctx context.Context, description string, count int) ([]ImageResult, error) {
	return []ImageResult{{ID: "img-1", URL: "http://worker/img-1.png"}}, nil
}

func (g *fakeGenerator) GenerateVideo(ctx context.Context, req VideoRequest) (*MediaResult, error) {
	g.mu.Lock()
	g.videoCalls = append(g.videoCalls, req.Sequence)
	fail := g.failVideo[req.Sequence]
	block := g.blockVideo
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return nil, errors.New("video backend unavailable")
	}
	url := fmt.Sprintf("http://worker/%s/%d.mp4", req.ProjectID, req.Sequence)
	g.store.setSceneVideo(req.Sequence, url)
	return &MediaResult{VideoURL: url}, nil
}

func (g *fakeGenerator) GenerateLipSync(ctx context.Context, req LipSyncRequest) (*MediaResult, error) {
	g.mu.Lock()
	g.lipSyncCalls = append(g.lipSyncCalls, req)
	fail := g.failLipSync
	g.mu.Unlock()
	if fail {
		return nil, errors.New("lip-sync backend unavailable")
	}
	return &MediaResult{VideoURL: fmt.Sprintf("http://worker/%s/%d-ls.mp4", req.ProjectID, req.Sequence)}, nil
}

func (g *fakeGenerator) ComposeVideo(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	g.mu.Lock()
	g.composeCalls = append(g.composeCalls, req)
	fail := g.failCompose
	n := len(g.composeCalls)
	g.mu.Unlock()
	if fail {
		return nil, errors.New("compose backend unavailable")
	}
	return &ComposeResult{FinalURL: fmt.Sprintf("http://worker/final-%d.mp4", n)}, nil
}

// recObserver records events for assertions.
type recObserver struct {
	mu       sync.Mutex
	messages []string
	errors   []string
	retries  int
}

func (o *recObserver) OnProgress(stage string, completed, total int, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if message != "" {
		o.messages = append(o.messages, stage+": "+message)
	}
}

func (o *recObserver) OnError(stage string, itemIndex int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, fmt.Sprintf("%s[%d]: %v", stage, itemIndex, err))
}

func (o *recObserver) OnRetry(stage string, itemIndex, attempt, maxAttempts int, delay time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recObserver) hasMessage(substr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func testProject() models.Project {
	return models.Project{
		ID:            "p1",
		Mode:          models.ProjectModeCharacter,
		Idea:          "a fox learns to fly",
		CharacterDesc: "a small red fox",
		ConfigFlavor:  "default",
		Status:        models.ProjectStatusPending,
	}
}

func newTestOrchestrator(store *fakeStore, gen *fakeGenerator, obs Observer) *Orchestrator {
	cfg := RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffMultiplier: 2}
	flavors := config.NewFlavorStore(nil)
	return NewOrchestrator(store, gen, nil, flavors, cfg, obs, WithSleeper(func(time.Duration) {}))
}

func TestFullGenerationHappyPath(t *testing.T) {
	store := newFakeStore(testProject(), nil)
	gen := newFakeGenerator(store, 3)
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	project, scenes := store.snapshot()
	if project.Status != models.ProjectStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", project.Status, project.ErrorMessage)
	}
	if project.CompletedScenes != 3 || project.FailedScenes != 0 {
		t.Fatalf("wrong counters: completed=%d failed=%d", project.CompletedScenes, project.FailedScenes)
	}
	if project.FinalVideoURL == "" {
		t.Fatal("final video url not attached")
	}
	if project.ReferenceImageID != "img-1" {
		t.Fatalf("reference image not attached, got %q", project.ReferenceImageID)
	}
	if len(scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(scenes))
	}
	for _, s := range scenes {
		if !s.HasVideo() {
			t.Fatalf("scene %d has no video", s.Sequence)
		}
		if s.Status != models.SceneStatusCompleted {
			t.Fatalf("scene %d status %s", s.Sequence, s.Status)
		}
	}
	if len(gen.composeCalls) != 1 {
		t.Fatalf("expected 1 compose call, got %d", len(gen.composeCalls))
	}
	if got := len(gen.composeCalls[0].SceneRefs); got != 3 {
		t.Fatalf("compose should receive 3 refs, got %d", got)
	}
}

func TestScenesStageSkipsExistingScenes(t *testing.T) {
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusPending},
	})
	gen := newFakeGenerator(store, 5)
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.scenesCalls != 0 {
		t.Fatalf("scripting must not run with existing scenes, got %d calls", gen.scenesCalls)
	}
	if !obs.hasMessage("using existing 2 scenes") {
		t.Fatalf("missing skip message, got %v", obs.messages)
	}
	if _, scenes := store.snapshot(); len(scenes) != 2 {
		t.Fatalf("scene collection must stay at 2, got %d", len(scenes))
	}
}

func TestVideosStageGatesOnMediaReference(t *testing.T) {
	// Scene 1 has a media reference despite a stale pending status; only
	// scenes 2 and 3 may be submitted.
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending, VideoURL: "http://worker/p1/1.mp4"},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusPending},
		{ID: "s3", ProjectId: "p1", Sequence: 3, Status: models.SceneStatusPending},
	})
	gen := newFakeGenerator(store, 0)
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, seq := range gen.videoCalls {
		if seq == 1 {
			t.Fatal("scene 1 already had a media reference and was resubmitted")
		}
	}
	if len(gen.videoCalls) != 2 {
		t.Fatalf("expected 2 video submissions, got %v", gen.videoCalls)
	}
}

func TestPartialVideoFailureLeavesProjectProcessing(t *testing.T) {
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusPending},
		{ID: "s3", ProjectId: "p1", Sequence: 3, Status: models.SceneStatusPending},
		{ID: "s4", ProjectId: "p1", Sequence: 4, Status: models.SceneStatusPending},
	})
	gen := newFakeGenerator(store, 0)
	gen.failVideo[2] = true
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}

	project, scenes := store.snapshot()
	if project.Status != models.ProjectStatusProcessing {
		t.Fatalf("partial failure should leave processing, got %s", project.Status)
	}
	if project.CompletedScenes != 3 || project.FailedScenes != 1 {
		t.Fatalf("wrong counters: completed=%d failed=%d", project.CompletedScenes, project.FailedScenes)
	}
	for _, s := range scenes {
		if s.Sequence == 2 {
			if s.Status != models.SceneStatusFailed {
				t.Fatalf("scene 2 should be failed, got %s", s.Status)
			}
			if s.RetryCount != 1 {
				t.Fatalf("scene 2 should record 1 retry (MaxRetries=1), got %d", s.RetryCount)
			}
			if s.ErrorMessage == "" {
				t.Fatal("scene 2 missing error message")
			}
		} else if s.Status != models.SceneStatusCompleted {
			t.Fatalf("sibling scene %d should complete, got %s", s.Sequence, s.Status)
		}
	}
	// The failed scene never aborts siblings or the composition of what exists.
	if len(gen.composeCalls) != 1 {
		t.Fatalf("compose should still run, got %d calls", len(gen.composeCalls))
	}
	if got := len(gen.composeCalls[0].SceneRefs); got != 3 {
		t.Fatalf("compose should receive the 3 available refs, got %d", got)
	}
	if obs.retries == 0 {
		t.Fatal("expected retry notifications for the failing scene")
	}
}

func TestLipSyncRequiresAudioReference(t *testing.T) {
	project := testProject() // no AudioURL / AudioID
	store := newFakeStore(project, []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending, NeedsLipSync: true},
	})
	gen := newFakeGenerator(store, 0)
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gen.lipSyncCalls) != 0 {
		t.Fatalf("lip-sync must not be submitted without an audio reference, got %d calls", len(gen.lipSyncCalls))
	}
	_, scenes := store.snapshot()
	if scenes[0].LipSyncVideoURL != "" {
		t.Fatal("no lip-sync url should be attached")
	}
	found := false
	for _, e := range obs.errors {
		if strings.Contains(e, "no audio reference") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing audio-reference error, got %v", obs.errors)
	}
}

func TestLipSyncSupersedesRawClip(t *testing.T) {
	project := testProject()
	project.AudioURL = "http://audio/track.mp3"
	project.AudioStart = 1.5
	project.AudioEnd = 9.0
	store := newFakeStore(project, []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending, NeedsLipSync: true},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusPending},
	})
	gen := newFakeGenerator(store, 0)
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gen.lipSyncCalls) != 1 {
		t.Fatalf("expected 1 lip-sync call, got %d", len(gen.lipSyncCalls))
	}
	call := gen.lipSyncCalls[0]
	if call.AudioURL != "http://audio/track.mp3" {
		t.Fatalf("wrong audio url: %s", call.AudioURL)
	}
	if call.StartTime != 1.5 || call.EndTime != 9.0 {
		t.Fatalf("audio window not forwarded: [%v, %v]", call.StartTime, call.EndTime)
	}

	_, scenes := store.snapshot()
	if scenes[0].LipSyncVideoURL == "" {
		t.Fatal("lip-sync url not attached")
	}
	if scenes[0].VideoURL == "" {
		t.Fatal("raw clip reference must survive lip-sync")
	}

	// Composition consumes the lip-synced clip for scene 1, the raw clip
	// for scene 2.
	refs := gen.composeCalls[len(gen.composeCalls)-1].SceneRefs
	if refs[0] != scenes[0].LipSyncVideoURL {
		t.Fatalf("compose should use the lip-synced ref, got %s", refs[0])
	}
	if refs[1] != scenes[1].VideoURL {
		t.Fatalf("compose should use the raw ref for scene 2, got %s", refs[1])
	}
}

func TestProjectLevelFailurePersistsFailedStatus(t *testing.T) {
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending},
	})
	gen := newFakeGenerator(store, 0)
	gen.failCompose = true
	obs := &recObserver{}
	orch := newTestOrchestrator(store, gen, obs)

	err := orch.StartFullGeneration(context.Background(), "p1")
	if err == nil {
		t.Fatal("compose failure must fail the run")
	}
	if !strings.Contains(err.Error(), "stage compose") {
		t.Fatalf("error should carry the stage, got %v", err)
	}
	project, _ := store.snapshot()
	if project.Status != models.ProjectStatusFailed {
		t.Fatalf("expected failed, got %s", project.Status)
	}
	if project.ErrorMessage == "" {
		t.Fatal("error message not persisted")
	}
}

func TestValidationFailureDoesNotMarkFailed(t *testing.T) {
	project := testProject()
	project.Idea = ""
	store := newFakeStore(project, nil)
	gen := newFakeGenerator(store, 3)
	orch := newTestOrchestrator(store, gen, &recObserver{})

	if err := orch.StartFullGeneration(context.Background(), "p1"); err == nil {
		t.Fatal("expected validation error")
	}
	got, _ := store.snapshot()
	if got.Status != models.ProjectStatusPending {
		t.Fatalf("validation failure must not change status, got %s", got.Status)
	}
}

func TestSingleFlightGuard(t *testing.T) {
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending},
	})
	gen := newFakeGenerator(store, 0)
	gen.blockVideo = make(chan struct{})
	orch := newTestOrchestrator(store, gen, &recObserver{})

	done := make(chan error, 1)
	go func() {
		done <- orch.StartFullGeneration(context.Background(), "p1")
	}()

	// Wait until the first run is inside the videos stage.
	deadline := time.After(5 * time.Second)
	for {
		gen.mu.Lock()
		started := len(gen.videoCalls) > 0
		gen.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never reached the videos stage")
		case <-time.After(time.Millisecond):
		}
	}

	// A second run is refused, including through a rebound observer copy.
	if err := orch.WithObserver(&recObserver{}).StartFullGeneration(context.Background(), "p1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(gen.blockVideo)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The slot is released after the run.
	gen.blockVideo = nil
	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("follow-up run should be admitted: %v", err)
	}
}

func TestRegenerateSceneReplacesClipAndRecomposes(t *testing.T) {
	project := testProject()
	project.FinalVideoURL = "http://worker/final-old.mp4"
	project.Status = models.ProjectStatusCompleted
	store := newFakeStore(project, []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusCompleted, VideoURL: "http://worker/p1/old-1.mp4"},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusCompleted, VideoURL: "http://worker/p1/old-2.mp4"},
	})
	gen := newFakeGenerator(store, 0)
	orch := newTestOrchestrator(store, gen, &recObserver{})

	if err := orch.RegenerateScene(context.Background(), "p1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gen.videoCalls) != 1 || gen.videoCalls[0] != 2 {
		t.Fatalf("only scene 2 should be resubmitted, got %v", gen.videoCalls)
	}

	got, scenes := store.snapshot()
	if scenes[0].VideoURL != "http://worker/p1/old-1.mp4" {
		t.Fatal("untouched scene's reference must not change")
	}
	if scenes[1].VideoURL == "http://worker/p1/old-2.mp4" || scenes[1].VideoURL == "" {
		t.Fatalf("scene 2 should carry a fresh reference, got %s", scenes[1].VideoURL)
	}
	if got.FinalVideoURL == "http://worker/final-old.mp4" || got.FinalVideoURL == "" {
		t.Fatalf("final output should be re-composed, got %s", got.FinalVideoURL)
	}
	if got.Status != models.ProjectStatusCompleted {
		t.Fatalf("expected completed after regeneration, got %s", got.Status)
	}
	if len(gen.composeCalls) != 1 {
		t.Fatalf("expected exactly 1 re-compose, got %d", len(gen.composeCalls))
	}
}

func TestRegenerateSceneRejectsUnknownSequence(t *testing.T) {
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusCompleted, VideoURL: "http://worker/p1/1.mp4"},
	})
	gen := newFakeGenerator(store, 0)
	orch := newTestOrchestrator(store, gen, &recObserver{})

	err := orch.RegenerateScene(context.Background(), "p1", 9)
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
	if len(gen.videoCalls) != 0 {
		t.Fatal("no work should be submitted for an unknown sequence")
	}
}

func TestRegenerateSceneWithoutFinalSkipsCompose(t *testing.T) {
	store := newFakeStore(testProject(), []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusFailed},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusCompleted, VideoURL: "http://worker/p1/2.mp4"},
	})
	gen := newFakeGenerator(store, 0)
	orch := newTestOrchestrator(store, gen, &recObserver{})

	if err := orch.RegenerateScene(context.Background(), "p1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gen.composeCalls) != 0 {
		t.Fatal("no final output existed, so no re-compose should run")
	}
	got, _ := store.snapshot()
	if got.Status != models.ProjectStatusCompleted {
		t.Fatalf("both scenes now carry media, expected completed, got %s", got.Status)
	}
}

func TestRecomposeDoesNotMutateSceneReferences(t *testing.T) {
	project := testProject()
	store := newFakeStore(project, []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusCompleted, VideoURL: "http://worker/p1/1.mp4"},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusCompleted, VideoURL: "http://worker/p1/2.mp4"},
	})
	gen := newFakeGenerator(store, 0)
	orch := newTestOrchestrator(store, gen, &recObserver{})

	p, _ := store.GetProject(context.Background(), "p1")
	if err := orch.runComposeStage(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := p.FinalVideoURL
	if err := orch.runComposeStage(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.FinalVideoURL == first {
		t.Fatal("re-compose should yield a fresh final reference")
	}

	_, scenes := store.snapshot()
	if scenes[0].VideoURL != "http://worker/p1/1.mp4" || scenes[1].VideoURL != "http://worker/p1/2.mp4" {
		t.Fatal("re-compose must not mutate scene media references")
	}
	if got := gen.composeCalls[1].SceneRefs; got[0] != scenes[0].VideoURL || got[1] != scenes[1].VideoURL {
		t.Fatalf("compose refs diverged from scene references: %v", got)
	}
}

func TestLipSyncSkipsSceneWithoutVideoReference(t *testing.T) {
	project := testProject()
	project.AudioURL = "http://audio/track.mp3"
	store := newFakeStore(project, []models.Scene{
		{ID: "s1", ProjectId: "p1", Sequence: 1, Status: models.SceneStatusPending, NeedsLipSync: true},
		{ID: "s2", ProjectId: "p1", Sequence: 2, Status: models.SceneStatusPending, NeedsLipSync: true},
	})
	gen := newFakeGenerator(store, 0)
	gen.failVideo[1] = true // scene 1 never gets a clip
	orch := newTestOrchestrator(store, gen, &recObserver{})

	if err := orch.StartFullGeneration(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the scene with a clip is submitted; the other is a logged skip,
	// not an error, and its sibling is unaffected.
	if len(gen.lipSyncCalls) != 1 || gen.lipSyncCalls[0].Sequence != 2 {
		t.Fatalf("expected lip-sync for scene 2 only, got %+v", gen.lipSyncCalls)
	}
	_, scenes := store.snapshot()
	if scenes[1].LipSyncVideoURL == "" {
		t.Fatal("sibling scene should still be lip-synced")
	}
}
