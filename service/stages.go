package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"BriefToVideo-server/config"
	"BriefToVideo-server/models"

	"golang.org/x/sync/errgroup"
)

// runScenesStage scripts the scene collection, once per project. Skipped when
// scenes already exist. The scripting service persists the scenes itself; the
// orchestrator re-reads afterwards. A failure here is project-level.
func (o *Orchestrator) runScenesStage(ctx context.Context, project *models.Project) error {
	scenes, err := o.store.GetScenes(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}
	if len(scenes) > 0 {
		msg := fmt.Sprintf("using existing %d scenes", len(scenes))
		log.Printf("[%s] project %s: %s", StageScenes, project.ID, msg)
		o.obs.OnProgress(StageScenes, 1, 1, msg)
		return nil
	}

	o.obs.OnProgress(StageScenes, 0, 1, "")
	if err := o.store.UpdateProject(ctx, project.ID, map[string]interface{}{
		"status": models.ProjectStatusGeneratingScenes,
	}); err != nil {
		log.Printf("failed to mark project %s generating_scenes: %v", project.ID, err)
	}

	req := ScenesRequest{
		ProjectID:   project.ID,
		Idea:        project.Idea,
		Description: project.Description(),
		Flavor:      project.ConfigFlavor,
		Params:      o.flavorParams(project.ConfigFlavor, config.ConfigTypeScenePrompts),
	}
	if err := o.retry.Execute(ctx, RetryContext{Stage: StageScenes, ItemIndex: NoItem}, func(ctx context.Context) error {
		return o.gen.GenerateScenes(ctx, req)
	}); err != nil {
		return err
	}

	scenes, err = o.store.GetScenes(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("re-read scenes: %w", err)
	}
	if len(scenes) == 0 {
		return fmt.Errorf("scripting service persisted no scenes for project %s", project.ID)
	}
	if err := o.store.UpdateProject(ctx, project.ID, map[string]interface{}{
		"status": models.ProjectStatusPending,
	}); err != nil {
		log.Printf("failed to return project %s to pending: %v", project.ID, err)
	}
	o.obs.OnProgress(StageScenes, 1, 1, fmt.Sprintf("%d scenes generated", len(scenes)))
	return nil
}

// runImagesStage generates and attaches one character reference image.
// Skipped when an image is already attached or no character description
// exists. A failure here is project-level.
func (o *Orchestrator) runImagesStage(ctx context.Context, project *models.Project) error {
	o.markProcessing(ctx, project.ID)
	o.obs.OnProgress(StageImages, 0, 1, "")

	if project.ReferenceImageID != "" {
		msg := "reference image already attached"
		log.Printf("[%s] project %s: %s (%s)", StageImages, project.ID, msg, project.ReferenceImageID)
		o.obs.OnProgress(StageImages, 1, 1, msg)
		return nil
	}
	if project.CharacterDesc == "" {
		msg := "no character description, skipping reference image"
		log.Printf("[%s] project %s: %s", StageImages, project.ID, msg)
		o.obs.OnProgress(StageImages, 1, 1, msg)
		return nil
	}

	var images []ImageResult
	if err := o.retry.Execute(ctx, RetryContext{Stage: StageImages, ItemIndex: NoItem}, func(ctx context.Context) error {
		var genErr error
		images, genErr = o.gen.GenerateCharacterReference(ctx, project.CharacterDesc, 1)
		return genErr
	}); err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("image service returned no images for project %s", project.ID)
	}

	if err := o.store.UpdateProject(ctx, project.ID, map[string]interface{}{
		"reference_image_id": images[0].ID,
	}); err != nil {
		return fmt.Errorf("attach reference image: %w", err)
	}
	project.ReferenceImageID = images[0].ID
	o.obs.OnProgress(StageImages, 1, 1, "reference image attached")
	return nil
}

// runVideosStage fans video generation out over every scene that lacks a
// usable media reference — the reference, never the status field, is the
// gate. Per-scene failures are collected and never abort siblings; the stage
// itself cannot fail the run.
func (o *Orchestrator) runVideosStage(ctx context.Context, project *models.Project) {
	o.markProcessing(ctx, project.ID)

	scenes, err := o.store.GetScenes(ctx, project.ID)
	if err != nil {
		o.obs.OnError(StageVideos, NoItem, err)
		log.Printf("[%s] project %s: load scenes failed: %v", StageVideos, project.ID, err)
		return
	}

	var targets []models.Scene
	for _, s := range scenes {
		if !s.HasVideo() {
			targets = append(targets, s)
		}
	}
	total := len(targets)
	if total == 0 {
		o.obs.OnProgress(StageVideos, 0, 0, "all scenes already have video")
		return
	}
	o.obs.OnProgress(StageVideos, 0, total, "")

	var mu sync.Mutex
	done, failed := 0, 0
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(scene models.Scene) {
			defer wg.Done()
			err := o.generateSceneVideo(ctx, project, &scene)
			mu.Lock()
			done++
			if err != nil {
				failed++
			}
			d := done
			mu.Unlock()
			if err != nil {
				o.obs.OnError(StageVideos, scene.Sequence, err)
			}
			o.obs.OnProgress(StageVideos, d, total, "")
		}(targets[i])
	}
	wg.Wait()

	if _, err := o.reconcileAndPersist(ctx, project.ID, false); err != nil {
		log.Printf("[%s] project %s: %v", StageVideos, project.ID, err)
	}
	summary := fmt.Sprintf("%d/%d videos generated", total-failed, total)
	log.Printf("[%s] project %s: %s", StageVideos, project.ID, summary)
	o.obs.OnProgress(StageVideos, total, total, summary)
}

// generateSceneVideo submits one scene to the video service, wrapped in the
// retry policy. The service atomically writes the resulting media reference
// into the scene record itself; only the status fields are written here, so
// concurrently completing scenes never race on a read-modify-write.
func (o *Orchestrator) generateSceneVideo(ctx context.Context, project *models.Project, scene *models.Scene) error {
	if err := o.store.UpdateScene(ctx, project.ID, scene.Sequence, map[string]interface{}{
		"status": models.SceneStatusProcessing,
	}); err != nil {
		log.Printf("failed to mark scene %d processing: %v", scene.Sequence, err)
	}

	req := VideoRequest{
		ProjectID:      project.ID,
		Sequence:       scene.Sequence,
		Prompt:         scene.Prompt,
		NegativePrompt: scene.NegativePrompt,
		Flavor:         project.ConfigFlavor,
		Params:         o.flavorParams(project.ConfigFlavor, config.ConfigTypeVideoParams),
	}
	attempts := 0
	err := o.retry.Execute(ctx, RetryContext{Stage: StageVideos, ItemIndex: scene.Sequence}, func(ctx context.Context) error {
		attempts++
		_, genErr := o.gen.GenerateVideo(ctx, req)
		return genErr
	})
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err != nil {
		if updErr := o.store.UpdateScene(ctx, project.ID, scene.Sequence, map[string]interface{}{
			"status":        models.SceneStatusFailed,
			"error_message": err.Error(),
			"retry_count":   scene.RetryCount + retries,
		}); updErr != nil {
			log.Printf("failed to mark scene %d failed: %v", scene.Sequence, updErr)
		}
		return err
	}
	if updErr := o.store.UpdateScene(ctx, project.ID, scene.Sequence, map[string]interface{}{
		"status":        models.SceneStatusCompleted,
		"error_message": "",
		"retry_count":   scene.RetryCount + retries,
	}); updErr != nil {
		log.Printf("failed to mark scene %d completed: %v", scene.Sequence, updErr)
	}
	return nil
}

// runLipSyncStage fans lip-sync out over every scene flagged for it. Scenes
// without a video reference are skipped (logged, not an error). Per-scene
// failures are collected; a success supersedes the raw clip, and an existing
// final output is cleared so composition runs fresh.
func (o *Orchestrator) runLipSyncStage(ctx context.Context, project *models.Project) {
	o.markProcessing(ctx, project.ID)

	scenes, err := o.store.GetScenes(ctx, project.ID)
	if err != nil {
		o.obs.OnError(StageLipSync, NoItem, err)
		log.Printf("[%s] project %s: load scenes failed: %v", StageLipSync, project.ID, err)
		return
	}

	var targets []models.Scene
	for _, s := range scenes {
		if s.NeedsLipSync {
			targets = append(targets, s)
		}
	}
	total := len(targets)
	if total == 0 {
		o.obs.OnProgress(StageLipSync, 0, 0, "no scenes need lip-sync")
		return
	}
	o.obs.OnProgress(StageLipSync, 0, total, "")

	var mu sync.Mutex
	done, failed, synced := 0, 0, 0
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(scene models.Scene) {
			defer wg.Done()
			err := o.lipSyncScene(ctx, project, scene.Sequence)
			mu.Lock()
			done++
			if err != nil {
				failed++
			} else {
				synced++
			}
			d := done
			mu.Unlock()
			if err != nil {
				o.obs.OnError(StageLipSync, scene.Sequence, err)
			}
			o.obs.OnProgress(StageLipSync, d, total, "")
		}(targets[i])
	}
	wg.Wait()

	if synced > 0 && project.FinalVideoURL != "" {
		// Lip-synced clips supersede the composed output; clear it so the
		// compose stage runs fresh.
		log.Printf("[%s] project %s: clearing final output for re-composition", StageLipSync, project.ID)
		if err := o.store.UpdateProject(ctx, project.ID, map[string]interface{}{
			"final_video_url": "",
		}); err != nil {
			log.Printf("failed to clear final output for %s: %v", project.ID, err)
		}
		project.FinalVideoURL = ""
	}

	if _, err := o.reconcileAndPersist(ctx, project.ID, false); err != nil {
		log.Printf("[%s] project %s: %v", StageLipSync, project.ID, err)
	}
	summary := fmt.Sprintf("%d/%d lip-synced", total-failed, total)
	log.Printf("[%s] project %s: %s", StageLipSync, project.ID, summary)
	o.obs.OnProgress(StageLipSync, total, total, summary)
}

// lipSyncScene lip-syncs a single scene against the project audio. Returns
// nil (a logged skip) when the scene has no video reference yet or is already
// lip-synced.
func (o *Orchestrator) lipSyncScene(ctx context.Context, project *models.Project, sequence int) error {
	scenes, err := o.store.GetScenes(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}
	var scene *models.Scene
	for i := range scenes {
		if scenes[i].Sequence == sequence {
			scene = &scenes[i]
			break
		}
	}
	if scene == nil {
		return fmt.Errorf("scene %d not found for project %s", sequence, project.ID)
	}
	if scene.VideoURL == "" {
		log.Printf("[%s] project %s scene %d has no video reference yet, skipping", StageLipSync, project.ID, sequence)
		return nil
	}
	if scene.LipSyncVideoURL != "" {
		log.Printf("[%s] project %s scene %d already lip-synced, skipping", StageLipSync, project.ID, sequence)
		return nil
	}

	audioRef := project.AudioURL
	if audioRef == "" {
		audioRef = project.AudioID
	}
	if audioRef == "" {
		return fmt.Errorf("project %s has no audio reference for lip-sync", project.ID)
	}

	// Resolve video and audio indirections concurrently; both must land
	// before the lip-sync call converges on them.
	var videoURL, audioURL string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var resErr error
		videoURL, resErr = o.resolveRef(gctx, scene.VideoURL)
		return resErr
	})
	g.Go(func() error {
		var resErr error
		audioURL, resErr = o.resolveRef(gctx, audioRef)
		return resErr
	})
	if err := g.Wait(); err != nil {
		return err
	}

	req := LipSyncRequest{
		ProjectID: project.ID,
		Sequence:  sequence,
		VideoURL:  videoURL,
		AudioURL:  audioURL,
		StartTime: project.AudioStart,
		EndTime:   project.AudioEnd,
		Params:    o.flavorParams(project.ConfigFlavor, config.ConfigTypeLipSyncParams),
	}
	var result *MediaResult
	if err := o.retry.Execute(ctx, RetryContext{Stage: StageLipSync, ItemIndex: sequence}, func(ctx context.Context) error {
		var genErr error
		result, genErr = o.gen.GenerateLipSync(ctx, req)
		return genErr
	}); err != nil {
		if updErr := o.store.UpdateScene(ctx, project.ID, sequence, map[string]interface{}{
			"error_message": err.Error(),
		}); updErr != nil {
			log.Printf("failed to record lip-sync error for scene %d: %v", sequence, updErr)
		}
		return err
	}

	return o.store.UpdateScene(ctx, project.ID, sequence, map[string]interface{}{
		"lip_sync_video_url": result.VideoURL,
		"error_message":      "",
	})
}

// runComposeStage stitches the ordered scene clips into the final video,
// once per project, after all per-scene work has settled. A failure here is
// project-level. Re-composing never mutates any scene's media reference.
func (o *Orchestrator) runComposeStage(ctx context.Context, project *models.Project) error {
	o.markProcessing(ctx, project.ID)

	scenes, err := o.store.GetScenes(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}
	var refs []string
	for _, s := range scenes {
		if s.HasVideo() {
			refs = append(refs, s.ActiveVideoRef())
		}
	}
	if len(refs) == 0 {
		return fmt.Errorf("no scene videos available to compose for project %s", project.ID)
	}
	o.obs.OnProgress(StageCompose, 0, 1, "")

	audioRef := project.AudioURL
	if audioRef == "" {
		audioRef = project.AudioID
	}
	req := ComposeRequest{
		ProjectID: project.ID,
		SceneRefs: refs,
		AudioRef:  audioRef,
		Params:    o.flavorParams(project.ConfigFlavor, config.ConfigTypeComposeParams),
	}
	var result *ComposeResult
	if err := o.retry.Execute(ctx, RetryContext{Stage: StageCompose, ItemIndex: NoItem}, func(ctx context.Context) error {
		var genErr error
		result, genErr = o.gen.ComposeVideo(ctx, req)
		return genErr
	}); err != nil {
		return err
	}

	if err := o.store.UpdateProject(ctx, project.ID, map[string]interface{}{
		"final_video_url": result.FinalURL,
	}); err != nil {
		return fmt.Errorf("attach final output: %w", err)
	}
	project.FinalVideoURL = result.FinalURL
	o.obs.OnProgress(StageCompose, 1, 1, fmt.Sprintf("final video composed from %d scenes", len(refs)))
	return nil
}

// resolveRef turns a media lookup id into a URL. References that are already
// URLs pass through untouched.
func (o *Orchestrator) resolveRef(ctx context.Context, ref string) (string, error) {
	if strings.Contains(ref, "://") || o.resolver == nil {
		return ref, nil
	}
	url, err := o.resolver.ResolveMediaURL(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve media id %s: %w", ref, err)
	}
	return url, nil
}
