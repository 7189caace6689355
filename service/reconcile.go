package service

import "BriefToVideo-server/models"

// Aggregates are the derived project-level fields recomputed from the scene
// collection. They are never maintained incrementally: retried or out-of-order
// completions make +1/-1 counter updates unsafe, so every batch of scene
// mutations is followed by a full recompute.
type Aggregates struct {
	CompletedScenes int
	FailedScenes    int
	Status          string
}

// Reconcile derives the aggregate counters and project status from the
// authoritative per-scene state. stageFailed marks an unrecoverable
// project-level stage error (partial per-scene failures are not one).
//
// Counters follow the scene status fields; project completion follows the
// media references. The two can transiently disagree (a status write can land
// without its media reference, or vice versa) and both readings are tolerated:
// status stays an observability field, references decide doneness.
func Reconcile(scenes []models.Scene, stageFailed bool) Aggregates {
	agg := Aggregates{}
	allHaveVideo := len(scenes) > 0
	anyStarted := false
	for i := range scenes {
		s := &scenes[i]
		switch s.Status {
		case models.SceneStatusCompleted:
			agg.CompletedScenes++
		case models.SceneStatusFailed:
			agg.FailedScenes++
		}
		if !s.HasVideo() {
			allHaveVideo = false
		}
		if s.Status != models.SceneStatusPending || s.HasVideo() {
			anyStarted = true
		}
	}

	switch {
	case stageFailed:
		agg.Status = models.ProjectStatusFailed
	case allHaveVideo:
		agg.Status = models.ProjectStatusCompleted
	case anyStarted:
		// Partial per-scene failures stay non-terminal until retried or
		// accepted by the caller.
		agg.Status = models.ProjectStatusProcessing
	default:
		agg.Status = models.ProjectStatusPending
	}
	return agg
}
