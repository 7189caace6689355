package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// WorkerClient talks to the external generation worker over HTTP. Every
// operation is submit-then-poll: POST /v1/generate returns a job id, and
// GET /v1/jobs/{id} is polled until the job reaches a terminal status. The
// worker persists scene records and scene media references itself; this
// client only returns the job's result payload.
//
// The client owns the HTTP timeouts; retries belong to the RetryPolicy layer
// above it.
type WorkerClient struct {
	Endpoint string

	client       *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewWorkerClient(endpoint string) *WorkerClient {
	return &WorkerClient{
		Endpoint:     endpoint,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 3 * time.Second,
		pollTimeout:  30 * time.Minute,
	}
}

func (w *WorkerClient) GenerateScenes(ctx context.Context, req ScenesRequest) error {
	_, err := w.run(ctx, "generate_scenes", map[string]interface{}{
		"project_id":  req.ProjectID,
		"idea":        req.Idea,
		"description": req.Description,
		"flavor":      req.Flavor,
		"params":      req.Params,
	})
	return err
}

func (w *WorkerClient) GenerateCharacterReference(ctx context.Context, description string, count int) ([]ImageResult, error) {
	result, err := w.run(ctx, "generate_reference_image", map[string]interface{}{
		"description": description,
		"count":       count,
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Images []ImageResult `json:"images"`
	}
	if err := remarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode image result: %v", err)
	}
	return payload.Images, nil
}

func (w *WorkerClient) GenerateVideo(ctx context.Context, req VideoRequest) (*MediaResult, error) {
	result, err := w.run(ctx, "generate_video", map[string]interface{}{
		"project_id":      req.ProjectID,
		"sequence":        req.Sequence,
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"flavor":          req.Flavor,
		"params":          req.Params,
	})
	if err != nil {
		return nil, err
	}
	var media MediaResult
	if err := remarshal(result, &media); err != nil {
		return nil, fmt.Errorf("decode video result: %v", err)
	}
	return &media, nil
}

func (w *WorkerClient) GenerateLipSync(ctx context.Context, req LipSyncRequest) (*MediaResult, error) {
	params := map[string]interface{}{
		"project_id": req.ProjectID,
		"sequence":   req.Sequence,
		"video_url":  req.VideoURL,
		"audio_url":  req.AudioURL,
		"params":     req.Params,
	}
	if req.EndTime > req.StartTime {
		params["start_time"] = req.StartTime
		params["end_time"] = req.EndTime
	}
	result, err := w.run(ctx, "generate_lipsync", params)
	if err != nil {
		return nil, err
	}
	var media MediaResult
	if err := remarshal(result, &media); err != nil {
		return nil, fmt.Errorf("decode lip-sync result: %v", err)
	}
	return &media, nil
}

func (w *WorkerClient) ComposeVideo(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	result, err := w.run(ctx, "compose_video", map[string]interface{}{
		"project_id": req.ProjectID,
		"scene_refs": req.SceneRefs,
		"audio_ref":  req.AudioRef,
		"params":     req.Params,
	})
	if err != nil {
		return nil, err
	}
	var composed ComposeResult
	if err := remarshal(result, &composed); err != nil {
		return nil, fmt.Errorf("decode compose result: %v", err)
	}
	return &composed, nil
}

// run submits a job and polls it to completion.
func (w *WorkerClient) run(ctx context.Context, jobType string, params map[string]interface{}) (map[string]interface{}, error) {
	jobID, err := w.submit(ctx, jobType, params)
	if err != nil {
		return nil, err
	}
	return w.poll(ctx, jobID)
}

// submit sends the POST request and returns the worker's job id.
func (w *WorkerClient) submit(ctx context.Context, jobType string, params map[string]interface{}) (string, error) {
	reqBody := map[string]interface{}{
		"type":       jobType,
		"parameters": params,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}

	fullURL := w.Endpoint + "/v1/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	log.Printf("POST %s (%s)", fullURL, jobType)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}
	if id, ok := respData["id"].(string); ok && id != "" {
		return id, nil
	}
	if jobID, ok := respData["job_id"].(string); ok && jobID != "" {
		return jobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

// poll polls GET /v1/jobs/{job_id} until the job reaches a terminal status.
func (w *WorkerClient) poll(ctx context.Context, jobID string) (map[string]interface{}, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", w.Endpoint, jobID)

	timeout := time.After(w.pollTimeout)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, fmt.Errorf("polling timeout for job %s", jobID)
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %v", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
			if err != nil {
				log.Printf("create poll request failed: %v", err)
				continue
			}
			resp, err := w.client.Do(req)
			if err != nil {
				// ctx cancellation is caught by <-ctx.Done() above.
				log.Printf("poll network error (retrying): %v", err)
				continue
			}
			bodyBytes, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				log.Printf("read poll response failed: %v", err)
				continue
			}

			var job struct {
				ID     string                 `json:"id"`
				Status string                 `json:"status"`
				Result map[string]interface{} `json:"result"`
				Error  string                 `json:"error"`
			}
			if err := json.Unmarshal(bodyBytes, &job); err != nil {
				bodyStr := string(bodyBytes)
				if len(bodyStr) > 2000 {
					bodyStr = bodyStr[:2000] + "..."
				}
				log.Printf("parse poll response failed: %v, body: %s", err, bodyStr)
				continue
			}

			switch job.Status {
			case "finished", "completed", "success", "succeeded":
				return job.Result, nil
			case "failed", "error":
				return nil, fmt.Errorf("worker reported failure: %s", job.Error)
			}
			// any other status: keep polling
		}
	}
}

// remarshal converts a decoded JSON map into a typed struct.
func remarshal(data map[string]interface{}, out interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
