package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cklxx/tunehub/internal/config"
)

// HTTPEngine talks to the trainer sidecar over HTTP. Each operation POSTs
// its config and consumes a newline-delimited JSON event stream: zero or
// more progress events followed by exactly one result or error event.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an HTTPEngine from config. The timeout bounds the
// wait for response headers, not the stream itself; runs stream for as long
// as the work takes.
func NewHTTPEngine(cfg config.EngineConfig) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
		},
	}
}

func (e *HTTPEngine) Name() string { return "http" }

// event is one line of the sidecar's NDJSON stream.
type event struct {
	Type      string          `json:"type"`
	Completed int64           `json:"completed,omitempty"`
	Total     int64           `json:"total,omitempty"`
	Message   string          `json:"message,omitempty"`
	Loss      *float64        `json:"loss,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (e *HTTPEngine) Run(ctx context.Context, cfg TrainingRunConfig, progress ProgressFunc, shouldCancel ShouldCancelFunc) (*TrainingRunResult, error) {
	raw, err := e.stream(ctx, "/v1/train", cfg, progress, shouldCancel)
	if err != nil {
		return nil, err
	}
	var result TrainingRunResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode training result: %w", ErrInvalidResponse)
	}
	return &result, nil
}

func (e *HTTPEngine) Download(ctx context.Context, req DatasetDownloadRequest, progress ProgressFunc, shouldCancel ShouldCancelFunc) (*DatasetDownloadResult, error) {
	raw, err := e.stream(ctx, "/v1/datasets/download", req, progress, shouldCancel)
	if err != nil {
		return nil, err
	}
	var result DatasetDownloadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode dataset result: %w", ErrInvalidResponse)
	}
	return &result, nil
}

func (e *HTTPEngine) DownloadModel(ctx context.Context, modelName, targetDir string, progress ProgressFunc, shouldCancel ShouldCancelFunc) error {
	payload := struct {
		ModelName string `json:"model_name"`
		TargetDir string `json:"target_dir"`
	}{ModelName: modelName, TargetDir: targetDir}

	_, err := e.stream(ctx, "/v1/models/download", payload, progress, shouldCancel)
	return err
}

// stream POSTs payload and consumes the event stream, forwarding progress
// and polling shouldCancel at every event boundary. Returns the raw result
// payload from the terminating result event.
func (e *HTTPEngine) stream(ctx context.Context, path string, payload any, progress ProgressFunc, shouldCancel ShouldCancelFunc) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	// A cancellable child context lets us tear the stream down as soon as a
	// checkpoint observes the cancel flag.
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: engine returned status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", ErrInvalidResponse)
		}

		switch ev.Type {
		case "progress":
			if shouldCancel() {
				stop()
				return nil, ErrCancelled
			}
			progress(ev.Completed, ev.Total, ev.Message, ev.Loss)
		case "result":
			return ev.Result, nil
		case "error":
			return nil, fmt.Errorf("engine: %s", ev.Error)
		default:
			return nil, fmt.Errorf("unknown event type %q: %w", ev.Type, ErrInvalidResponse)
		}
	}
	if err := scanner.Err(); err != nil {
		if shouldCancel() {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("stream ended without result: %w", ErrInvalidResponse)
}

var _ Engine = (*HTTPEngine)(nil)
