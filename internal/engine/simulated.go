package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SimulatedEngine is a development stand-in for the trainer sidecar. It
// produces realistic progress sequences and writes small placeholder
// artifacts so the whole job pipeline can run without GPUs or network.
type SimulatedEngine struct {
	StepDelay time.Duration
	Steps     int64
}

func NewSimulatedEngine() *SimulatedEngine {
	return &SimulatedEngine{StepDelay: 200 * time.Millisecond, Steps: 20}
}

func (e *SimulatedEngine) Name() string { return "simulated" }

func (e *SimulatedEngine) Run(ctx context.Context, cfg TrainingRunConfig, progress ProgressFunc, shouldCancel ShouldCancelFunc) (*TrainingRunResult, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	total := e.Steps * int64(max(cfg.Epochs, 1))
	var loss float64 = 2.5
	best := loss

	for step := int64(1); step <= total; step++ {
		if shouldCancel() {
			return nil, ErrCancelled
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.StepDelay):
		}

		// Loss decays toward a floor with a little per-step variation.
		loss = 0.3 + (loss-0.3)*0.97
		if loss < best {
			best = loss
		}
		l := loss
		progress(step, total, fmt.Sprintf("step %d/%d", step, total), &l)
	}

	adapter := filepath.Join(cfg.OutputDir, "adapter_config.json")
	blob, _ := json.Marshal(map[string]any{
		"base_model": cfg.ModelPath,
		"method":     cfg.Method,
		"steps":      total,
	})
	if err := os.WriteFile(adapter, blob, 0o644); err != nil {
		return nil, fmt.Errorf("write adapter config: %w", err)
	}

	final := loss
	bestCopy := best
	return &TrainingRunResult{TotalSteps: total, FinalLoss: &final, BestLoss: &bestCopy}, nil
}

func (e *SimulatedEngine) Download(ctx context.Context, req DatasetDownloadRequest, progress ProgressFunc, shouldCancel ShouldCancelFunc) (*DatasetDownloadResult, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}

	samples := req.SampleLimit
	if samples <= 0 {
		samples = 100
	}

	outPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s.jsonl", sanitizeFileName(req.NameOrID)))
	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create dataset file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := 0; i < samples; i++ {
		if shouldCancel() {
			return nil, ErrCancelled
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.StepDelay / 10):
		}

		record := map[string]string{
			"instruction": fmt.Sprintf("sample instruction %d", i),
			"input":       "",
			"output":      fmt.Sprintf("sample output %d", i),
		}
		if err := enc.Encode(record); err != nil {
			return nil, fmt.Errorf("write sample: %w", err)
		}
		progress(int64(i+1), int64(samples), fmt.Sprintf("downloaded %d/%d samples", i+1, samples), nil)
	}

	return &DatasetDownloadResult{OutputPath: outPath, TotalSamples: samples, Format: "alpaca"}, nil
}

func (e *SimulatedEngine) DownloadModel(ctx context.Context, modelName, targetDir string, progress ProgressFunc, shouldCancel ShouldCancelFunc) error {
	const files = 5

	for i := 1; i <= files; i++ {
		if shouldCancel() {
			return ErrCancelled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.StepDelay):
		}

		name := fmt.Sprintf("shard-%d.bin", i)
		if i == 1 {
			name = "config.json"
		}
		if err := os.WriteFile(filepath.Join(targetDir, name), []byte(modelName+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		progress(int64(i), files, fmt.Sprintf("fetched %d/%d files", i, files), nil)
	}
	return nil
}

func sanitizeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', ':':
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

var _ Engine = (*SimulatedEngine)(nil)
