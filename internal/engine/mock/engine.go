package mock

import (
	"context"
	"sync/atomic"

	"github.com/cklxx/tunehub/internal/engine"
)

// Engine satisfies engine.Engine for testing. Unset function fields return
// trivially successful results.
type Engine struct {
	Name_             string
	RunFunc           func(ctx context.Context, cfg engine.TrainingRunConfig, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (*engine.TrainingRunResult, error)
	DownloadFunc      func(ctx context.Context, req engine.DatasetDownloadRequest, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (*engine.DatasetDownloadResult, error)
	DownloadModelFunc func(ctx context.Context, modelName, targetDir string, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) error

	RunCalls           atomic.Int64
	DownloadCalls      atomic.Int64
	DownloadModelCalls atomic.Int64
}

func (m *Engine) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *Engine) Run(ctx context.Context, cfg engine.TrainingRunConfig, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (*engine.TrainingRunResult, error) {
	m.RunCalls.Add(1)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, cfg, progress, shouldCancel)
	}
	return &engine.TrainingRunResult{TotalSteps: 1}, nil
}

func (m *Engine) Download(ctx context.Context, req engine.DatasetDownloadRequest, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (*engine.DatasetDownloadResult, error) {
	m.DownloadCalls.Add(1)
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, req, progress, shouldCancel)
	}
	return &engine.DatasetDownloadResult{OutputPath: "mock.jsonl", TotalSamples: 1, Format: "alpaca"}, nil
}

func (m *Engine) DownloadModel(ctx context.Context, modelName, targetDir string, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) error {
	m.DownloadModelCalls.Add(1)
	if m.DownloadModelFunc != nil {
		return m.DownloadModelFunc(ctx, modelName, targetDir, progress, shouldCancel)
	}
	return nil
}

// NewEngine returns a mock with default success behavior.
func NewEngine() *Engine {
	return &Engine{}
}

// NewFailingEngine returns a mock whose every operation fails with err.
func NewFailingEngine(err error) *Engine {
	return &Engine{
		RunFunc: func(context.Context, engine.TrainingRunConfig, engine.ProgressFunc, engine.ShouldCancelFunc) (*engine.TrainingRunResult, error) {
			return nil, err
		},
		DownloadFunc: func(context.Context, engine.DatasetDownloadRequest, engine.ProgressFunc, engine.ShouldCancelFunc) (*engine.DatasetDownloadResult, error) {
			return nil, err
		},
		DownloadModelFunc: func(context.Context, string, string, engine.ProgressFunc, engine.ShouldCancelFunc) error {
			return err
		},
	}
}

// Compile-time check that Engine implements engine.Engine.
var _ engine.Engine = (*Engine)(nil)
