package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cklxx/tunehub/pkg/models"
)

// ErrValidation marks malformed or incomplete submission input. It is
// reported synchronously; no job record is created.
var ErrValidation = errors.New("invalid job input")

const (
	defaultTrainingMethod = "lora"
	defaultEpochs         = 3
	defaultBatchSize      = 4
	defaultLearningRate   = 2e-4
	defaultMaxSeqLength   = 2048
	defaultSplit          = "train"
)

// validateInput checks and normalizes the kind-specific payload, applying
// defaults. The returned JSON is the canonical input stored on the record.
func validateInput(kind string, raw json.RawMessage) (json.RawMessage, error) {
	switch kind {
	case models.JobKindTraining:
		var in models.TrainingInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, err
		}
		if in.Name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrValidation)
		}
		if in.ModelName == "" {
			return nil, fmt.Errorf("%w: model_name is required", ErrValidation)
		}
		if in.DatasetPath == "" {
			return nil, fmt.Errorf("%w: dataset_path is required", ErrValidation)
		}
		if in.Method == "" {
			in.Method = defaultTrainingMethod
		}
		if !models.ValidTrainingMethod(in.Method) {
			return nil, fmt.Errorf("%w: unsupported training method %q", ErrValidation, in.Method)
		}
		if in.Epochs <= 0 {
			in.Epochs = defaultEpochs
		}
		if in.BatchSize <= 0 {
			in.BatchSize = defaultBatchSize
		}
		if in.LearningRate <= 0 {
			in.LearningRate = defaultLearningRate
		}
		if in.MaxSeqLength <= 0 {
			in.MaxSeqLength = defaultMaxSeqLength
		}
		return mustMarshal(in), nil

	case models.JobKindDatasetDownload:
		var in models.DatasetDownloadInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, err
		}
		if in.NameOrID == "" {
			return nil, fmt.Errorf("%w: name_or_id is required", ErrValidation)
		}
		if in.SampleLimit < 0 {
			return nil, fmt.Errorf("%w: sample_limit must not be negative", ErrValidation)
		}
		// A preset short name expands to its hub identifier; explicit
		// split/subset values win over the preset's.
		if preset, ok := models.DatasetPresetByName(in.NameOrID); ok {
			in.NameOrID = preset.DatasetID
			if in.Split == "" {
				in.Split = preset.Split
			}
			if in.Subset == "" {
				in.Subset = preset.Subset
			}
		}
		if in.Split == "" {
			in.Split = defaultSplit
		}
		return mustMarshal(in), nil

	case models.JobKindModelDownload:
		var in models.ModelDownloadInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, err
		}
		if in.ModelName == "" {
			return nil, fmt.Errorf("%w: model_name is required", ErrValidation)
		}
		return mustMarshal(in), nil

	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", ErrValidation, kind)
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: input is required", ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All input types marshal cleanly; reaching here is a programming error.
		panic(err)
	}
	return b
}
