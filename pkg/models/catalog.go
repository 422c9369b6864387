package models

// BaseModel describes a fine-tunable base model offered by the console.
type BaseModel struct {
	ModelName        string   `json:"model_name"`
	ModelSize        string   `json:"model_size"`
	Parameters       int64    `json:"parameters"`
	MaxSeqLength     int      `json:"max_seq_length"`
	Description      string   `json:"description"`
	SupportedMethods []string `json:"supported_training_methods"`
	Recommended      bool     `json:"recommended"`
}

// BaseModelCatalog lists the models the console knows how to fine-tune,
// ordered smallest first.
var BaseModelCatalog = []BaseModel{
	{
		ModelName:        "Qwen/Qwen3-0.6B",
		ModelSize:        "0.6B",
		Parameters:       600_000_000,
		MaxSeqLength:     2048,
		Description:      "Tiny model for quick experiments and constrained hardware",
		SupportedMethods: []string{"sft", "lora", "qlora"},
		Recommended:      true,
	},
	{
		ModelName:        "Qwen/Qwen3-1.8B",
		ModelSize:        "1.8B",
		Parameters:       1_800_000_000,
		MaxSeqLength:     2048,
		Description:      "Small model for mobile and resource-constrained environments",
		SupportedMethods: []string{"sft", "lora", "qlora"},
	},
	{
		ModelName:        "Qwen/Qwen3-4B",
		ModelSize:        "4B",
		Parameters:       4_000_000_000,
		MaxSeqLength:     2048,
		Description:      "Mid-size model balancing quality and training speed",
		SupportedMethods: []string{"sft", "lora", "qlora", "dpo"},
		Recommended:      true,
	},
	{
		ModelName:        "Qwen/Qwen3-7B",
		ModelSize:        "7B",
		Parameters:       7_000_000_000,
		MaxSeqLength:     2048,
		Description:      "Mid-size model recommended for most production use cases",
		SupportedMethods: []string{"sft", "lora", "qlora", "dpo"},
	},
	{
		ModelName:        "Qwen/Qwen3-14B",
		ModelSize:        "14B",
		Parameters:       14_000_000_000,
		MaxSeqLength:     2048,
		Description:      "Large model with improved quality, needs a big accelerator",
		SupportedMethods: []string{"sft", "lora", "qlora", "dpo", "grpo"},
	},
}

// KnownBaseModel reports whether modelName appears in the catalog.
func KnownBaseModel(modelName string) bool {
	for _, m := range BaseModelCatalog {
		if m.ModelName == modelName {
			return true
		}
	}
	return false
}

// TrainingMethods maps each supported fine-tuning method to a short
// human-readable description, served by the catalog endpoint.
var TrainingMethods = map[string]string{
	"sft":   "Supervised Fine-Tuning on instruction-output pairs",
	"lora":  "Low-rank adaptation, parameter-efficient fine-tuning",
	"qlora": "Quantized LoRA for 4-bit training with reduced memory",
	"dpo":   "Direct Preference Optimization",
	"grpo":  "Group Relative Policy Optimization",
}

// ValidTrainingMethod reports whether method is supported.
func ValidTrainingMethod(method string) bool {
	_, ok := TrainingMethods[method]
	return ok
}

// DatasetPreset is a curated instruction dataset the console can download
// by short name instead of a full hub identifier.
type DatasetPreset struct {
	Name        string            `json:"name"`
	DatasetID   string            `json:"dataset_id"`
	Split       string            `json:"split"`
	Subset      string            `json:"subset,omitempty"`
	Description string            `json:"description"`
	Fields      map[string]string `json:"fields"`
}

// DatasetPresets lists the curated datasets served by the presets endpoint.
var DatasetPresets = []DatasetPreset{
	{
		Name:        "alpaca_zh",
		DatasetID:   "AI-ModelScope/alpaca-gpt4-data-zh",
		Split:       "train",
		Description: "Chinese Alpaca instruction data generated with GPT-4",
		Fields: map[string]string{
			"instruction": "instruction",
			"input":       "input",
			"output":      "output",
		},
	},
	{
		Name:        "firefly",
		DatasetID:   "wyj123456/firefly-train-1.1M",
		Split:       "train",
		Description: "Firefly Chinese dialogue corpus, 1.1M samples",
		Fields: map[string]string{
			"instruction": "{input}",
			"input":       "",
			"output":      "target",
		},
	},
	{
		Name:        "belle",
		DatasetID:   "AI-ModelScope/train_0.5M_CN",
		Split:       "train",
		Description: "BELLE Chinese instruction set, 0.5M samples",
		Fields: map[string]string{
			"instruction": "instruction",
			"input":       "input",
			"output":      "output",
		},
	},
}

// DatasetPresetByName resolves a preset short name.
func DatasetPresetByName(name string) (DatasetPreset, bool) {
	for _, p := range DatasetPresets {
		if p.Name == name {
			return p, true
		}
	}
	return DatasetPreset{}, false
}
