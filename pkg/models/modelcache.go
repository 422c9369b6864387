package models

import "strings"

// ModelCacheEntry describes one cached model artifact on disk.
type ModelCacheEntry struct {
	ModelName string `json:"model_name"`
	ModelKey  string `json:"model_key"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// ModelKey normalizes a model identifier into a name safe for use as a
// directory: hub ids carry a "/" hierarchy separator ("Qwen/Qwen3-4B") that
// cannot appear in a path component. The replacement is deterministic and
// collision-free because hub ids never contain "--".
func ModelKey(modelName string) string {
	return strings.ReplaceAll(modelName, "/", "--")
}

// ModelNameFromKey is the inverse of ModelKey.
func ModelNameFromKey(key string) string {
	return strings.ReplaceAll(key, "--", "/")
}
