package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cklxx/tunehub/internal/api/response"
	"github.com/cklxx/tunehub/internal/modelcache"
	"github.com/cklxx/tunehub/pkg/models"
)

// ModelCache is the cache-facing surface the handlers depend on.
type ModelCache interface {
	List() ([]models.ModelCacheEntry, error)
	TotalSize() (int64, error)
	Evict(modelName string) error
	EvictAll() (int, error)
}

// NewCreateModelDownloadHandler returns the handler for
// POST /api/v1/models/download.
func NewCreateModelDownloadHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitJob(w, r, d, models.JobKindModelDownload)
	}
}

// NewListModelsHandler returns the handler for GET /api/v1/models: the
// static catalog of fine-tunable base models and supported methods.
func NewListModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]any{
			"total":   len(models.BaseModelCatalog),
			"models":  models.BaseModelCatalog,
			"methods": models.TrainingMethods,
		})
	}
}

// NewListModelCacheHandler returns the handler for GET /api/v1/models/cache.
func NewListModelCacheHandler(mc ModelCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := mc.List()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		size, err := mc.TotalSize()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{
			"total":            len(entries),
			"total_size_bytes": size,
			"entries":          entries,
		})
	}
}

// NewEvictModelHandler returns the handler for
// DELETE /api/v1/models/cache/{modelKey}. The path carries the normalized
// key, so "Qwen/Qwen3-4B" is addressed as "Qwen--Qwen3-4B".
func NewEvictModelHandler(mc ModelCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modelName := models.ModelNameFromKey(chi.URLParam(r, "modelKey"))

		err := mc.Evict(modelName)
		if errors.Is(err, modelcache.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Model not in cache", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, map[string]any{"model_name": modelName, "evicted": true})
	}
}

// NewEvictAllModelsHandler returns the handler for DELETE /api/v1/models/cache.
// Partial failures do not abort the sweep; the count reflects what was
// actually removed.
func NewEvictAllModelsHandler(mc ModelCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := mc.EvictAll()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "EVICTION_INCOMPLETE",
				"Some cache entries could not be removed",
				map[string]any{"removed": removed, "error": err.Error()})
			return
		}
		response.JSON(w, map[string]any{"removed": removed})
	}
}
