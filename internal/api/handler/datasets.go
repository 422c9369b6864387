package handler

import (
	"net/http"

	"github.com/cklxx/tunehub/internal/api/response"
	"github.com/cklxx/tunehub/pkg/models"
)

// NewCreateDatasetDownloadHandler returns the handler for
// POST /api/v1/datasets/download.
func NewCreateDatasetDownloadHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitJob(w, r, d, models.JobKindDatasetDownload)
	}
}

// NewListDatasetPresetsHandler returns the handler for
// GET /api/v1/datasets/presets: the curated datasets downloadable by short
// name.
func NewListDatasetPresetsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]any{
			"total":   len(models.DatasetPresets),
			"presets": models.DatasetPresets,
		})
	}
}
