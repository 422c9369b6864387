package handler

import (
	"net/http"

	"github.com/cklxx/tunehub/pkg/models"
)

// NewCreateTrainingHandler returns the handler for POST /api/v1/training.
// The body is the training input; the response is the pending job to poll.
func NewCreateTrainingHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitJob(w, r, d, models.JobKindTraining)
	}
}
