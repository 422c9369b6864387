package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}
