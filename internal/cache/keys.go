package cache

import (
	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// Every key lives under one prefix so the service can share a Redis database.
const keyPrefix = "scenarist:"

func JobStatusKey(jobID uuid.UUID) string {
	return keyPrefix + "job:" + jobID.String() + ":status"
}

func RateLimitKey(clientID string) string {
	return keyPrefix + "ratelimit:" + clientID
}

func ItemListKey(kind models.Tab) string {
	return keyPrefix + "items:" + string(kind)
}
