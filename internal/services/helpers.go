package services

import (
	"context"
	"fmt"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// historyCacheKey is the cache key for a user's materialized package list.
func historyCacheKey(userID string) string {
	return fmt.Sprintf("history:%s", userID)
}

// activeTimelineCacheKey holds the shared active timeline object.
const activeTimelineCacheKey = "timeline:active"
