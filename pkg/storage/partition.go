package storage

import (
	"time"

	"github.com/tableflow/tableflow/pkg/config"
)

// ComputePartitionKey derives the frozen partition key for a new conversation.
//
// time-based: the creation instant formatted with the configured layout
// (default "2006/01" → "2026/02").
// hash-based: "{first2}/{next2}" of the chat id, spreading conversations
// evenly regardless of creation time.
func ComputePartitionKey(cfg *config.PartitionConfig, chatID string, createdAt time.Time) string {
	if cfg.Strategy == config.PartitionHashBased && len(chatID) >= 4 {
		return chatID[:2] + "/" + chatID[2:4]
	}
	layout := cfg.TimeFormat
	if layout == "" {
		layout = "2006/01"
	}
	return createdAt.UTC().Format(layout)
}
