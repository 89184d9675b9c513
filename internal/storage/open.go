package storage

import (
	"errors"
	"strings"

	"livewatch/internal/model"
	logx "livewatch/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "":
		return nil, errors.New("storage.driver is required")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// refIndexKey is the lookup key of the message reference index.
func refIndexKey(chatID int64, messageID int) [2]int64 {
	return [2]int64{chatID, int64(messageID)}
}

func liveRefs(sub model.Subscription) []model.MessageRef {
	if sub.Status == nil {
		return nil
	}
	out := make([]model.MessageRef, 0, len(sub.Status.MessageRefs))
	for _, r := range sub.Status.MessageRefs {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
