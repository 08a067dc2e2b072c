package session

import (
	"errors"
	"strings"

	logx "campd/pkg/logx"
)

// Open initializes the configured store. An empty driver defaults to "file".
func Open(cfg StoreConfig, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown session store driver: " + driver)
	}
}
