package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "campd/pkg/logx"

	"context"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.session.json (full snapshot, atomic tmp+rename)
//   - <prefix>.audit.jsonl  (append-only JSON Lines)
//
// The snapshot is small (one blob) so a full rewrite per save is fine.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	auditFile    *os.File
}

type sessionRecord struct {
	Blob    string `json:"blob"` // base64
	SavedAt string `json:"saved_at"`
}

func openFile(cfg StoreConfig, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./campd_session"
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: prefix + ".session.json",
		auditFile:    af,
	}, nil
}

func (s *fileStore) WatchPath() string { return s.snapshotPath }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}

func (s *fileStore) Load(ctx context.Context) (Session, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	var rec sessionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return Session{}, err
	}
	blob, err := base64.StdEncoding.DecodeString(rec.Blob)
	if err != nil {
		return Session{}, err
	}
	savedAt, _ := time.Parse(time.RFC3339Nano, rec.SavedAt)
	return Session{Blob: blob, SavedAt: savedAt}, nil
}

func (s *fileStore) Save(ctx context.Context, sess Session) error {
	_ = ctx
	if sess.SavedAt.IsZero() {
		sess.SavedAt = time.Now()
	}
	rec := sessionRecord{
		Blob:    base64.StdEncoding.EncodeToString(sess.Blob),
		SavedAt: sess.SavedAt.Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write-then-rename so readers never observe a torn snapshot.
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
