package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"lpManager/internal/model"
)

var (
	ErrMissingOperationID   = errors.New("operation record has no id")
	ErrDuplicateOperationID = errors.New("duplicate operation id")
)

// JsonlStorage writes the operation log of one run to a JSONL file. The
// run's first batch replaces whatever an earlier run left at the path, and
// every record is stamped with the run ID. A batch is synced to disk before
// PutOperationBatch returns.
type JsonlStorage struct {
	path    string
	runID   string
	mu      sync.Mutex
	started bool
	seen    map[string]struct{}
}

// NewJsonlStorage returns a log for runID at path. An empty runID gets a
// fresh UUID.
func NewJsonlStorage(path, runID string) *JsonlStorage {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &JsonlStorage{path: path, runID: runID, seen: make(map[string]struct{})}
}

func (s *JsonlStorage) RunID() string { return s.runID }

// PutOperationBatch appends a batch of operation records as JSON lines. A
// batch holding a record without an ID, or an ID already written in this
// run, is rejected before anything is written.
func (s *JsonlStorage) PutOperationBatch(ops []model.OperationRecord) error {
	if len(ops) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchIDs := make(map[string]struct{}, len(ops))
	for _, record := range ops {
		if record.ID == "" {
			return fmt.Errorf("%w: %s at %s", ErrMissingOperationID, record.Kind, record.CompletedAt)
		}
		_, dupRun := s.seen[record.ID]
		_, dupBatch := batchIDs[record.ID]
		if dupRun || dupBatch {
			return fmt.Errorf("%w: %s", ErrDuplicateOperationID, record.ID)
		}
		batchIDs[record.ID] = struct{}{}
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !s.started {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()
	s.started = true

	writer := bufio.NewWriter(file)
	for _, record := range ops {
		record.RunID = s.runID
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal operation record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write operation record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}

	for id := range batchIDs {
		s.seen[id] = struct{}{}
	}
	return nil
}
