package audit

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileSink appends one line per request to a local log file, in the format
//
//	<timestamp> - User: <identity> - Path: <path>
//
// Writes are serialized by a mutex so concurrent requests produce whole
// lines. The file is opened in append mode and created if missing.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit log file at path.
func NewFileSink(path string) (*FileSink, error) {
	// #nosec G304 -- path comes from operator configuration, not user input
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileSink{file: f}, nil
}

// Record appends one formatted line. The context is checked before taking
// the lock so an already-abandoned write does not queue behind others.
func (s *FileSink) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line := fmt.Sprintf("%s - User: %s - Path: %s\n", rec.Time.Format("2006-01-02 15:04:05"), rec.User, rec.Path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
