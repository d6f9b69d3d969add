package verification

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
)

const indexFilename = "index.jsonl"

// Store is a bounded on-disk archive of dispatched audio. A copy of every
// dispatched job is recorded here for later inspection; the store prunes
// itself by age and by record count. Recording is best-effort: failures are
// logged and never surfaced into the processing pipeline.
type Store struct {
	dir      string
	maxAge   time.Duration
	maxFiles int
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	counter int
}

// NewStore creates the verification directory if needed and returns a store
// with the given retention policy.
func NewStore(dir string, maxAge time.Duration, maxFiles int, interval time.Duration, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create verification directory: %w", err)
	}
	return &Store{
		dir:      dir,
		maxAge:   maxAge,
		maxFiles: maxFiles,
		interval: interval,
		logger:   logger,
	}, nil
}

// Record writes a verification copy of the job's audio and appends its
// metadata to the index. The filename is derived from the capture time plus
// a per-process counter to disambiguate captures within the same second.
func (s *Store) Record(job *entities.AudioJob, audio []byte) (string, error) {
	s.mu.Lock()
	s.counter++
	seq := s.counter
	s.mu.Unlock()

	filename := fmt.Sprintf("verification_%s_%04d_%s.wav",
		job.CapturedAt.Format("20060102_150405"), seq, job.ID)

	if err := os.WriteFile(filepath.Join(s.dir, filename), audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to write verification copy: %w", err)
	}

	record := entities.VerificationRecord{
		Filename:  filename,
		CreatedAt: time.Now(),
		SizeBytes: len(audio),
		JobID:     job.ID,
	}
	if err := s.appendIndex(record); err != nil {
		return "", err
	}

	s.logger.Debug("Verification copy saved",
		zap.String("filename", filename),
		zap.Int("sizeBytes", len(audio)))

	s.Prune()
	return filename, nil
}

// List returns the records currently held, newest first.
func (s *Store) List() ([]entities.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

// Prune removes records older than the retention age and enforces the
// maximum record count, deleting oldest first. It is safe to call at any
// time; errors are logged and swallowed.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readIndex()
	if err != nil {
		s.logger.Warn("Verification prune skipped, index unreadable", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	kept := records[:0]
	removed := 0

	// records are newest first, so position doubles as the count rank.
	for i, rec := range records {
		if rec.CreatedAt.Before(cutoff) || i >= s.maxFiles {
			if err := os.Remove(filepath.Join(s.dir, rec.Filename)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("Failed to remove verification file",
					zap.String("filename", rec.Filename),
					zap.Error(err))
			}
			removed++
			continue
		}
		kept = append(kept, rec)
	}

	if removed == 0 {
		return
	}

	if err := s.rewriteIndex(kept); err != nil {
		s.logger.Warn("Failed to rewrite verification index", zap.Error(err))
		return
	}

	s.logger.Info("Verification cleanup finished",
		zap.Int("removed", removed),
		zap.Int("kept", len(kept)))
}

// Run prunes once on startup and then on a fixed interval until the context
// is cancelled.
func (s *Store) Run(done <-chan struct{}) {
	s.Prune()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}

func (s *Store) appendIndex(record entities.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, indexFilename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open verification index: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode verification record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append verification record: %w", err)
	}
	return nil
}

// readIndex returns the index records sorted newest first. Corrupt lines are
// skipped. Caller must hold s.mu.
func (s *Store) readIndex() ([]entities.VerificationRecord, error) {
	f, err := os.Open(filepath.Join(s.dir, indexFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open verification index: %w", err)
	}
	defer f.Close()

	var records []entities.VerificationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec entities.VerificationRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.logger.Warn("Skipping corrupt verification index line", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verification index: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// rewriteIndex replaces the index atomically. Caller must hold s.mu.
func (s *Store) rewriteIndex(records []entities.VerificationRecord) error {
	tmp := filepath.Join(s.dir, indexFilename+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary index: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to encode verification record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to write verification record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush verification index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close verification index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, indexFilename))
}
