// Package evallog persists every judged answer of a run as two streaming
// JSON arrays, correct_responses.json and incorrect_responses.json. The
// writer appends elements as they arrive and flushes often enough that live
// readers (and interrupted runs) lose at most a handful of entries; the
// reader side repairs truncated files.
package evallog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/stats"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

const (
	// CorrectFile and IncorrectFile are the fixed artifact names inside a
	// run directory.
	CorrectFile   = "correct_responses.json"
	IncorrectFile = "incorrect_responses.json"

	flushEvery = 10
)

// Logger writes one run's evaluation log. Lifecycle: New → InitializeRun →
// LogResult... → FinalizeRun. All file writes are serialized through one
// lock.
type Logger struct {
	baseDir string

	mu        sync.Mutex
	runID     string
	runDir    string
	correct   *arrayWriter
	incorrect *arrayWriter
	pending   int

	correctCount   atomic.Int64
	incorrectCount atomic.Int64
}

// New creates a logger rooted at baseDir (typically "logs/evaluations").
func New(baseDir string) *Logger {
	return &Logger{baseDir: baseDir}
}

// InitializeRun creates the run directory
// {base}/{caseType}/{memorySystem}/{sanitizedModel}/{n}_evidence/{runId}/ and
// opens both array writers. The run id is the local-time timestamp.
func (l *Logger) InitializeRun(caseType, memorySystem, modelName string, evidenceCount int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	runID := time.Now().Format("2006-01-02_15-04-05")
	runDir := filepath.Join(l.baseDir, caseType, memorySystem,
		stats.SanitizeName(modelName),
		fmt.Sprintf("%d_evidence", evidenceCount), runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create run directory %s", runDir)
	}

	correct, err := newArrayWriter(filepath.Join(runDir, CorrectFile))
	if err != nil {
		return "", err
	}
	incorrect, err := newArrayWriter(filepath.Join(runDir, IncorrectFile))
	if err != nil {
		correct.abort()
		return "", err
	}

	l.runID = runID
	l.runDir = runDir
	l.correct = correct
	l.incorrect = incorrect
	l.correctCount.Store(0)
	l.incorrectCount.Store(0)
	return runID, nil
}

// RunDir returns the directory of the active run, empty before
// InitializeRun.
func (l *Logger) RunDir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runDir
}

// LogResult appends one entry to the matching array and opportunistically
// flushes both writers every ten entries.
func (l *Logger) LogResult(entry benchtypes.EvaluationLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal log entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.correct == nil {
		return errors.New("log result before InitializeRun")
	}

	if entry.ContextTestResult.IsCorrect {
		err = l.correct.writeElement(data)
		l.correctCount.Add(1)
	} else {
		err = l.incorrect.writeElement(data)
		l.incorrectCount.Add(1)
	}
	if err != nil {
		return err
	}

	l.pending++
	if l.pending >= flushEvery {
		l.pending = 0
		return l.flushLocked()
	}
	return nil
}

// Flush forces both writers to disk.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.correct == nil {
		return nil
	}
	return l.flushLocked()
}

func (l *Logger) flushLocked() error {
	var result *multierror.Error
	result = multierror.Append(result, l.correct.flush(), l.incorrect.flush())
	return result.ErrorOrNil()
}

// Counts returns how many correct and incorrect entries were logged.
func (l *Logger) Counts() (correct, incorrect int64) {
	return l.correctCount.Load(), l.incorrectCount.Load()
}

// FinalizeRun closes both arrays with "]" and reports the final tallies.
// Safe to call once per run.
func (l *Logger) FinalizeRun(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.correct == nil {
		return nil
	}

	var result *multierror.Error
	result = multierror.Append(result, l.correct.close(), l.incorrect.close())
	l.correct = nil
	l.incorrect = nil

	logger.G(ctx).WithField("run_id", l.runID).
		WithField("correct", l.correctCount.Load()).
		WithField("incorrect", l.incorrectCount.Load()).
		Info("evaluation log finalized")
	return result.ErrorOrNil()
}

// arrayWriter streams a JSON array element by element so a million-entry log
// never materializes in memory.
type arrayWriter struct {
	file    *os.File
	writer  *bufio.Writer
	started bool
}

func newArrayWriter(path string) (*arrayWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create log file %s", path)
	}
	w := &arrayWriter{file: file, writer: bufio.NewWriter(file)}
	if _, err := w.writer.WriteString("["); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to open log array")
	}
	return w, nil
}

func (w *arrayWriter) writeElement(data []byte) error {
	if w.started {
		if _, err := w.writer.WriteString(",\n"); err != nil {
			return errors.Wrap(err, "failed to write log separator")
		}
	}
	w.started = true
	_, err := w.writer.Write(data)
	return errors.Wrap(err, "failed to write log element")
}

func (w *arrayWriter) flush() error {
	if err := w.writer.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush log writer")
	}
	return errors.Wrap(w.file.Sync(), "failed to sync log file")
}

func (w *arrayWriter) close() error {
	var result *multierror.Error
	if _, err := w.writer.WriteString("]"); err != nil {
		result = multierror.Append(result, err)
	}
	result = multierror.Append(result, w.writer.Flush(), w.file.Close())
	return result.ErrorOrNil()
}

func (w *arrayWriter) abort() {
	w.file.Close()
	os.Remove(w.file.Name())
}
