package jobs

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/molecpathlab/snsxt/internal/models"
)

var ledgerHeader = []string{"RunID", "JobID", "JobName", "Task", "State", "SchedulerState",
	"ExitStatus", "LogFailed", "Notes", "SubmittedAt", "LastUpdated", "LogDir"}

// Ledger persists the state of every job submitted during a run to a CSV
// file so operators can inspect or resume tracking after a crash.
type Ledger struct {
	filePath string
	runID    string
	order    []string
	rows     map[string]*LedgerRow // JobID -> row
	mu       sync.RWMutex
}

// LedgerRow is one persisted job.
type LedgerRow struct {
	RunID          string
	JobID          string
	JobName        string
	Task           string
	State          models.JobState
	SchedulerState string
	ExitStatus     int
	LogFailed      bool
	Notes          string
	SubmittedAt    time.Time
	LastUpdated    time.Time
	LogDir         string
}

// NewLedger creates a ledger writing to filePath, tagging new rows with runID.
func NewLedger(filePath, runID string) *Ledger {
	return &Ledger{
		filePath: filePath,
		runID:    runID,
		rows:     make(map[string]*LedgerRow),
	}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.filePath
}

// Load reads an existing ledger. A missing file is not an error.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open job ledger: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read job ledger: %w", err)
	}
	if len(records) < 2 {
		return nil
	}

	for _, record := range records[1:] {
		if len(record) < len(ledgerHeader) {
			continue
		}
		exitStatus, _ := strconv.Atoi(record[6])
		logFailed, _ := strconv.ParseBool(record[7])
		submitted, _ := time.Parse(time.RFC3339, record[9])
		updated, _ := time.Parse(time.RFC3339, record[10])

		row := &LedgerRow{
			RunID:          record[0],
			JobID:          record[1],
			JobName:        record[2],
			Task:           record[3],
			State:          models.JobState(record[4]),
			SchedulerState: record[5],
			ExitStatus:     exitStatus,
			LogFailed:      logFailed,
			Notes:          record[8],
			SubmittedAt:    submitted,
			LastUpdated:    updated,
			LogDir:         record[11],
		}
		if _, ok := l.rows[row.JobID]; !ok {
			l.order = append(l.order, row.JobID)
		}
		l.rows[row.JobID] = row
	}
	return nil
}

// Record upserts job and saves the ledger.
func (l *Ledger) Record(job *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[job.ID]
	if !ok {
		row = &LedgerRow{RunID: l.runID, JobID: job.ID}
		l.rows[job.ID] = row
		l.order = append(l.order, job.ID)
	}
	row.JobName = job.Name
	row.Task = job.Task
	row.State = job.State
	row.SchedulerState = job.SchedulerState
	row.ExitStatus = job.ExitStatus
	row.LogFailed = job.LogFailed
	row.Notes = job.CompletionNotes
	row.SubmittedAt = job.SubmittedAt
	row.LastUpdated = time.Now()
	row.LogDir = job.LogDir

	return l.saveUnlocked()
}

// Save writes the ledger to disk.
func (l *Ledger) Save() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.saveUnlocked()
}

// saveUnlocked writes via a temp file and rename. Caller must hold l.mu.
func (l *Ledger) saveUnlocked() error {
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tempFile := l.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.Write(ledgerHeader); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	for _, id := range l.order {
		row := l.rows[id]
		record := []string{
			row.RunID,
			row.JobID,
			row.JobName,
			row.Task,
			string(row.State),
			row.SchedulerState,
			strconv.Itoa(row.ExitStatus),
			strconv.FormatBool(row.LogFailed),
			row.Notes,
			row.SubmittedAt.Format(time.RFC3339),
			row.LastUpdated.Format(time.RFC3339),
			row.LogDir,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write ledger record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tempFile, l.filePath); err != nil {
		return fmt.Errorf("failed to rename ledger file: %w", err)
	}

	success = true
	return nil
}

// Rows returns all rows in insertion order.
func (l *Ledger) Rows() []LedgerRow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := make([]LedgerRow, 0, len(l.order))
	for _, id := range l.order {
		rows = append(rows, *l.rows[id])
	}
	return rows
}

// CountByState counts rows in the given state.
func (l *Ledger) CountByState(state models.JobState) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, row := range l.rows {
		if row.State == state {
			count++
		}
	}
	return count
}

// Pending returns rows that have not reached a terminal state, as jobs
// that can be handed back to a Tracker.
func (l *Ledger) Pending() []*models.Job {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var jobs []*models.Job
	for _, id := range l.order {
		row := l.rows[id]
		if row.State.IsTerminal() {
			continue
		}
		job := models.NewJob(row.JobID, row.JobName, row.LogDir)
		job.Task = row.Task
		job.State = row.State
		job.SubmittedAt = row.SubmittedAt
		jobs = append(jobs, job)
	}
	return jobs
}
