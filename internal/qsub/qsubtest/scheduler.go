// Package qsubtest provides an in-memory qsub.Scheduler for tests.
package qsubtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/qsub"
)

// Scheduler is a scripted fake. Each job walks through a state sequence,
// one entry per Poll call, staying on the last entry once reached.
type Scheduler struct {
	mu sync.Mutex

	// Sequences keyed by job name; DefaultSequence applies otherwise.
	// An empty default means the job is Completed on its first poll.
	Sequences       map[string][]models.JobState
	DefaultSequence []models.JobState

	// Logs keyed by job name are written to <LogDir>/<name>.o<id> on submit.
	Logs map[string]string

	// OnSubmit runs after a job is accepted, e.g. to create its outputs.
	OnSubmit func(req qsub.SubmitRequest) error

	// PollErrors makes the next N Poll calls fail.
	PollErrors int

	Submitted []qsub.SubmitRequest
	PollCalls int

	nextID int
	names  map[string]string
	polls  map[string]int
}

// New creates a fake scheduler whose job ids start at 1000.
func New() *Scheduler {
	return &Scheduler{
		Sequences: make(map[string][]models.JobState),
		Logs:      make(map[string]string),
		nextID:    1000,
		names:     make(map[string]string),
		polls:     make(map[string]int),
	}
}

// Submit records req and returns a new Submitted job.
func (s *Scheduler) Submit(ctx context.Context, req qsub.SubmitRequest) (*models.Job, error) {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("%d", s.nextID)
	s.names[id] = req.Name
	s.Submitted = append(s.Submitted, req)
	logText, hasLog := s.Logs[req.Name]
	onSubmit := s.OnSubmit
	s.mu.Unlock()

	job := models.NewJob(id, req.Name, req.LogDir)
	if hasLog && req.LogDir != "" {
		if err := os.MkdirAll(req.LogDir, 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(job.StdoutLog(), []byte(logText), 0644); err != nil {
			return nil, err
		}
	}
	if onSubmit != nil {
		if err := onSubmit(req); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// Register makes a job known to the fake without submitting it, the way
// jobs launched by the sns pipeline are captured from its output.
func (s *Scheduler) Register(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
}

// Poll advances every requested job by one step of its sequence.
func (s *Scheduler) Poll(ctx context.Context, ids []string) (map[string]qsub.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.PollCalls++
	if s.PollErrors > 0 {
		s.PollErrors--
		return nil, fmt.Errorf("qstat failed: scripted error")
	}

	out := make(map[string]qsub.JobStatus, len(ids))
	for _, id := range ids {
		seq := s.Sequences[s.names[id]]
		if len(seq) == 0 {
			seq = s.DefaultSequence
		}
		state := models.JobCompleted
		if len(seq) > 0 {
			i := s.polls[id]
			if i >= len(seq) {
				i = len(seq) - 1
			}
			state = seq[i]
		}
		s.polls[id]++
		out[id] = qsub.JobStatus{ID: id, State: state}
	}
	return out, nil
}

// Polls returns how many times id was polled.
func (s *Scheduler) Polls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[id]
}

// TouchOutputs returns an OnSubmit hook that creates files under dir
// named by fn for each submitted job.
func TouchOutputs(dir string, fn func(req qsub.SubmitRequest) []string) func(qsub.SubmitRequest) error {
	return func(req qsub.SubmitRequest) error {
		for _, name := range fn(req) {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte("ok"), 0644); err != nil {
				return err
			}
		}
		return nil
	}
}
