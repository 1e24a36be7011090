// Package cron provides scheduled job execution for features that poll
// external sources. Job definitions persist in the state store; the work
// itself is a named task registered by a feature at startup.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tavernbot/pkg/logger"
	"tavernbot/pkg/state"
)

// jobsKey is the state store key holding all job definitions.
const jobsKey = "cron_jobs"

// TaskFunc is the work bound to a job's task name.
type TaskFunc func(ctx context.Context, params map[string]string) error

// Job represents one scheduled job.
type Job struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Schedule  string            `json:"schedule"` // Cron expression
	Task      string            `json:"task"`     // Registered task name
	Params    map[string]string `json:"params,omitempty"`
	Enabled   bool              `json:"enabled"`
	CreatedAt time.Time         `json:"created_at"`

	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	RunCount    int       `json:"run_count"`
	LastError   string    `json:"last_error"`
	LastSuccess bool      `json:"last_success"`
}

// Manager schedules and runs jobs.
type Manager struct {
	log *logger.Logger
	kv  state.KV

	scheduler *cron.Cron
	jobs      map[string]*Job
	entries   map[string]cron.EntryID
	tasks     map[string]TaskFunc
	mu        sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a cron manager persisting job definitions in the state store.
func New(log *logger.Logger, kv state.KV) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		log:       log,
		kv:        kv,
		scheduler: cron.New(),
		jobs:      make(map[string]*Job),
		entries:   make(map[string]cron.EntryID),
		tasks:     make(map[string]TaskFunc),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterTask binds a task name to its work function. Jobs referencing an
// unregistered task fail at execution, not at load.
func (m *Manager) RegisterTask(name string, fn TaskFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[name] = fn
}

// Start loads persisted jobs and starts the scheduler.
func (m *Manager) Start() error {
	m.log.Info("Starting cron manager")

	if err := m.loadJobs(); err != nil {
		m.log.Warn("Failed to load jobs", zap.Error(err))
	}

	m.mu.Lock()
	for _, job := range m.jobs {
		if job.Enabled {
			if err := m.scheduleJob(job); err != nil {
				m.log.Error("Failed to schedule job",
					zap.String("job_id", job.ID),
					zap.Error(err))
			}
		}
	}
	m.mu.Unlock()

	m.scheduler.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (m *Manager) Stop() error {
	m.log.Info("Stopping cron manager")

	ctx := m.scheduler.Stop()
	<-ctx.Done()
	m.cancel()

	m.log.Info("Cron manager stopped")
	return nil
}

// AddJob creates, schedules, and persists a new job.
func (m *Manager) AddJob(name, schedule, task string, params map[string]string) (*Job, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule: %w", err)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Schedule:  schedule,
		Task:      task,
		Params:    params,
		Enabled:   true,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	err := m.scheduleJob(job)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scheduling job: %w", err)
	}

	if err := m.saveJobs(); err != nil {
		m.log.Error("Failed to save jobs", zap.Error(err))
	}

	m.log.Info("Added cron job",
		zap.String("job_id", job.ID),
		zap.String("name", name),
		zap.String("schedule", schedule),
		zap.String("task", task))

	return job, nil
}

// RemoveJob removes a job.
func (m *Manager) RemoveJob(jobID string) error {
	m.mu.Lock()

	job, exists := m.jobs[jobID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("job not found: %s", jobID)
	}

	if entryID, ok := m.entries[jobID]; ok {
		m.scheduler.Remove(entryID)
		delete(m.entries, jobID)
	}
	delete(m.jobs, jobID)
	m.mu.Unlock()

	if err := m.saveJobs(); err != nil {
		m.log.Error("Failed to save jobs", zap.Error(err))
	}

	m.log.Info("Removed cron job",
		zap.String("job_id", jobID),
		zap.String("name", job.Name))
	return nil
}

// RemoveJobsBy removes every job matching the predicate, returning how many
// were removed. Used by features tearing down per-guild schedules.
func (m *Manager) RemoveJobsBy(match func(*Job) bool) int {
	m.mu.Lock()
	removed := 0
	for id, job := range m.jobs {
		if !match(job) {
			continue
		}
		if entryID, ok := m.entries[id]; ok {
			m.scheduler.Remove(entryID)
			delete(m.entries, id)
		}
		delete(m.jobs, id)
		removed++
	}
	m.mu.Unlock()

	if removed > 0 {
		if err := m.saveJobs(); err != nil {
			m.log.Error("Failed to save jobs", zap.Error(err))
		}
	}
	return removed
}

// EnableJob enables a disabled job.
func (m *Manager) EnableJob(jobID string) error {
	m.mu.Lock()

	job, exists := m.jobs[jobID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Enabled {
		m.mu.Unlock()
		return nil
	}

	job.Enabled = true
	err := m.scheduleJob(job)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("scheduling job: %w", err)
	}

	if err := m.saveJobs(); err != nil {
		m.log.Error("Failed to save jobs", zap.Error(err))
	}
	return nil
}

// DisableJob disables a job without removing it.
func (m *Manager) DisableJob(jobID string) error {
	m.mu.Lock()

	job, exists := m.jobs[jobID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("job not found: %s", jobID)
	}
	if !job.Enabled {
		m.mu.Unlock()
		return nil
	}

	job.Enabled = false
	if entryID, ok := m.entries[jobID]; ok {
		m.scheduler.Remove(entryID)
		delete(m.entries, jobID)
	}
	m.mu.Unlock()

	if err := m.saveJobs(); err != nil {
		m.log.Error("Failed to save jobs", zap.Error(err))
	}
	return nil
}

// ListJobs returns copies of all jobs.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobCopy := *job
		jobs = append(jobs, &jobCopy)
	}
	return jobs
}

// GetJob returns a copy of one job.
func (m *Manager) GetJob(jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	jobCopy := *job
	return &jobCopy, nil
}

// scheduleJob adds a job to the scheduler. Caller must hold m.mu.
func (m *Manager) scheduleJob(job *Job) error {
	if entryID, ok := m.entries[job.ID]; ok {
		m.scheduler.Remove(entryID)
	}

	entryID, err := m.scheduler.AddFunc(job.Schedule, func() {
		m.executeJob(job.ID)
	})
	if err != nil {
		return err
	}

	m.entries[job.ID] = entryID
	job.NextRun = m.scheduler.Entry(entryID).Next
	return nil
}

// executeJob runs one job's task and records the outcome.
func (m *Manager) executeJob(jobID string) {
	m.mu.RLock()
	job, exists := m.jobs[jobID]
	if !exists || !job.Enabled {
		m.mu.RUnlock()
		return
	}
	task, taskOK := m.tasks[job.Task]
	taskName := job.Task
	params := job.Params
	m.mu.RUnlock()

	m.log.Info("Executing cron job",
		zap.String("job_id", jobID),
		zap.String("task", taskName))

	var err error
	if taskOK {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Minute)
		err = task(ctx, params)
		cancel()
	} else {
		err = fmt.Errorf("task %q not registered", taskName)
	}

	m.mu.Lock()
	if job, exists := m.jobs[jobID]; exists {
		job.LastRun = time.Now()
		job.RunCount++

		if err != nil {
			job.LastSuccess = false
			job.LastError = err.Error()
			m.log.Error("Cron job failed",
				zap.String("job_id", jobID),
				zap.Error(err))
		} else {
			job.LastSuccess = true
			job.LastError = ""
		}

		if entryID, ok := m.entries[jobID]; ok {
			job.NextRun = m.scheduler.Entry(entryID).Next
		}
	}
	m.mu.Unlock()

	if err := m.saveJobs(); err != nil {
		m.log.Error("Failed to save jobs after execution", zap.Error(err))
	}
}

// loadJobs loads job definitions from the state store.
func (m *Manager) loadJobs() error {
	raw, ok, err := m.kv.Get(m.ctx, jobsKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var jobs []*Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return fmt.Errorf("unmarshaling jobs: %w", err)
	}

	m.mu.Lock()
	for _, job := range jobs {
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()

	m.log.Info("Loaded cron jobs", zap.Int("count", len(jobs)))
	return nil
}

// saveJobs persists job definitions to the state store.
func (m *Manager) saveJobs() error {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	if err := m.kv.Set(context.Background(), jobsKey, jobs); err != nil {
		return fmt.Errorf("writing jobs: %w", err)
	}
	return nil
}
