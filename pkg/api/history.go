package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"plotbot-go/pkg/plotter"
)

// Job states.
const (
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobCancelled  = "cancelled"
	JobError      = "error"
)

// JobRecord is one job submitted through the API.
type JobRecord struct {
	JobID         string   `json:"job_id"`
	Name          string   `json:"name"`
	Features      int      `json:"features"`
	Status        string   `json:"status"`
	StartTime     float64  `json:"start_time"`
	EndTime       *float64 `json:"end_time"`
	TotalDuration float64  `json:"total_duration"`
}

// JobTotals aggregates the history.
type JobTotals struct {
	TotalJobs  int     `json:"total_jobs"`
	Completed  int     `json:"completed"`
	TotalTime  float64 `json:"total_time"`
	LongestJob float64 `json:"longest_job"`
}

// History keeps submitted jobs, most recent first. Jobs stay in progress
// until the queue next runs empty.
type History struct {
	mu     sync.RWMutex
	jobs   map[string]*JobRecord
	order  []string
	active []string
	now    func() time.Time
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{
		jobs: make(map[string]*JobRecord),
		now:  time.Now,
	}
}

func newJobID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (h *History) stamp() float64 {
	return float64(h.now().UnixNano()) / 1e9
}

// Start records a job that has just been queued.
func (h *History) Start(name string, features int) *JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	job := &JobRecord{
		JobID:     newJobID(),
		Name:      name,
		Features:  features,
		Status:    JobInProgress,
		StartTime: h.stamp(),
	}
	h.jobs[job.JobID] = job
	h.order = append([]string{job.JobID}, h.order...)
	h.active = append(h.active, job.JobID)
	return job
}

// Finish closes every in-progress job with status.
func (h *History) Finish(status string) []*JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.active) == 0 {
		return nil
	}
	now := h.stamp()
	done := make([]*JobRecord, 0, len(h.active))
	for _, id := range h.active {
		job, ok := h.jobs[id]
		if !ok {
			continue
		}
		end := now
		job.EndTime = &end
		job.Status = status
		job.TotalDuration = now - job.StartTime
		done = append(done, job)
	}
	h.active = nil
	return done
}

// Observe closes in-progress jobs once the controller has drained its
// queue, or marks them failed if it faulted.
func (h *History) Observe(st plotter.Status) []*JobRecord {
	switch {
	case st.Mode == "faulted":
		return h.Finish(JobError)
	case st.Mode == "normal" && st.QueueDepth == 0:
		return h.Finish(JobCompleted)
	}
	return nil
}

// Active reports whether any job is in progress.
func (h *History) Active() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active) > 0
}

// Get returns a job by ID.
func (h *History) Get(id string) (*JobRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	job, ok := h.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	rec := *job
	return &rec, nil
}

// List returns up to limit jobs after skipping start, newest first unless
// order is "asc". limit <= 0 means no limit.
func (h *History) List(limit, start int, order string) []JobRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]JobRecord, 0, len(h.order))
	for _, id := range h.order {
		if job := h.jobs[id]; job != nil {
			out = append(out, *job)
		}
	}
	if order == "asc" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	}
	if start >= len(out) {
		return []JobRecord{}
	}
	if start > 0 {
		out = out[start:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Totals aggregates finished and running jobs.
func (h *History) Totals() JobTotals {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var t JobTotals
	for _, job := range h.jobs {
		t.TotalJobs++
		if job.Status == JobCompleted {
			t.Completed++
		}
		t.TotalTime += job.TotalDuration
		if job.TotalDuration > t.LongestJob {
			t.LongestJob = job.TotalDuration
		}
	}
	return t
}

// Delete removes a job.
func (h *History) Delete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.jobs[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	delete(h.jobs, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	for i, v := range h.active {
		if v == id {
			h.active = append(h.active[:i], h.active[i+1:]...)
			break
		}
	}
	return nil
}
