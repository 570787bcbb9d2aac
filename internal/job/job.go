// Package job runs one crawl per starting URL in the background, tracks its
// progress and stores the finished book in the cache.
package job

import (
	"errors"
	"sync"
)

// Status is the lifecycle stage of a job.
type Status string

// Job statuses. A job only moves forward through them.
const (
	StatusPending Status = "pending"
	StatusWorking Status = "working"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// ErrNotReady means the job is unknown or has no artifact yet.
var ErrNotReady = errors.New("book not ready")

// Snapshot is the externally visible state of a job. Progress is set only
// while the job is working and counts finished chapters.
type Snapshot struct {
	Status   Status `json:"status"`
	Progress *int   `json:"progress,omitempty"`
}

// Notification is published once per job when it reaches a terminal status.
type Notification struct {
	URL      string `json:"url"`
	RunID    string `json:"run_id"`
	Status   Status `json:"status"`
	Title    string `json:"title,omitempty"`
	Chapters int    `json:"chapters"`
	Error    string `json:"error,omitempty"`
}

// Job tracks one crawl. Only the goroutine running the crawl mutates it.
type Job struct {
	url string

	mu       sync.RWMutex
	status   Status
	progress int
	title    string
	runID    string
	err      error
}

func newJob(url string) *Job {
	return &Job{url: url, status: StatusPending}
}

// URL is the starting URL and job key.
func (j *Job) URL() string { return j.url }

// Snapshot returns the current status.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{Status: j.status}
	if j.status == StatusWorking {
		n := j.progress
		s.Progress = &n
	}
	return s
}

// Title returns the book title once a page offered one.
func (j *Job) Title() (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.title, j.title != ""
}

// Err returns the failure cause of a failed job.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) start(runID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return false
	}
	j.status = StatusWorking
	j.runID = runID
	return true
}

func (j *Job) advance() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusWorking {
		j.progress++
	}
}

func (j *Job) setTitle(title string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.title == "" {
		j.title = title
	}
}

// finish moves the job to a terminal status. Later calls are ignored.
func (j *Job) finish(status Status, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.err = err
	return true
}

func (j *Job) notification() Notification {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := Notification{
		URL:      j.url,
		RunID:    j.runID,
		Status:   j.status,
		Title:    j.title,
		Chapters: j.progress,
	}
	if j.err != nil {
		n.Error = j.err.Error()
	}
	return n
}
