package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/eventtrigger/internal/clock"
	"github.com/djlord-it/eventtrigger/internal/cron"
)

// JobKey identifies a job in the registry. Trigger jobs are keyed by the
// trigger's id; infrastructure jobs by name.
type JobKey struct {
	triggerID uuid.UUID
	name      string
}

// TriggerKey is the registry key of the job for a trigger.
func TriggerKey(id uuid.UUID) JobKey {
	return JobKey{triggerID: id}
}

// SystemKey is the registry key of an infrastructure job such as retention.
func SystemKey(name string) JobKey {
	return JobKey{name: name}
}

// TriggerID returns the trigger id for trigger keys.
func (k JobKey) TriggerID() (uuid.UUID, bool) {
	return k.triggerID, k.name == ""
}

func (k JobKey) String() string {
	if k.name != "" {
		return "system:" + k.name
	}
	return "trigger:" + k.triggerID.String()
}

// Job is a live, installed timer for one key.
type Job struct {
	key    JobKey
	fireAt time.Time
	rule   cron.Schedule // nil for one-shot
	run    func(ctx context.Context) error
	timer  clock.Timer
}

// jobStore is the registry of live jobs. It is not safe for concurrent use;
// the Scheduler guards it with its mutex.
type jobStore struct {
	jobs map[JobKey]*Job
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[JobKey]*Job)}
}

// put registers job and returns the job it replaced, if any.
func (s *jobStore) put(job *Job) *Job {
	prev := s.jobs[job.key]
	s.jobs[job.key] = job
	return prev
}

func (s *jobStore) get(key JobKey) (*Job, bool) {
	job, ok := s.jobs[key]
	return job, ok
}

func (s *jobStore) remove(key JobKey) *Job {
	job, ok := s.jobs[key]
	if !ok {
		return nil
	}
	delete(s.jobs, key)
	return job
}

func (s *jobStore) triggerIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.jobs))
	for key := range s.jobs {
		if id, ok := key.TriggerID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *jobStore) drain() []*Job {
	jobs := make([]*Job, 0, len(s.jobs))
	for key, job := range s.jobs {
		jobs = append(jobs, job)
		delete(s.jobs, key)
	}
	return jobs
}

func (s *jobStore) len() int {
	return len(s.jobs)
}
