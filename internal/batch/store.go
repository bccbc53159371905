package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists job state. Finished jobs may expire after the store's TTL.
type Store interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{jobs: map[string]Job{}, ttl: ttl, now: time.Now}
}

// Put stores job and drops finished jobs whose TTL has passed, so jobs nobody polls
// again do not accumulate.
func (s *MemoryStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, j := range s.jobs {
		if s.expired(j, now) {
			delete(s.jobs, id)
		}
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if s.expired(job, s.now()) {
		delete(s.jobs, id)
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// Len reports how many jobs are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *MemoryStore) expired(job Job, now time.Time) bool {
	return s.ttl > 0 && job.FinishedAt != nil && now.Sub(*job.FinishedAt) > s.ttl
}

// RedisStore keeps jobs as JSON values so any instance can answer status queries.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return "formcoach:job:" + id
}

func (s *RedisStore) Put(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, jobKey(job.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	payload, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}
