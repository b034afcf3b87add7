package estimator

import (
	"errors"
	"sync"
	"time"

	"github.com/lucaresi/stima/pkg/models"
)

var (
	// ErrNotFound reports an unknown or expired job id.
	ErrNotFound = errors.New("estimator: job not found")
	// ErrConflict reports a mutation attempt while another is in flight.
	ErrConflict = errors.New("estimator: job already has a mutation in flight")
	// ErrNotDone reports an operation that needs a completed estimate.
	ErrNotDone = errors.New("estimator: job has no completed estimate")
)

func now() int64 {
	return time.Now().UnixMilli()
}

// Store is the in-memory job registry. Terminal jobs are evicted once their
// last update is older than the TTL; pending and running jobs are never
// evicted.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job
	ttl  time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewStore builds a registry and starts its eviction sweeper. A zero or
// negative TTL falls back to 24 hours.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Store{
		jobs: make(map[string]*job),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweep()
	return s
}

// Stop terminates the eviction sweeper and waits for it.
func (s *Store) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Store) sweep() {
	defer s.wg.Done()
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.evict(time.Now()); n > 0 {
				logger.Info("evicted expired jobs", "count", n)
			}
		}
	}
}

func (s *Store) evict(ref time.Time) int {
	cutoff := ref.Add(-s.ttl).UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if (j.Status == StatusDone || j.Status == StatusError) && j.Updated < cutoff {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// Insert registers a new job as pending. enqueue runs while the registry
// lock is held; when it fails the job is not registered.
func (s *Store) Insert(j *job, enqueue func(string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := enqueue(j.ID); err != nil {
		return err
	}
	ts := now()
	j.Status = StatusPending
	j.Progress = progressWaiting
	j.Created = ts
	j.Updated = ts
	s.jobs[j.ID] = j
	return nil
}

// InsertCompleted registers a job that already carries a validated
// estimate, financials and report, entering directly as done.
func (s *Store) InsertCompleted(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := now()
	j.Status = StatusDone
	j.Progress = progressReady
	j.Created = ts
	j.Updated = ts
	s.jobs[j.ID] = j
}

// runInput is the value copy a worker needs to execute a run.
type runInput struct {
	Requirements      string
	ModelDoc          string
	RepoURL           string
	RepoToken         string
	Enrichment        string
	EnrichmentWarning string
	EnrichmentFetched bool
	Rate              float64
	Currency          string
}

// Begin moves a pending job to running and returns the inputs for the run.
func (s *Store) Begin(id string) (runInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return runInput{}, ErrNotFound
	}
	if j.Status != StatusPending {
		return runInput{}, ErrConflict
	}
	j.Status = StatusRunning
	j.Progress = progressStarting
	j.Updated = now()
	return runInput{
		Requirements:      j.Requirements,
		ModelDoc:          j.ModelDoc,
		RepoURL:           j.RepoURL,
		RepoToken:         j.RepoToken,
		Enrichment:        j.Enrichment,
		EnrichmentWarning: j.EnrichmentWarning,
		EnrichmentFetched: j.EnrichmentFetched,
		Rate:              j.Rate,
		Currency:          j.Currency,
	}, nil
}

// Requeue moves a terminal job back to pending for a rerun. Non-empty
// overrides replace the stored documents, chat history starts over and the
// previous estimate stays visible until the new run completes. enqueue runs
// while the registry lock is held; when it fails the job is untouched.
func (s *Store) Requeue(id, requirements, modelDoc string, enqueue func(string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusDone && j.Status != StatusError {
		return ErrConflict
	}
	if err := enqueue(id); err != nil {
		return err
	}
	if requirements != "" {
		j.Requirements = requirements
	}
	if modelDoc != "" {
		j.ModelDoc = modelDoc
	}
	j.ChatHistory = nil
	j.ErrorDetail = ""
	j.Status = StatusPending
	j.Progress = progressWaiting
	j.Updated = now()
	return nil
}

// chatView is the consistent snapshot a refine call works from.
type chatView struct {
	ModelDoc          string
	History           []models.ChatTurn
	Estimate          *models.Estimate
	EnrichmentWarning string
	Rate              float64
	Currency          string
}

// BeginChat moves a done job to running for a chat-patch mutation and
// returns the conversational context. A running job reports ErrConflict;
// a job that never completed reports ErrNotDone.
func (s *Store) BeginChat(id string) (chatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return chatView{}, ErrNotFound
	}
	switch j.Status {
	case StatusDone:
	case StatusRunning:
		return chatView{}, ErrConflict
	default:
		return chatView{}, ErrNotDone
	}
	j.Status = StatusRunning
	j.Progress = progressRefining
	j.Updated = now()
	return chatView{
		ModelDoc:          j.ModelDoc,
		History:           append([]models.ChatTurn(nil), j.ChatHistory...),
		Estimate:          j.Estimate,
		EnrichmentWarning: j.EnrichmentWarning,
		Rate:              j.Rate,
		Currency:          j.Currency,
	}, nil
}

// SetProgress updates the progress message of a job.
func (s *Store) SetProgress(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Progress = msg
		j.Updated = now()
	}
}

// SetEnrichment records the one-time enrichment fetch outcome. Later runs
// of the same job reuse it instead of fetching again.
func (s *Store) SetEnrichment(id, summary, warning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Enrichment = summary
		j.EnrichmentWarning = warning
		j.EnrichmentFetched = true
		j.Updated = now()
	}
}

// Complete installs a freshly computed estimate, financials and report in
// one step and moves the job to done.
func (s *Store) Complete(id string, est *models.Estimate, fin models.FinancialSummary, report string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Estimate = est
	j.Financials = fin
	j.Report = report
	j.ErrorDetail = ""
	j.Status = StatusDone
	j.Progress = progressReady
	j.Updated = now()
}

// Fail moves a running job to error. A previously installed estimate,
// financials and report stay visible.
func (s *Store) Fail(id, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.ErrorDetail = detail
	j.Status = StatusError
	j.Progress = progressFailed
	j.Updated = now()
}

// EndChat restores a chatting job to done without touching the estimate,
// appending any turns the exchange produced.
func (s *Store) EndChat(id string, turns ...models.ChatTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.ChatHistory = append(j.ChatHistory, turns...)
	j.Status = StatusDone
	j.Progress = progressReady
	j.Updated = now()
}

// CompleteChat installs the refined estimate, financials and report
// together with the exchanged turns in one step and restores the job to
// done.
func (s *Store) CompleteChat(id string, est *models.Estimate, fin models.FinancialSummary, report string, turns ...models.ChatTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Estimate = est
	j.Financials = fin
	j.Report = report
	j.ChatHistory = append(j.ChatHistory, turns...)
	j.Status = StatusDone
	j.Progress = progressReady
	j.Updated = now()
}

// LinkSave records the save a job is an editing session of.
func (s *Store) LinkSave(id, saveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LinkedSaveID = saveID
	j.Updated = now()
	return nil
}

// Snapshot returns a consistent copy of a job.
func (s *Store) Snapshot(id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Snapshot{
		ID:                j.ID,
		Status:            j.Status,
		Progress:          j.Progress,
		Requirements:      j.Requirements,
		ModelDoc:          j.ModelDoc,
		RepoURL:           j.RepoURL,
		Enrichment:        j.Enrichment,
		EnrichmentWarning: j.EnrichmentWarning,
		Rate:              j.Rate,
		Currency:          j.Currency,
		Estimate:          j.Estimate,
		Financials:        j.Financials,
		Report:            j.Report,
		ErrorDetail:       j.ErrorDetail,
		ChatHistory:       append([]models.ChatTurn(nil), j.ChatHistory...),
		LinkedSaveID:      j.LinkedSaveID,
		Created:           j.Created,
		Updated:           j.Updated,
	}, nil
}

// Status returns the polling view of a job.
func (s *Store) Status(id string) (*StatusView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &StatusView{
		JobID:       j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		ErrorDetail: j.ErrorDetail,
	}, nil
}
