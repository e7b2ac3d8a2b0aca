package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/session"
)

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]*repository.VerificationSession
	profiles map[string]*repository.Profile
	history  map[string][]session.Status

	finds        int
	profileReads int
	agg          *repository.MetricsAggregation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:     map[string]*repository.VerificationSession{},
		profiles: map[string]*repository.Profile{},
		history:  map[string][]session.Status{},
	}
}

func (r *fakeRepo) seed(id string, status session.Status, profileID, livenessID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := &repository.VerificationSession{ID: id, Status: status, CreatedAt: time.Unix(100, 0), UpdatedAt: time.Unix(100, 0)}
	if profileID != "" {
		row.ProfileID = &profileID
	}
	if livenessID != "" {
		row.LivenessSessionID = &livenessID
	}
	r.rows[id] = row
	r.history[id] = []session.Status{status}
}

// force overwrites the status as an out-of-band writer would.
func (r *fakeRepo) force(id string, status session.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id].Status = status
	r.history[id] = append(r.history[id], status)
}

func (r *fakeRepo) statuses(id string) []session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Status(nil), r.history[id]...)
}

func (r *fakeRepo) row(id string) repository.VerificationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

func (r *fakeRepo) Create(_ context.Context, s *repository.VerificationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.ID] = &cp
	r.history[s.ID] = []session.Status{s.Status}
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*repository.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
	}
	cp := *row
	return &cp, nil
}

func (r *fakeRepo) TransitionStatus(_ context.Context, id string, writer session.Writer, to session.Status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !session.CanTransition(writer, row.Status, to) {
		if row.Status == session.StatusProcessing && to == session.StatusProcessing {
			return session.ErrPipelineInProgress
		}
		return fmt.Errorf("%w: %s -> %s", session.ErrInvalidTransition, row.Status, to)
	}
	row.Status = to
	row.FailureReason = reason
	row.UpdatedAt = row.UpdatedAt.Add(time.Second)
	if to == session.StatusWaiting {
		row.FailureReason = ""
		row.ExtractedFields = nil
		row.MatchConfidence = nil
		row.LivenessSessionID = nil
	}
	r.history[id] = append(r.history[id], to)
	return nil
}

func (r *fakeRepo) SetLivenessSession(_ context.Context, id, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if row.Status != session.StatusWaiting {
		return repository.ErrSessionNotWaiting
	}
	row.LivenessSessionID = &handle
	return nil
}

func (r *fakeRepo) SaveMatchConfidence(_ context.Context, id string, confidence float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id].MatchConfidence = &confidence
	return nil
}

func (r *fakeRepo) SaveExtractedFields(_ context.Context, id string, fields *session.ExtractedFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	if row.ExtractedFields != nil {
		return repository.ErrFieldsAlreadyWritten
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	s := string(encoded)
	row.ExtractedFields = &s
	return nil
}

func (r *fakeRepo) FindProfile(_ context.Context, id string) (*repository.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profileReads++
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, repository.ErrNotFound)
	}
	return p, nil
}

func (r *fakeRepo) AggregateMetrics(context.Context) (*repository.MetricsAggregation, error) {
	return r.agg, nil
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	sets   int
}

func newFakeCache() *fakeCache { return &fakeCache{values: map[string]string{}} }

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

type fakeLiveness struct {
	mu       sync.Mutex
	result   ports.LivenessResult
	err      error
	calls    int
	created  int
	gate     chan struct{}
	entered  chan struct{}
	lastRead string
}

func (l *fakeLiveness) CreateLivenessSession(_ context.Context, sessionID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created++
	return fmt.Sprintf("live-%s-%d", sessionID, l.created), nil
}

func (l *fakeLiveness) GetLivenessResults(_ context.Context, id string) (*ports.LivenessResult, error) {
	l.mu.Lock()
	l.calls++
	l.lastRead = id
	gate, entered := l.gate, l.entered
	l.entered = nil
	l.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if l.err != nil {
		return nil, l.err
	}
	res := l.result
	return &res, nil
}

func (l *fakeLiveness) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeFaces struct {
	similarity float64
	err        error
	calls      int
	source     string
	target     string
}

func (f *fakeFaces) CompareFaces(_ context.Context, source, target string, threshold float64) (*ports.FaceMatch, error) {
	f.calls++
	f.source, f.target = source, target
	if f.err != nil {
		return nil, f.err
	}
	return &ports.FaceMatch{Matched: f.similarity > threshold, Similarity: f.similarity}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
}

func (s *fakeStore) PresignUpload(_ context.Context, key, contentType string) (string, error) {
	return "https://uploads.example/" + key + "?ct=" + contentType, nil
}

func (s *fakeStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s missing", key)
	}
	return data, nil
}

type fakeExtractor struct {
	fields *session.ExtractedFields
	err    error
	calls  int
}

func (e *fakeExtractor) ExtractFields(_ context.Context, front, back []byte) (*session.ExtractedFields, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.fields, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev ports.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) statuses() []session.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]session.Status, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Status
	}
	return out
}

type chanSubscriber struct {
	events chan ports.StatusEvent
}

func (s *chanSubscriber) Subscribe(ctx context.Context, _ string) (<-chan ports.StatusEvent, error) {
	return s.events, nil
}

type fakeTokens struct{}

func (fakeTokens) Issue(sessionID string) (string, time.Time, error) {
	return "tok+" + sessionID, time.Unix(2000, 0), nil
}

type harness struct {
	uc         *VerificationUseCase
	repo       *fakeRepo
	cache      *fakeCache
	liveness   *fakeLiveness
	faces      *fakeFaces
	store      *fakeStore
	extractor  *fakeExtractor
	publisher  *recordingPublisher
	subscriber *chanSubscriber
	metrics    *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:       newFakeRepo(),
		cache:      newFakeCache(),
		liveness:   &fakeLiveness{result: ports.LivenessResult{Confidence: 92, Status: "SUCCEEDED"}},
		faces:      &fakeFaces{similarity: 85},
		store:      &fakeStore{objects: map[string][]byte{"S1/id-front.jpg": []byte("front"), "S1/id-back.jpg": []byte("back")}},
		extractor:  &fakeExtractor{fields: &session.ExtractedFields{Name: "Jane Tan", NationalID: "900101-14-5678"}},
		publisher:  &recordingPublisher{},
		subscriber: &chanSubscriber{events: make(chan ports.StatusEvent, 8)},
		metrics:    NewMetrics(prometheus.NewRegistry()),
	}
	h.uc = NewVerificationUseCase(Dependencies{
		Repo:       h.repo,
		Cache:      h.cache,
		Liveness:   h.liveness,
		Faces:      h.faces,
		Store:      h.store,
		Extractor:  h.extractor,
		Publisher:  h.publisher,
		Subscriber: h.subscriber,
		Tokens:     fakeTokens{},
		Metrics:    h.metrics,
		Thresholds: config.DefaultThresholds(),
		AppURL:     "https://kyc.example.com",
	}, zap.NewNop())
	return h
}

func s1Request() PipelineRequest {
	return PipelineRequest{
		SessionID:         "S1",
		LivenessSessionID: "live-S1",
		ProfileID:         "p-1",
		IDFrontKey:        "S1/id-front.jpg",
		IDBackKey:         "S1/id-back.jpg",
	}
}
