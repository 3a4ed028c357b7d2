package executors

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/pkg/schema"
)

// recordingStep is a journal-backed step that remembers which steps ran.
type recordingStep struct {
	durable.Step

	mu     sync.Mutex
	names  []string
	sleeps []time.Duration
}

func newStep() *recordingStep {
	return newStepWithMemo(durable.NewMemoryMemo())
}

func newStepWithMemo(memo durable.MemoStore) *recordingStep {
	s := &recordingStep{}
	s.Step = durable.NewJournal("run-test", memo, durable.WithSleeper(func(_ context.Context, d time.Duration) error {
		s.mu.Lock()
		s.sleeps = append(s.sleeps, d)
		s.mu.Unlock()
		return nil
	}))
	return s
}

func (s *recordingStep) Run(ctx context.Context, name string, fn durable.StepFunc) (json.RawMessage, error) {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	return s.Step.Run(ctx, name, fn)
}

func (s *recordingStep) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// statusLog collects published statuses in order.
type statusLog struct {
	mu  sync.Mutex
	got []schema.NodeStatus
}

func (l *statusLog) publish(_ context.Context, s schema.NodeStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, s)
}

func (l *statusLog) statuses() []schema.NodeStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]schema.NodeStatus(nil), l.got...)
}

func input(nodeID string, data map[string]any, rc schema.RunContext, step durable.Step, log *statusLog) Input {
	return Input{NodeID: nodeID, Data: data, Context: rc, Step: step, Publish: log.publish}
}

func testClient() *Client {
	return NewClient(HTTPConfig{RatePerHost: 1000, Burst: 1000}, nil)
}

// fakeCreds serves plaintext credentials by ID.
type fakeCreds struct {
	byID map[string]schema.Credential
}

func (f *fakeCreds) Reveal(_ context.Context, id string, want schema.CredentialType) (string, error) {
	c, ok := f.byID[id]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	if want != "" && c.Type != want {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "credential %q has type %s", id, c.Type)
	}
	return string(c.Value), nil
}

// fakeModels records the keys and requests it receives.
type fakeModels struct {
	mu       sync.Mutex
	keys     []string
	texts    []llm.TextRequest
	images   []llm.ImageRequest
	text     string
	imageB64 []string
	err      error
}

func (f *fakeModels) TextModel(_ context.Context, _ llm.Provider, apiKey string) (llm.TextModel, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()
	return f, nil
}

func (f *fakeModels) ImageModel(_ context.Context, _ llm.Provider, apiKey string) (llm.ImageModel, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()
	return f, nil
}

func (f *fakeModels) GenerateText(_ context.Context, req llm.TextRequest) (*llm.TextResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.TextResult{Text: f.text, Model: req.Model}, nil
}

func (f *fakeModels) GenerateImages(_ context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, req)
	if f.err != nil {
		return nil, f.err
	}
	res := &llm.ImageResult{Model: req.Model}
	for _, b := range f.imageB64 {
		res.Images = append(res.Images, llm.Image{Base64: b, MediaType: llm.MediaTypeFor(req.OutputFormat)})
	}
	return res, nil
}

// fakeOwners is an in-memory OwnerClaimer.
type fakeOwners struct {
	mu     sync.Mutex
	owners map[string]string
	claims int
}

func (f *fakeOwners) ClaimNodeOwner(_ context.Context, nodeID, owner string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if cur, ok := f.owners[nodeID]; ok {
		return false, cur, nil
	}
	if f.owners == nil {
		f.owners = map[string]string{}
	}
	f.owners[nodeID] = owner
	return true, owner, nil
}
