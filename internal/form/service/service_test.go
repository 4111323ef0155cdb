package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/llm"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"github.com/charrlodin/otter-form/internal/form/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeCompleter 记录请求并返回预设回复
type fakeCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeCompleter) Provider() string {
	return llm.ProviderOpenAI
}

func (f *fakeCompleter) last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// memoryStore 内存对象存储
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// recordingNotifier 记录通知
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifySubmission(_ context.Context, form *entity.Form, resp *entity.Response) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, form.ID+"/"+resp.ID)
	return nil
}

type testEnv struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	svc       *Services
	store     *memoryStore
	completer *fakeCompleter
	notifier  *recordingNotifier
	hub       *sse.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rdb, mr := testutil.SetupRedis(t)

	env := &testEnv{
		db:        db,
		mr:        mr,
		store:     newMemoryStore(),
		completer: &fakeCompleter{},
		notifier:  &recordingNotifier{},
		hub:       sse.NewHub(zap.NewNop()),
	}
	env.svc = NewServices(Deps{
		Repos:     repository.NewRepositories(db),
		Redis:     rdb,
		Store:     env.store,
		Hub:       env.hub,
		Notifier:  env.notifier,
		Completer: env.completer,
		Config:    testutil.TestConfig(),
		Logger:    zap.NewNop(),
	})
	return env
}

// subscribe 注册一个 SSE 客户端
func (e *testEnv) subscribe(userID string) *sse.Client {
	client := &sse.Client{ID: "client-" + userID, UserID: userID, Events: make(chan sse.Event, 16)}
	e.hub.Register(client)
	return client
}

func (e *testEnv) seedForm(t *testing.T, id, owner, slug string) *entity.Form {
	t.Helper()
	return testutil.SeedTestForm(t, e.db, id, owner, slug, testutil.SampleSchema())
}
