package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

type MockFileWatcher struct {
	mock.Mock
}

func (m *MockFileWatcher) Watch(ctx context.Context, path string) (<-chan ports.FileChangeEvent, error) {
	args := m.Called(ctx, path)
	if ch := args.Get(0); ch != nil {
		return ch.(<-chan ports.FileChangeEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileWatcher) Stop() error {
	args := m.Called()
	return args.Error(0)
}

type MockConfigService struct {
	mock.Mock
}

func (m *MockConfigService) LoadConfig(ctx context.Context, workingDir, explicitPath string, flags map[string]interface{}) (*entities.Config, error) {
	args := m.Called(ctx, workingDir, explicitPath, flags)
	if c := args.Get(0); c != nil {
		return c.(*entities.Config), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConfigService) GetDefaultConfig() *entities.Config {
	args := m.Called()
	return args.Get(0).(*entities.Config)
}

func (m *MockConfigService) ValidateConfig(config *entities.Config) error {
	args := m.Called(config)
	return args.Error(0)
}

func (m *MockConfigService) CreateGlobalConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockConfigApplier struct {
	mock.Mock
}

func (m *MockConfigApplier) ApplyConfig(config entities.Config) error {
	args := m.Called(config)
	return args.Error(0)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(event ports.UpdateEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type reloadFixture struct {
	watcher  *MockFileWatcher
	config   *MockConfigService
	applier  *MockConfigApplier
	notifier *MockBroadcaster
	events   chan ports.FileChangeEvent
	service  *ConfigReloadService
}

func newReloadFixture(paths ...string) *reloadFixture {
	f := &reloadFixture{
		watcher:  new(MockFileWatcher),
		config:   new(MockConfigService),
		applier:  new(MockConfigApplier),
		notifier: new(MockBroadcaster),
		events:   make(chan ports.FileChangeEvent, 1),
	}
	for _, path := range paths {
		f.watcher.On("Watch", mock.Anything, path).Return((<-chan ports.FileChangeEvent)(f.events), nil)
	}
	f.service = NewConfigReloadService(f.watcher, f.config, f.applier, f.notifier, quietLogger())
	return f
}

var testSource = ConfigSource{WorkingDir: "/work", ExplicitPath: "", Flags: map[string]interface{}{"port": 9000}}

func TestConfigReloadService_Reload(t *testing.T) {
	f := newReloadFixture("/home/u/.config/papin/optimization.toml", "/work/papin.toml")
	reloaded := validConfig(9000)
	reloaded.Memory.MaxContextTokens = 5000
	changedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	applied := make(chan struct{})
	f.config.On("LoadConfig", mock.Anything, "/work", "", testSource.Flags).Return(reloaded, nil)
	f.applier.On("ApplyConfig", *reloaded).Return(nil)
	f.notifier.On("Broadcast", ports.UpdateEvent{
		Type:      ports.EventTypeConfigReload,
		Timestamp: changedAt,
		Data:      map[string]interface{}{"file": "/work/papin.toml", "type": "modified"},
	}).Run(func(mock.Arguments) { close(applied) }).Return(nil)

	require.NoError(t, f.service.Start(context.Background(), testSource,
		"/home/u/.config/papin/optimization.toml", "/work/papin.toml"))
	assert.True(t, f.service.IsWatching())

	f.events <- ports.FileChangeEvent{Path: "/work/papin.toml", Type: ports.Modified, Timestamp: changedAt}

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}

	f.watcher.On("Stop").Return(nil)
	require.NoError(t, f.service.Stop())
	assert.False(t, f.service.IsWatching())

	f.watcher.AssertExpectations(t)
	f.config.AssertExpectations(t)
	f.applier.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestConfigReloadService_FailedReloadKeepsRunning(t *testing.T) {
	f := newReloadFixture("/work/papin.toml")

	attempts := make(chan struct{}, 2)
	f.config.On("LoadConfig", mock.Anything, "/work", "", testSource.Flags).
		Return(nil, errors.New("parsing TOML")).Once()
	f.config.On("LoadConfig", mock.Anything, "/work", "", testSource.Flags).
		Return(validConfig(9000), nil).Once()
	f.applier.On("ApplyConfig", mock.Anything).
		Run(func(mock.Arguments) { attempts <- struct{}{} }).
		Return(errors.New("memory config: invalid"))

	require.NoError(t, f.service.Start(context.Background(), testSource, "/work/papin.toml"))

	f.events <- ports.FileChangeEvent{Path: "/work/papin.toml", Type: ports.Modified}
	f.events <- ports.FileChangeEvent{Path: "/work/papin.toml", Type: ports.Modified}

	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("second change was not processed")
	}

	f.watcher.On("Stop").Return(nil)
	require.NoError(t, f.service.Stop())

	f.config.AssertNumberOfCalls(t, "LoadConfig", 2)
	f.notifier.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestConfigReloadService_WithoutNotifier(t *testing.T) {
	watcher := new(MockFileWatcher)
	config := new(MockConfigService)
	applier := new(MockConfigApplier)
	events := make(chan ports.FileChangeEvent, 1)

	watcher.On("Watch", mock.Anything, "/work/papin.toml").Return((<-chan ports.FileChangeEvent)(events), nil)
	config.On("LoadConfig", mock.Anything, "/work", "", mock.Anything).Return(validConfig(7420), nil)

	applied := make(chan struct{})
	applier.On("ApplyConfig", mock.Anything).Run(func(mock.Arguments) { close(applied) }).Return(nil)

	service := NewConfigReloadService(watcher, config, applier, nil, nil)
	require.NoError(t, service.Start(context.Background(), ConfigSource{WorkingDir: "/work"}, "/work/papin.toml"))

	events <- ports.FileChangeEvent{Path: "/work/papin.toml", Type: ports.Created}

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("config was not applied")
	}

	watcher.On("Stop").Return(nil)
	require.NoError(t, service.Stop())
}

func TestConfigReloadService_StartErrors(t *testing.T) {
	t.Run("no paths", func(t *testing.T) {
		f := newReloadFixture()
		err := f.service.Start(context.Background(), testSource)
		require.Error(t, err)
		assert.False(t, f.service.IsWatching())
	})

	t.Run("watch failure", func(t *testing.T) {
		f := newReloadFixture()
		f.watcher.On("Watch", mock.Anything, "/work/papin.toml").Return(nil, errors.New("watcher stopped"))

		err := f.service.Start(context.Background(), testSource, "/work/papin.toml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "watching /work/papin.toml")
		assert.False(t, f.service.IsWatching())
	})

	t.Run("already watching", func(t *testing.T) {
		f := newReloadFixture("/work/papin.toml")
		require.NoError(t, f.service.Start(context.Background(), testSource, "/work/papin.toml"))

		err := f.service.Start(context.Background(), testSource, "/work/papin.toml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already watching")

		f.watcher.On("Stop").Return(nil)
		require.NoError(t, f.service.Stop())
	})
}

func TestConfigReloadService_StopWhenNotWatching(t *testing.T) {
	f := newReloadFixture()
	assert.NoError(t, f.service.Stop())
	f.watcher.AssertNotCalled(t, "Stop")
}

func TestConfigReloadService_ContextCancelled(t *testing.T) {
	f := newReloadFixture("/work/papin.toml")
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.service.Start(ctx, testSource, "/work/papin.toml"))
	cancel()

	f.watcher.On("Stop").Return(nil)
	require.NoError(t, f.service.Stop())
	f.config.AssertNotCalled(t, "LoadConfig", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
