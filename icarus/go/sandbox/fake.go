package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FakeDriver is an in-memory Driver used by engine and gateway tests. It
// never talks to a real runtime; sandboxes are just tracked state.
type FakeDriver struct {
	mu         sync.Mutex
	sandboxes  map[string]*fakeSandbox
	CreateHook func(spec CreateSpec) error
}

type fakeSandbox struct {
	name  string
	state State
}

// NewFakeDriver returns a ready-to-use FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{sandboxes: map[string]*fakeSandbox{}}
}

func (f *FakeDriver) Create(_ context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateHook != nil {
		if err := f.CreateHook(spec); err != nil {
			return "", err
		}
	}
	handle := uuid.NewString()
	f.sandboxes[handle] = &fakeSandbox{name: spec.Name, state: StateExited}
	return handle, nil
}

func (f *FakeDriver) Start(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[handle]
	if !ok {
		return ErrNotFound
	}
	sb.state = StateRunning
	return nil
}

func (f *FakeDriver) Inspect(_ context.Context, handle string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[handle]
	if !ok {
		return Status{State: StateUnknown}, ErrNotFound
	}
	return Status{State: sb.state}, nil
}

func (f *FakeDriver) Pause(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[handle]
	if !ok {
		return ErrNotFound
	}
	if sb.state != StateRunning {
		return ErrStateInvalid
	}
	sb.state = StatePaused
	return nil
}

func (f *FakeDriver) Unpause(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[handle]
	if !ok {
		return ErrNotFound
	}
	if sb.state != StatePaused {
		return ErrStateInvalid
	}
	sb.state = StateRunning
	return nil
}

func (f *FakeDriver) Kill(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[handle]
	if !ok {
		return nil // idempotent
	}
	sb.state = StateExited
	return nil
}

func (f *FakeDriver) Remove(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, handle)
	return nil
}

func (f *FakeDriver) List(_ context.Context, namePrefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var handles []string
	for handle, sb := range f.sandboxes {
		if sb.state != StateExited && strings.HasPrefix(sb.name, namePrefix) {
			handles = append(handles, handle)
		}
	}
	return handles, nil
}

func (f *FakeDriver) TailLogs(_ context.Context, handle string) (io.ReadCloser, error) {
	f.mu.Lock()
	_, ok := f.sandboxes[handle]
	f.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(strings.NewReader(fmt.Sprintf("log stream for %s\n", handle))), nil
}

var _ Driver = (*FakeDriver)(nil)
