package connector

import (
	"context"
	"sync"
	"time"

	"patch-fleet/pkg/model"
)

// FakeCall records one invocation against a Fake.
type FakeCall struct {
	Host    string
	Command string // empty for WaitReachable
}

// Fake is a scriptable in-memory Connector used in tests and dry runs.
// Unset functions default to succeeding with empty output.
type Fake struct {
	ExecuteFunc       func(ctx context.Context, host model.Host, command string) (Result, error)
	WaitReachableFunc func(ctx context.Context, host model.Host, timeout time.Duration) error

	mu    sync.Mutex
	calls []FakeCall
}

func (f *Fake) Execute(ctx context.Context, host model.Host, command string) (Result, error) {
	f.record(FakeCall{Host: host.Name, Command: command})
	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, host, command)
	}
	return Result{}, nil
}

func (f *Fake) WaitReachable(ctx context.Context, host model.Host, timeout time.Duration) error {
	f.record(FakeCall{Host: host.Name})
	if f.WaitReachableFunc != nil {
		return f.WaitReachableFunc(ctx, host, timeout)
	}
	return nil
}

// Calls returns a copy of all recorded invocations.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the recorded invocations against one host.
func (f *Fake) CallsFor(host string) []FakeCall {
	var out []FakeCall
	for _, c := range f.Calls() {
		if c.Host == host {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(c FakeCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}
