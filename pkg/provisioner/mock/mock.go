// Package mock provides an in-memory provisioner for tests.
package mock

import (
	"context"
	"sync"

	"github.com/davidthor/stackctl/pkg/provisioner"
)

// Provisioner is a configurable in-memory provisioner. Zero value succeeds
// every operation with empty outputs and records each request.
type Provisioner struct {
	// ApplyFunc, PlanFunc, and DestroyFunc override the default behavior
	// when non-nil.
	ApplyFunc   func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error)
	PlanFunc    func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error)
	DestroyFunc func(ctx context.Context, req provisioner.Request) error

	mu    sync.Mutex
	calls []Call
}

// Call records one provisioner invocation.
type Call struct {
	Op  string
	Req provisioner.Request
}

func (p *Provisioner) Name() string {
	return "mock"
}

func (p *Provisioner) Apply(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	p.record("apply", req)
	if p.ApplyFunc != nil {
		return p.ApplyFunc(ctx, req)
	}
	return &provisioner.Result{Outputs: map[string]interface{}{}}, nil
}

func (p *Provisioner) Plan(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	p.record("plan", req)
	if p.PlanFunc != nil {
		return p.PlanFunc(ctx, req)
	}
	return &provisioner.Result{Plan: &provisioner.PlanSummary{}}, nil
}

func (p *Provisioner) Destroy(ctx context.Context, req provisioner.Request) error {
	p.record("destroy", req)
	if p.DestroyFunc != nil {
		return p.DestroyFunc(ctx, req)
	}
	return nil
}

func (p *Provisioner) record(op string, req provisioner.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: op, Req: req})
}

// Calls returns a copy of the recorded invocations in order.
func (p *Provisioner) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call{}, p.calls...)
}

// CallKeys returns the unit keys of recorded invocations in order.
func (p *Provisioner) CallKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.calls))
	for i, call := range p.calls {
		keys[i] = call.Req.Key
	}
	return keys
}

var _ provisioner.Provisioner = (*Provisioner)(nil)
