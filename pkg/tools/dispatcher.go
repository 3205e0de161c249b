package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/amira/pkg/errorsx"
	"github.com/harunnryd/amira/pkg/resilience"
)

// Result is the correlated outcome of one tool call. Exactly one of Value
// or Err carries the payload.
type Result struct {
	ToolCallID string
	ToolName   string
	Value      string
	Err        error
}

// RespondFunc delivers a Result back to the conversation layer, which turns
// it into a client_tool_response wire message.
type RespondFunc func(res Result)

type DispatcherOptions struct {
	Concurrency int
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
}

// Dispatcher runs tool calls on a small worker pool. Every accepted call
// produces exactly one response, error-tagged on failure or timeout, so the
// remote protocol is never left hanging.
type Dispatcher struct {
	registry *Registry
	respond  RespondFunc
	opts     DispatcherOptions
	retry    resilience.RetryPolicy

	tasks     chan task
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type task struct {
	callID string
	name   string
	params map[string]any
}

func NewDispatcher(registry *Registry, respond RespondFunc, opts DispatcherOptions) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 6 * time.Second
	}
	d := &Dispatcher{
		registry: registry,
		respond:  respond,
		opts:     opts,
		retry:    resilience.NewRetryPolicy(opts.Retries, opts.Backoff),
		tasks:    make(chan task, 64),
	}
	for i := 0; i < opts.Concurrency; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues one call. A full queue is answered immediately with an
// error-tagged result rather than silently dropped.
func (d *Dispatcher) Dispatch(callID, name string, params map[string]any) {
	if callID == "" || name == "" {
		return
	}
	select {
	case d.tasks <- task{callID: callID, name: name, params: params}:
	default:
		slog.Warn("tool_dispatcher_queue_full", "tool_name", name)
		d.deliver(Result{
			ToolCallID: callID,
			ToolName:   name,
			Err:        errorsx.New("tool queue full", errorsx.ReasonToolExec),
		})
	}
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.tasks)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.exec(t)
	}
}

func (d *Dispatcher) exec(t task) {
	var value string
	err := d.retry.Do(func() error {
		v, execErr := d.callWithTimeout(t)
		if execErr == nil {
			value = v
			return nil
		}
		// Unknown tools never become known by retrying.
		if errorsx.HasReason(execErr, errorsx.ReasonToolUnknown) {
			return resilience.Permanent(execErr)
		}
		return execErr
	})
	d.deliver(Result{ToolCallID: t.callID, ToolName: t.name, Value: value, Err: err})
}

func (d *Dispatcher) callWithTimeout(t task) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()

	type outcome struct {
		value string
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := d.registry.Handle(ctx, t.name, t.params)
		ch <- outcome{value: v, err: err}
	}()
	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return "", errorsx.New("tool timeout: "+t.name, errorsx.ReasonToolTimeout)
	}
}

func (d *Dispatcher) deliver(res Result) {
	if res.Err != nil {
		slog.Warn("tool_call_failed",
			"tool_name", res.ToolName,
			"tool_call_id", res.ToolCallID,
			"reason_code", string(errorsx.Reason(res.Err)),
			"error", res.Err.Error())
	}
	if d.respond != nil {
		d.respond(res)
	}
}
