package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"utran/codec"
	"utran/uterr"
)

// workerJob is one unit of work crossing the dispatcher-to-worker boundary,
// already serialized to bytes via codec.BinaryCodec so the boundary is a
// real encode/decode rather than a struct handed across a channel.
type workerJob struct {
	data   []byte
	result chan workerResult
}

type workerResult struct {
	value any
	err   error
}

// WorkerPool offloads WithWorker-flagged handler invocations onto a fixed
// number of long-lived goroutines, decoupling slow handlers from the
// per-request goroutine the dispatcher spawns for every ordinary call.
// Grounded on Server's own goroutine-per-request pattern
// (`go svr.handleRequest(...)`), generalized to a bounded pool: an
// eapache/queue FIFO backlog guarded by a sync.Cond, drained by N workers.
type WorkerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue
	closed  bool

	methods *MethodRegistry
	codec   codec.Codec
	wg      sync.WaitGroup
}

// NewWorkerPool starts n worker goroutines backed by methods for handler
// lookup.
func NewWorkerPool(n int, methods *MethodRegistry) *WorkerPool {
	wp := &WorkerPool{
		backlog: queue.New(),
		methods: methods,
		codec:   codec.GetCodec(codec.CodecTypeBinary),
	}
	wp.cond = sync.NewCond(&wp.mu)
	for i := 0; i < n; i++ {
		wp.wg.Add(1)
		go wp.loop()
	}
	return wp
}

// Submit encodes (methodName, args, dicts) into a JobEnvelope, enqueues it,
// and blocks until a worker processes it or ctx is cancelled.
func (wp *WorkerPool) Submit(ctx context.Context, methodName string, args []any, dicts map[string]any) (any, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	dictsJSON, err := json.Marshal(dicts)
	if err != nil {
		return nil, err
	}
	data, err := wp.codec.Encode(&codec.JobEnvelope{MethodName: methodName, Args: argsJSON, Dicts: dictsJSON})
	if err != nil {
		return nil, err
	}

	job := &workerJob{data: data, result: make(chan workerResult, 1)}

	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return nil, uterr.ErrNoWorkerPool
	}
	wp.backlog.Add(job)
	wp.cond.Signal()
	wp.mu.Unlock()

	select {
	case res := <-job.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// loop is one worker goroutine: wait for backlog work, run it, repeat until
// Close is called and the backlog drains.
func (wp *WorkerPool) loop() {
	defer wp.wg.Done()
	for {
		wp.mu.Lock()
		for wp.backlog.Length() == 0 && !wp.closed {
			wp.cond.Wait()
		}
		if wp.backlog.Length() == 0 && wp.closed {
			wp.mu.Unlock()
			return
		}
		job := wp.backlog.Remove().(*workerJob)
		wp.mu.Unlock()

		wp.run(job)
	}
}

func (wp *WorkerPool) run(job *workerJob) {
	var env codec.JobEnvelope
	if err := wp.codec.Decode(job.data, &env); err != nil {
		job.result <- workerResult{err: err}
		return
	}

	var args []any
	if err := json.Unmarshal(env.Args, &args); err != nil {
		job.result <- workerResult{err: err}
		return
	}
	var dicts map[string]any
	if err := json.Unmarshal(env.Dicts, &dicts); err != nil {
		job.result <- workerResult{err: err}
		return
	}

	entry, ok := wp.methods.Lookup(env.MethodName)
	if !ok {
		job.result <- workerResult{err: uterr.ErrMethodNotFound}
		return
	}

	value, err := invokeSafely(entry, args, dicts)
	job.result <- workerResult{value: value, err: err}
}

// Close stops accepting new jobs and waits for the backlog to drain and
// every worker goroutine to exit.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	wp.closed = true
	wp.mu.Unlock()
	wp.cond.Broadcast()
	wp.wg.Wait()
}

// invokeSafely calls entry's handler, converting a panic into an
// ExecutionError instead of crashing the worker or request goroutine —
// handlers take untyped args/dicts and a bad type assertion inside one is a
// handler bug, not a reason to take the whole server down.
func invokeSafely(entry *methodEntry, args []any, dicts map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = uterr.NewExecutionError(entry.name, fmt.Sprintf("%v", rec))
		}
	}()
	return entry.handler(args, dicts)
}
