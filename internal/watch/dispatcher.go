package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/workflow"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 250 * time.Millisecond

// ErrAlreadyWatching indicates Watch was called while a loop was running.
var ErrAlreadyWatching = errors.New("watch: dispatcher is already watching")

// RunReport describes one scheduler invocation made by the dispatcher.
type RunReport struct {
	Tasks  []string
	Paths  []string
	Result workflow.RunResult
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	// Debounce is the quiet period after the last matching event before a
	// flush. Zero selects DefaultDebounce.
	Debounce time.Duration
	// Roots are the directories to subscribe to. When empty they are derived
	// from the rules' patterns.
	Roots []string
	// WorkingDirectory is the base event paths are made relative to.
	WorkingDirectory string
}

// DispatcherDependencies carries the collaborators of a Dispatcher.
type DispatcherDependencies struct {
	Runner        workflow.Runner
	Logger        *zap.Logger
	SourceFactory SourceFactory
}

// Dispatcher re-runs task lists when files matching watch rules change.
// Matching events are coalesced over the debounce window and runs never
// overlap.
type Dispatcher struct {
	config        DispatcherConfig
	runner        workflow.Runner
	logger        *zap.Logger
	sourceFactory SourceFactory

	mutex   sync.Mutex
	stop    context.CancelFunc
	stopped chan struct{}
}

// NewDispatcher builds a dispatcher. A nil SourceFactory selects fsnotify.
func NewDispatcher(config DispatcherConfig, dependencies DispatcherDependencies) *Dispatcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if len(config.WorkingDirectory) == 0 {
		config.WorkingDirectory = "."
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sourceFactory := dependencies.SourceFactory
	if sourceFactory == nil {
		sourceFactory = NewFSNotifySourceFactory(logger)
	}
	return &Dispatcher{
		config:        config,
		runner:        dependencies.Runner,
		logger:        logger,
		sourceFactory: sourceFactory,
	}
}

// Watch subscribes to the configured roots and dispatches runs until ctx
// ends or Stop is called, then returns nil after the in-flight run
// finishes. onRunComplete is called from the run goroutine after every run.
// A failure to subscribe is returned as SubscriptionError.
func (dispatcher *Dispatcher) Watch(ctx context.Context, rules []Rule, onRunComplete func(RunReport)) error {
	watchContext, stop := context.WithCancel(ctx)
	defer stop()

	dispatcher.mutex.Lock()
	if dispatcher.stop != nil {
		dispatcher.mutex.Unlock()
		return ErrAlreadyWatching
	}
	stopped := make(chan struct{})
	dispatcher.stop = stop
	dispatcher.stopped = stopped
	dispatcher.mutex.Unlock()
	defer func() {
		dispatcher.mutex.Lock()
		dispatcher.stop = nil
		dispatcher.stopped = nil
		dispatcher.mutex.Unlock()
		close(stopped)
	}()

	roots := dispatcher.config.Roots
	if len(roots) == 0 {
		roots = Roots(rules)
	}
	subscribedRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		subscribedRoots = append(subscribedRoots, filepath.Join(dispatcher.config.WorkingDirectory, filepath.FromSlash(root)))
	}
	source, sourceError := dispatcher.sourceFactory(subscribedRoots)
	if sourceError != nil {
		var subscriptionError SubscriptionError
		if errors.As(sourceError, &subscriptionError) {
			return subscriptionError
		}
		return SubscriptionError{Root: filepath.Join(subscribedRoots...), Cause: sourceError}
	}

	dispatcher.logger.Info("watching for changes",
		zap.Strings("roots", subscribedRoots),
		zap.Int("rules", len(rules)),
		zap.Duration("debounce", dispatcher.config.Debounce),
	)

	loop := dispatchLoop{
		dispatcher:    dispatcher,
		rules:         rules,
		onRunComplete: onRunComplete,
		pending:       newPendingSet(),
	}
	loop.run(watchContext, source)

	if closeError := source.Close(); closeError != nil {
		dispatcher.logger.Warn("watch unsubscribe failed", zap.Error(closeError))
	}
	dispatcher.logger.Info("watch stopped")
	return nil
}

// Stop ends a running Watch and waits for it to return.
func (dispatcher *Dispatcher) Stop() {
	dispatcher.mutex.Lock()
	stop := dispatcher.stop
	stopped := dispatcher.stopped
	dispatcher.mutex.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-stopped
}

func (dispatcher *Dispatcher) relativePath(eventPath string) string {
	relative, relativeError := filepath.Rel(dispatcher.config.WorkingDirectory, eventPath)
	if relativeError != nil {
		relative = eventPath
	}
	return glob.NormalizePath(filepath.ToSlash(relative))
}

type dispatchLoop struct {
	dispatcher    *Dispatcher
	rules         []Rule
	onRunComplete func(RunReport)
	pending       *pendingSet
}

func (loop *dispatchLoop) run(ctx context.Context, source EventSource) {
	var debounceTimer *time.Timer
	var debounceElapsed <-chan time.Time
	var runDone chan struct{}
	flushDue := false

	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		if runDone != nil {
			<-runDone
		}
	}()

	events := source.Events()
	sourceErrors := source.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if !loop.record(event) {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(loop.dispatcher.config.Debounce)
			} else {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(loop.dispatcher.config.Debounce)
			}
			debounceElapsed = debounceTimer.C
			flushDue = false
		case sourceError, open := <-sourceErrors:
			if !open {
				sourceErrors = nil
				continue
			}
			loop.dispatcher.logger.Warn("watch event error", zap.Error(sourceError))
		case <-debounceElapsed:
			debounceElapsed = nil
			if runDone != nil {
				flushDue = true
				continue
			}
			runDone = loop.flush(ctx)
		case <-runDone:
			runDone = nil
			if flushDue && !loop.pending.isEmpty() {
				flushDue = false
				runDone = loop.flush(ctx)
			}
		}
	}
}

// record matches an event against the rules and queues their task lists.
func (loop *dispatchLoop) record(event Event) bool {
	relativePath := loop.dispatcher.relativePath(event.Path)
	matched := false
	for _, rule := range loop.rules {
		if !rule.Patterns.Matches(relativePath) {
			continue
		}
		matched = true
		loop.pending.add(rule.Tasks, relativePath)
	}
	loop.dispatcher.logger.Debug("watch event",
		zap.String("path", relativePath),
		zap.String("operation", string(event.Operation)),
		zap.Bool("matched", matched),
	)
	return matched
}

// flush drains the pending set and runs each task list in a single goroutine.
// Each report names only the paths that queued its task list.
func (loop *dispatchLoop) flush(ctx context.Context) chan struct{} {
	batches := loop.pending.drain()
	done := make(chan struct{})
	if len(batches) == 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		for _, batch := range batches {
			if ctx.Err() != nil {
				return
			}
			loop.dispatcher.logger.Info("change detected, running tasks",
				zap.Strings("tasks", batch.tasks),
				zap.Strings("paths", batch.paths),
			)
			result := loop.dispatcher.runner.Run(ctx, batch.tasks)
			if loop.onRunComplete != nil {
				loop.onRunComplete(RunReport{Tasks: batch.tasks, Paths: batch.paths, Result: result})
			}
		}
	}()
	return done
}

type pendingBatch struct {
	tasks    []string
	paths    []string
	pathKeys map[string]struct{}
}

// pendingSet queues task lists in first-seen order, each with the paths that
// matched the rules naming it.
type pendingSet struct {
	batches []*pendingBatch
	byList  map[string]*pendingBatch
}

func newPendingSet() *pendingSet {
	return &pendingSet{byList: make(map[string]*pendingBatch)}
}

func (pending *pendingSet) add(tasks []string, path string) {
	key := taskListKey(tasks)
	batch, exists := pending.byList[key]
	if !exists {
		batch = &pendingBatch{tasks: append([]string(nil), tasks...), pathKeys: make(map[string]struct{})}
		pending.byList[key] = batch
		pending.batches = append(pending.batches, batch)
	}
	if _, seen := batch.pathKeys[path]; !seen {
		batch.pathKeys[path] = struct{}{}
		batch.paths = append(batch.paths, path)
	}
}

func (pending *pendingSet) isEmpty() bool {
	return len(pending.batches) == 0
}

func (pending *pendingSet) drain() []*pendingBatch {
	batches := pending.batches
	pending.batches = nil
	pending.byList = make(map[string]*pendingBatch)
	return batches
}
