package watch_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/kiln/internal/watch"
	"github.com/tyemirov/kiln/internal/workflow"
)

const (
	testDebounce       = 30 * time.Millisecond
	testSettleDuration = 150 * time.Millisecond
	testWaitDuration   = 2 * time.Second
	testPollInterval   = 5 * time.Millisecond
)

type fakeSource struct {
	events    chan watch.Event
	errors    chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan watch.Event), errors: make(chan error), closed: make(chan struct{})}
}

func (source *fakeSource) Events() <-chan watch.Event { return source.events }

func (source *fakeSource) Errors() <-chan error { return source.errors }

func (source *fakeSource) Close() error {
	source.closeOnce.Do(func() { close(source.closed) })
	return nil
}

func (source *fakeSource) emit(testInstance *testing.T, path string) {
	testInstance.Helper()
	select {
	case source.events <- watch.Event{Path: path, Operation: watch.OperationWrite}:
	case <-time.After(testWaitDuration):
		testInstance.Fatalf("event %s was not consumed", path)
	}
}

type recordingRunner struct {
	mutex   sync.Mutex
	calls   [][]string
	release chan struct{}
}

func (runner *recordingRunner) Run(ctx context.Context, names []string) workflow.RunResult {
	runner.mutex.Lock()
	runner.calls = append(runner.calls, append([]string(nil), names...))
	release := runner.release
	runner.mutex.Unlock()
	if release != nil {
		<-release
	}
	return workflow.RunResult{Requested: names, Status: workflow.RunSuccess}
}

func (runner *recordingRunner) recorded() [][]string {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	return append([][]string(nil), runner.calls...)
}

type watchHarness struct {
	source     *fakeSource
	runner     *recordingRunner
	dispatcher *watch.Dispatcher
	reports    chan watch.RunReport
	result     chan error
	roots      chan []string
}

func startWatch(testInstance *testing.T, runner *recordingRunner, rules []watch.Rule, logger *zap.Logger) *watchHarness {
	testInstance.Helper()
	harness := &watchHarness{
		source:  newFakeSource(),
		runner:  runner,
		reports: make(chan watch.RunReport, 16),
		result:  make(chan error, 1),
		roots:   make(chan []string, 1),
	}
	harness.dispatcher = watch.NewDispatcher(
		watch.DispatcherConfig{Debounce: testDebounce},
		watch.DispatcherDependencies{
			Runner: runner,
			Logger: logger,
			SourceFactory: func(roots []string) (watch.EventSource, error) {
				harness.roots <- roots
				return harness.source, nil
			},
		},
	)
	go func() {
		harness.result <- harness.dispatcher.Watch(context.Background(), rules, func(report watch.RunReport) {
			harness.reports <- report
		})
	}()
	select {
	case <-harness.roots:
	case <-time.After(testWaitDuration):
		testInstance.Fatal("watch did not subscribe")
	}
	testInstance.Cleanup(func() {
		harness.dispatcher.Stop()
	})
	return harness
}

func (harness *watchHarness) nextReport(testInstance *testing.T) watch.RunReport {
	testInstance.Helper()
	select {
	case report := <-harness.reports:
		return report
	case <-time.After(testWaitDuration):
		testInstance.Fatal("no run was reported")
		return watch.RunReport{}
	}
}

func mustRule(testInstance *testing.T, name string, patterns []string, tasks ...string) watch.Rule {
	testInstance.Helper()
	rule, ruleError := watch.NewRule(name, patterns, tasks)
	require.NoError(testInstance, ruleError)
	return rule
}

func TestDispatcherCoalescesEventsWithinDebounceWindow(testInstance *testing.T) {
	runner := &recordingRunner{}
	rules := []watch.Rule{mustRule(testInstance, "styles", []string{"src/scss/**/*.scss"}, "compile-styles", "post-process-styles")}
	harness := startWatch(testInstance, runner, rules, nil)

	harness.source.emit(testInstance, "src/scss/base.scss")
	harness.source.emit(testInstance, "src/scss/ui/buttons.scss")

	report := harness.nextReport(testInstance)
	require.Equal(testInstance, []string{"compile-styles", "post-process-styles"}, report.Tasks)
	require.Equal(testInstance, []string{"src/scss/base.scss", "src/scss/ui/buttons.scss"}, report.Paths)

	time.Sleep(testSettleDuration)
	require.Len(testInstance, runner.recorded(), 1)
}

func TestDispatcherRunsEachDistinctTaskListInFirstSeenOrder(testInstance *testing.T) {
	runner := &recordingRunner{}
	rules := []watch.Rule{
		mustRule(testInstance, "scripts", []string{"src/js/**/*.js"}, "bundle-scripts"),
		mustRule(testInstance, "styles", []string{"src/scss/**/*.scss"}, "compile-styles"),
		mustRule(testInstance, "everything", []string{"src/**"}, "copy-assets"),
	}
	harness := startWatch(testInstance, runner, rules, nil)

	harness.source.emit(testInstance, "src/scss/base.scss")
	harness.source.emit(testInstance, "src/js/app.js")
	harness.source.emit(testInstance, "src/scss/base.scss")

	harness.nextReport(testInstance)
	harness.nextReport(testInstance)
	harness.nextReport(testInstance)
	time.Sleep(testSettleDuration)

	require.Equal(testInstance, [][]string{{"compile-styles"}, {"copy-assets"}, {"bundle-scripts"}}, runner.recorded())
}

func TestDispatcherIgnoresUnmatchedPaths(testInstance *testing.T) {
	runner := &recordingRunner{}
	rules := []watch.Rule{mustRule(testInstance, "styles", []string{"src/**/*.scss", "!src/vendor/**"}, "compile-styles")}
	harness := startWatch(testInstance, runner, rules, nil)

	harness.source.emit(testInstance, "src/readme.md")
	harness.source.emit(testInstance, "src/vendor/reset.scss")
	time.Sleep(testSettleDuration)

	require.Empty(testInstance, runner.recorded())
}

func TestDispatcherQueuesEventsDuringInFlightRun(testInstance *testing.T) {
	runner := &recordingRunner{release: make(chan struct{})}
	rules := []watch.Rule{mustRule(testInstance, "styles", []string{"src/**/*.scss"}, "compile-styles")}
	harness := startWatch(testInstance, runner, rules, nil)

	harness.source.emit(testInstance, "src/a.scss")
	require.Eventually(testInstance, func() bool { return len(runner.recorded()) == 1 }, testWaitDuration, testPollInterval)

	harness.source.emit(testInstance, "src/b.scss")
	harness.source.emit(testInstance, "src/c.scss")
	harness.source.emit(testInstance, "src/d.scss")
	time.Sleep(testSettleDuration)
	require.Len(testInstance, runner.recorded(), 1)

	close(runner.release)
	first := harness.nextReport(testInstance)
	require.Equal(testInstance, []string{"src/a.scss"}, first.Paths)
	second := harness.nextReport(testInstance)
	require.Equal(testInstance, []string{"src/b.scss", "src/c.scss", "src/d.scss"}, second.Paths)

	time.Sleep(testSettleDuration)
	require.Len(testInstance, runner.recorded(), 2)
}

func TestDispatcherStopUnsubscribesAndReturnsNil(testInstance *testing.T) {
	runner := &recordingRunner{}
	rules := []watch.Rule{mustRule(testInstance, "styles", []string{"src/**/*.scss"}, "compile-styles")}
	harness := startWatch(testInstance, runner, rules, nil)

	harness.dispatcher.Stop()

	select {
	case watchError := <-harness.result:
		require.NoError(testInstance, watchError)
	case <-time.After(testWaitDuration):
		testInstance.Fatal("watch did not return after stop")
	}
	select {
	case <-harness.source.closed:
	default:
		testInstance.Fatal("source was not closed")
	}
}

func TestDispatcherLogsSourceErrorsAndKeepsWatching(testInstance *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	runner := &recordingRunner{}
	rules := []watch.Rule{mustRule(testInstance, "styles", []string{"src/**/*.scss"}, "compile-styles")}
	harness := startWatch(testInstance, runner, rules, zap.New(core))

	harness.source.errors <- errors.New("queue overflow")
	harness.source.emit(testInstance, "src/a.scss")
	harness.nextReport(testInstance)

	require.Equal(testInstance, 1, logs.FilterMessage("watch event error").Len())
}

func TestDispatcherSubscribesToRuleRoots(testInstance *testing.T) {
	dispatcher := watch.NewDispatcher(watch.DispatcherConfig{WorkingDirectory: "site"}, watch.DispatcherDependencies{
		Runner: &recordingRunner{},
		SourceFactory: func(roots []string) (watch.EventSource, error) {
			return nil, watch.SubscriptionError{Root: fmt.Sprint(roots), Cause: fs.ErrNotExist}
		},
	})
	rules := []watch.Rule{
		mustRule(testInstance, "styles", []string{"src/scss/**/*.scss"}, "compile-styles"),
		mustRule(testInstance, "templates", []string{"src/templates/*.html", "src/scss/vendor/*.scss"}, "render-templates"),
	}

	watchError := dispatcher.Watch(context.Background(), rules, nil)
	var subscriptionError watch.SubscriptionError
	require.ErrorAs(testInstance, watchError, &subscriptionError)
	require.Equal(testInstance, fmt.Sprint([]string{filepath.Join("site", "src", "scss"), filepath.Join("site", "src", "templates")}), subscriptionError.Root)
}

func TestDispatcherSubscriptionFailure(testInstance *testing.T) {
	testCases := []struct {
		name    string
		failure error
	}{
		{name: "plain_error", failure: fs.ErrPermission},
		{name: "subscription_error", failure: watch.SubscriptionError{Root: "src", Cause: fs.ErrNotExist}},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			dispatcher := watch.NewDispatcher(watch.DispatcherConfig{Roots: []string{"src"}}, watch.DispatcherDependencies{
				Runner: &recordingRunner{},
				SourceFactory: func([]string) (watch.EventSource, error) {
					return nil, testCase.failure
				},
			})

			watchError := dispatcher.Watch(context.Background(), nil, nil)
			var subscriptionError watch.SubscriptionError
			require.ErrorAs(testInstance, watchError, &subscriptionError)
			require.ErrorIs(testInstance, watchError, testCase.failure)
		})
	}
}

func TestDispatcherRejectsConcurrentWatch(testInstance *testing.T) {
	runner := &recordingRunner{}
	rules := []watch.Rule{mustRule(testInstance, "styles", []string{"src/**/*.scss"}, "compile-styles")}
	harness := startWatch(testInstance, runner, rules, nil)

	watchError := harness.dispatcher.Watch(context.Background(), rules, nil)
	require.ErrorIs(testInstance, watchError, watch.ErrAlreadyWatching)
}

func TestDispatcherReportsOnlyPathsMatchingEachTaskList(testInstance *testing.T) {
	runner := &recordingRunner{}
	rules := []watch.Rule{
		mustRule(testInstance, "styles", []string{"src/**/*.scss"}, "compile-styles"),
		mustRule(testInstance, "scripts", []string{"src/**/*.js"}, "bundle-scripts"),
		mustRule(testInstance, "sources", []string{"src/shared/**"}, "render-templates"),
	}
	harness := startWatch(testInstance, runner, rules, zap.NewNop())

	harness.source.emit(testInstance, "src/scss/screen.scss")
	harness.source.emit(testInstance, "src/js/app.js")
	harness.source.emit(testInstance, "src/shared/tokens.scss")

	styles := harness.nextReport(testInstance)
	require.Equal(testInstance, []string{"compile-styles"}, styles.Tasks)
	require.Equal(testInstance, []string{"src/scss/screen.scss", "src/shared/tokens.scss"}, styles.Paths)

	scripts := harness.nextReport(testInstance)
	require.Equal(testInstance, []string{"bundle-scripts"}, scripts.Tasks)
	require.Equal(testInstance, []string{"src/js/app.js"}, scripts.Paths)

	templates := harness.nextReport(testInstance)
	require.Equal(testInstance, []string{"render-templates"}, templates.Tasks)
	require.Equal(testInstance, []string{"src/shared/tokens.scss"}, templates.Paths)
}
