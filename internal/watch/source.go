package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Operation classifies a change.
type Operation string

// Change operations.
const (
	OperationCreate Operation = "create"
	OperationWrite  Operation = "write"
	OperationRemove Operation = "remove"
	OperationRename Operation = "rename"
)

// Event is a single change to a path.
type Event struct {
	Path      string
	Operation Operation
}

// EventSource delivers change events until closed.
type EventSource interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// SourceFactory subscribes to changes under the given directories.
type SourceFactory func(roots []string) (EventSource, error)

// SubscriptionError reports that change notifications could not be established.
type SubscriptionError struct {
	Root  string
	Cause error
}

func (subscriptionError SubscriptionError) Error() string {
	return fmt.Sprintf("watch: cannot subscribe to %s: %v", subscriptionError.Root, subscriptionError.Cause)
}

// Unwrap exposes the underlying failure.
func (subscriptionError SubscriptionError) Unwrap() error {
	return subscriptionError.Cause
}

// FSNotifySource watches directory trees through fsnotify. Directories
// created after startup are added as they appear.
type FSNotifySource struct {
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	events    chan Event
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	waitGroup sync.WaitGroup
}

// NewFSNotifySource subscribes to every directory under roots. Roots that
// do not exist are skipped; it is an error if none can be watched.
func NewFSNotifySource(roots []string, logger *zap.Logger) (*FSNotifySource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, watcherError := fsnotify.NewWatcher()
	if watcherError != nil {
		return nil, SubscriptionError{Root: strings.Join(roots, ", "), Cause: watcherError}
	}

	source := &FSNotifySource{
		watcher: watcher,
		logger:  logger,
		events:  make(chan Event),
		errors:  make(chan error),
		done:    make(chan struct{}),
	}

	watched := 0
	for _, root := range roots {
		added, addError := source.addTree(root)
		if addError != nil {
			_ = watcher.Close()
			return nil, SubscriptionError{Root: root, Cause: addError}
		}
		if added == 0 {
			logger.Warn("watch root missing", zap.String("root", root))
		}
		watched += added
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil, SubscriptionError{Root: strings.Join(roots, ", "), Cause: fs.ErrNotExist}
	}

	source.waitGroup.Add(1)
	go source.forward()
	return source, nil
}

// NewFSNotifySourceFactory adapts NewFSNotifySource to SourceFactory.
func NewFSNotifySourceFactory(logger *zap.Logger) SourceFactory {
	return func(roots []string) (EventSource, error) {
		return NewFSNotifySource(roots, logger)
	}
}

// Events returns the change stream.
func (source *FSNotifySource) Events() <-chan Event {
	return source.events
}

// Errors returns watcher errors that did not stop the source.
func (source *FSNotifySource) Errors() <-chan error {
	return source.errors
}

// Close unsubscribes and stops delivery.
func (source *FSNotifySource) Close() error {
	var closeError error
	source.closeOnce.Do(func() {
		close(source.done)
		closeError = source.watcher.Close()
		source.waitGroup.Wait()
	})
	return closeError
}

func (source *FSNotifySource) addTree(root string) (int, error) {
	added := 0
	walkError := filepath.WalkDir(root, func(currentPath string, entry fs.DirEntry, visitError error) error {
		if visitError != nil {
			if errors.Is(visitError, fs.ErrNotExist) {
				return nil
			}
			return visitError
		}
		if !entry.IsDir() {
			return nil
		}
		if currentPath != root && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if addError := source.watcher.Add(currentPath); addError != nil {
			return addError
		}
		added++
		return nil
	})
	return added, walkError
}

func (source *FSNotifySource) forward() {
	defer source.waitGroup.Done()
	for {
		select {
		case <-source.done:
			return
		case watcherError, open := <-source.watcher.Errors:
			if !open {
				return
			}
			select {
			case source.errors <- watcherError:
			case <-source.done:
				return
			}
		case rawEvent, open := <-source.watcher.Events:
			if !open {
				return
			}
			event, relevant := source.translate(rawEvent)
			if !relevant {
				continue
			}
			select {
			case source.events <- event:
			case <-source.done:
				return
			}
		}
	}
}

func (source *FSNotifySource) translate(rawEvent fsnotify.Event) (Event, bool) {
	switch {
	case rawEvent.Has(fsnotify.Create):
		if info, statError := os.Stat(rawEvent.Name); statError == nil && info.IsDir() {
			if _, addError := source.addTree(rawEvent.Name); addError != nil {
				source.logger.Warn("watch directory add failed", zap.String("path", rawEvent.Name), zap.Error(addError))
			}
		}
		return Event{Path: rawEvent.Name, Operation: OperationCreate}, true
	case rawEvent.Has(fsnotify.Write):
		return Event{Path: rawEvent.Name, Operation: OperationWrite}, true
	case rawEvent.Has(fsnotify.Remove):
		return Event{Path: rawEvent.Name, Operation: OperationRemove}, true
	case rawEvent.Has(fsnotify.Rename):
		return Event{Path: rawEvent.Name, Operation: OperationRename}, true
	default:
		return Event{}, false
	}
}
