package tasks

import (
	"context"

	"go.uber.org/zap"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/preview"
	"github.com/tyemirov/kiln/internal/workflow"
)

const defaultPreviewPort = 8000

type previewOptions struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Root       string `mapstructure:"root"`
	Index      string `mapstructure:"index"`
	Fallback   bool   `mapstructure:"fallback"`
	LiveReload bool   `mapstructure:"live_reload"`
	Open       bool   `mapstructure:"open"`
	Headless   bool   `mapstructure:"headless"`
	Keepalive  bool   `mapstructure:"keepalive"`
}

type previewExecutor struct {
	name         string
	options      previewOptions
	dependencies Dependencies
}

// buildPreview serves the destination root. The server stays up until the
// run context ends; with keepalive the task itself blocks until then.
func buildPreview(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := previewOptions{Port: defaultPreviewPort, Root: dependencies.Boundary.DestinationRoot, LiveReload: true}
	if decodeError := decodeOptions(spec, kilnerrors.OperationPreview, &options); decodeError != nil {
		return nil, decodeError
	}
	if options.Port < 0 || options.Port > 65535 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationPreview, spec.Name, kilnerrors.ErrOptionsInvalid, "port must be between 0 and 65535")
	}
	return previewExecutor{name: spec.Name, options: options, dependencies: dependencies}, nil
}

func (executor previewExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	server := preview.NewServer(preview.ServerConfig{
		Host:       executor.options.Host,
		Port:       executor.options.Port,
		Root:       executor.options.Root,
		Index:      executor.options.Index,
		Fallback:   executor.options.Fallback,
		LiveReload: executor.options.LiveReload,
	}, preview.ServerDependencies{
		FileSystem: executor.dependencies.FileSystem,
		Hub:        executor.dependencies.ReloadHub,
		Logger:     executor.dependencies.Logger,
	})
	if startError := server.Start(ctx); startError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationPreview, executor.name, kilnerrors.ErrServerFailed, startError)
	}
	url := server.URL()

	if executor.options.Open {
		executor.openBrowser(ctx, url)
	}

	if executor.options.Keepalive {
		if waitError := server.Wait(); waitError != nil {
			return workflow.OutputDescriptor{Paths: []string{url}}, kilnerrors.Wrap(kilnerrors.OperationPreview, executor.name, kilnerrors.ErrServerFailed, waitError)
		}
	}
	return workflow.OutputDescriptor{Paths: []string{url}}, nil
}

// openBrowser never fails the task: the server is already serving.
func (executor previewExecutor) openBrowser(ctx context.Context, url string) {
	session, openError := executor.dependencies.OpenBrowser(ctx, url, executor.options.Headless)
	if openError != nil {
		executor.dependencies.Logger.Warn("preview browser unavailable",
			zap.Error(kilnerrors.Wrap(kilnerrors.OperationPreview, executor.name, kilnerrors.ErrBrowserFailed, openError)),
		)
		return
	}
	if !executor.options.LiveReload {
		session.FollowReloads(ctx, executor.dependencies.ReloadHub, func(reloadError error) {
			executor.dependencies.Logger.Warn("preview browser reload failed", zap.Error(reloadError))
		})
	}
	go func() {
		<-ctx.Done()
		session.Close()
	}()
}
