package preview_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/kiln/internal/preview"
)

func newSiteFileSystem(testInstance *testing.T) afero.Fs {
	testInstance.Helper()
	fileSystem := afero.NewMemMapFs()
	require.NoError(testInstance, afero.WriteFile(fileSystem, "build/index.html", []byte("<html><body><h1>home</h1></body></html>"), 0o644))
	require.NoError(testInstance, afero.WriteFile(fileSystem, "build/css/app.css", []byte("body{}"), 0o644))
	require.NoError(testInstance, afero.WriteFile(fileSystem, "build/docs/index.html", []byte("<p>docs</p>"), 0o644))
	return fileSystem
}

func TestServerServesFiles(testInstance *testing.T) {
	testCases := []struct {
		name             string
		config           preview.ServerConfig
		requestPath      string
		expectedStatus   int
		expectedContains string
		unexpected       string
	}{
		{
			name:             "stylesheet",
			config:           preview.ServerConfig{Root: "build"},
			requestPath:      "/css/app.css",
			expectedStatus:   http.StatusOK,
			expectedContains: "body{}",
		},
		{
			name:             "directory_index_with_live_reload",
			config:           preview.ServerConfig{Root: "build", LiveReload: true},
			requestPath:      "/",
			expectedStatus:   http.StatusOK,
			expectedContains: `<h1>home</h1><script src="/__kiln/reload.js"></script></body>`,
		},
		{
			name:             "html_without_body_gets_script_appended",
			config:           preview.ServerConfig{Root: "build", LiveReload: true},
			requestPath:      "/docs/",
			expectedStatus:   http.StatusOK,
			expectedContains: `<p>docs</p><script src="/__kiln/reload.js"></script>`,
		},
		{
			name:             "html_without_live_reload",
			config:           preview.ServerConfig{Root: "build"},
			requestPath:      "/index.html",
			expectedStatus:   http.StatusOK,
			expectedContains: "<h1>home</h1>",
			unexpected:       "reload.js",
		},
		{
			name:           "missing_without_fallback",
			config:         preview.ServerConfig{Root: "build"},
			requestPath:    "/app/settings",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:             "missing_with_fallback",
			config:           preview.ServerConfig{Root: "build", Fallback: true},
			requestPath:      "/app/settings",
			expectedStatus:   http.StatusOK,
			expectedContains: "<h1>home</h1>",
		},
		{
			name:           "traversal_is_contained",
			config:         preview.ServerConfig{Root: "build/docs"},
			requestPath:    "/../css/app.css",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:             "client_script",
			config:           preview.ServerConfig{Root: "build"},
			requestPath:      preview.ClientScriptPath,
			expectedStatus:   http.StatusOK,
			expectedContains: "new EventSource(\"/__kiln/events\")",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			server := preview.NewServer(testCase.config, preview.ServerDependencies{FileSystem: newSiteFileSystem(testInstance)})

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, testCase.requestPath, nil)
			server.Handler().ServeHTTP(recorder, request)

			require.Equal(testInstance, testCase.expectedStatus, recorder.Code)
			if len(testCase.expectedContains) > 0 {
				require.Contains(testInstance, recorder.Body.String(), testCase.expectedContains)
			}
			if len(testCase.unexpected) > 0 {
				require.NotContains(testInstance, recorder.Body.String(), testCase.unexpected)
			}
		})
	}
}

func TestServerStreamsReloadEvents(testInstance *testing.T) {
	hub := preview.NewHub(nil)
	server := preview.NewServer(preview.ServerConfig{Root: "build"}, preview.ServerDependencies{FileSystem: newSiteFileSystem(testInstance), Hub: hub})
	httpServer := httptest.NewServer(server.Handler())
	defer httpServer.Close()

	requestContext, cancelRequest := context.WithCancel(context.Background())
	defer cancelRequest()
	request, requestError := http.NewRequestWithContext(requestContext, http.MethodGet, httpServer.URL+preview.EventsPath, nil)
	require.NoError(testInstance, requestError)
	response, responseError := httpServer.Client().Do(request)
	require.NoError(testInstance, responseError)
	defer response.Body.Close()
	require.Equal(testInstance, http.StatusOK, response.StatusCode)
	require.Contains(testInstance, response.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(response.Body)
	greeting, greetingError := reader.ReadString('\n')
	require.NoError(testInstance, greetingError)
	require.Equal(testInstance, ": connected\n", greeting)

	require.Eventually(testInstance, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	hub.NotifyReload([]string{"css/app.css"})

	received := strings.Builder{}
	for !strings.Contains(received.String(), "data:") {
		line, readError := reader.ReadString('\n')
		if readError == io.EOF {
			break
		}
		require.NoError(testInstance, readError)
		received.WriteString(line)
	}
	require.Contains(testInstance, received.String(), "event:reload")
	require.Contains(testInstance, received.String(), `["css/app.css"]`)

	cancelRequest()
	require.Eventually(testInstance, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServerStartAndShutdown(testInstance *testing.T) {
	server := preview.NewServer(preview.ServerConfig{Root: "build"}, preview.ServerDependencies{FileSystem: newSiteFileSystem(testInstance)})
	_, addressError := server.Address()
	require.ErrorIs(testInstance, addressError, preview.ErrServerNotStarted)
	require.Empty(testInstance, server.URL())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(testInstance, server.Start(ctx))

	response, getError := http.Get(server.URL() + "css/app.css")
	require.NoError(testInstance, getError)
	body, readError := io.ReadAll(response.Body)
	require.NoError(testInstance, readError)
	require.NoError(testInstance, response.Body.Close())
	require.Equal(testInstance, "body{}", string(body))

	cancel()
	require.NoError(testInstance, server.Wait())
}

func TestServerStartFailsOnBusyPort(testInstance *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := preview.NewServer(preview.ServerConfig{Root: "build"}, preview.ServerDependencies{FileSystem: afero.NewMemMapFs()})
	require.NoError(testInstance, first.Start(ctx))
	address, addressError := first.Address()
	require.NoError(testInstance, addressError)

	port := address[strings.LastIndex(address, ":")+1:]
	var portNumber int
	_, scanError := fmt.Sscanf(port, "%d", &portNumber)
	require.NoError(testInstance, scanError)

	second := preview.NewServer(preview.ServerConfig{Root: "build", Port: portNumber}, preview.ServerDependencies{FileSystem: afero.NewMemMapFs()})
	require.Error(testInstance, second.Start(ctx))
}
