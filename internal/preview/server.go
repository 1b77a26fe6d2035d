package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// EventsPath streams reload notifications as server-sent events.
	EventsPath = "/__kiln/events"
	// ClientScriptPath serves the script that reloads pages on notification.
	ClientScriptPath = "/__kiln/reload.js"

	defaultHost          = "127.0.0.1"
	defaultIndex         = "index.html"
	reloadEventName      = "reload"
	shutdownTimeout      = 5 * time.Second
	htmlContentType      = "text/html; charset=utf-8"
	javascriptType       = "application/javascript; charset=utf-8"
	closingBodyTag       = "</body>"
	clientScriptTagPlain = `<script src="` + ClientScriptPath + `"></script>`
)

const clientScript = `(function () {
  var source = new EventSource("` + EventsPath + `");
  source.addEventListener("` + reloadEventName + `", function () { window.location.reload(); });
})();
`

var ginModeOnce sync.Once

// ErrServerNotStarted indicates Address or Wait was called before Start.
var ErrServerNotStarted = errors.New("preview: server not started")

// ServerConfig describes the static server.
type ServerConfig struct {
	Host       string
	Port       int
	Root       string
	Index      string
	Fallback   bool
	LiveReload bool
}

// ServerDependencies carries the collaborators of a Server.
type ServerDependencies struct {
	FileSystem afero.Fs
	Hub        *Hub
	Logger     *zap.Logger
}

// Server serves the destination root and streams reload events.
type Server struct {
	config     ServerConfig
	fileSystem afero.Fs
	hub        *Hub
	logger     *zap.Logger
	engine     *gin.Engine
	fileServer http.Handler

	mutex      sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	done       chan error
}

// NewServer builds a server. Nothing listens until Start.
func NewServer(config ServerConfig, dependencies ServerDependencies) *Server {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })

	if len(strings.TrimSpace(config.Host)) == 0 {
		config.Host = defaultHost
	}
	if len(strings.TrimSpace(config.Index)) == 0 {
		config.Index = defaultIndex
	}
	if len(strings.TrimSpace(config.Root)) == 0 {
		config.Root = "."
	}
	fileSystem := dependencies.FileSystem
	if fileSystem == nil {
		fileSystem = afero.NewOsFs()
	}
	hub := dependencies.Hub
	if hub == nil {
		hub = NewHub(dependencies.Logger)
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		config:     config,
		fileSystem: fileSystem,
		hub:        hub,
		logger:     logger,
		fileServer: http.FileServer(afero.NewHttpFs(fileSystem).Dir(config.Root)),
	}
	server.engine = server.buildEngine()
	return server
}

// Handler exposes the request router.
func (server *Server) Handler() http.Handler {
	return server.engine
}

func (server *Server) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), server.requestLogger())
	engine.GET(EventsPath, server.streamEvents)
	engine.GET(ClientScriptPath, func(ginContext *gin.Context) {
		ginContext.Data(http.StatusOK, javascriptType, []byte(clientScript))
	})
	engine.NoRoute(server.serveFile)
	return engine
}

func (server *Server) requestLogger() gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		startTime := time.Now()
		ginContext.Next()
		if ginContext.Request.URL.Path == EventsPath {
			return
		}
		server.logger.Debug("preview request",
			zap.String("method", ginContext.Request.Method),
			zap.String("path", ginContext.Request.URL.Path),
			zap.Int("status", ginContext.Writer.Status()),
			zap.Duration("duration", time.Since(startTime)),
		)
	}
}

func (server *Server) streamEvents(ginContext *gin.Context) {
	events, unsubscribe := server.hub.Subscribe()
	defer unsubscribe()

	ginContext.Header("Cache-Control", "no-cache")
	ginContext.Header("Connection", "keep-alive")
	ginContext.Status(http.StatusOK)
	ginContext.Writer.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(ginContext.Writer, ": connected\n\n")
	ginContext.Writer.Flush()

	requestDone := ginContext.Request.Context().Done()
	ginContext.Stream(func(writer io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			payload, _ := json.Marshal(event.Paths)
			ginContext.SSEvent(reloadEventName, string(payload))
			return true
		case <-requestDone:
			return false
		}
	})
}

func (server *Server) serveFile(ginContext *gin.Context) {
	if ginContext.Request.Method != http.MethodGet && ginContext.Request.Method != http.MethodHead {
		ginContext.Status(http.StatusMethodNotAllowed)
		return
	}

	requestPath := path.Clean("/" + ginContext.Request.URL.Path)
	filePath, found := server.locate(requestPath)
	if !found && server.config.Fallback {
		filePath, found = server.locate("/" + server.config.Index)
	}
	if !found {
		server.fileServer.ServeHTTP(ginContext.Writer, ginContext.Request)
		return
	}

	if server.config.LiveReload && strings.EqualFold(filepath.Ext(filePath), ".html") {
		contents, readError := afero.ReadFile(server.fileSystem, filePath)
		if readError != nil {
			ginContext.Status(http.StatusInternalServerError)
			return
		}
		ginContext.Data(http.StatusOK, htmlContentType, injectClientScript(contents))
		return
	}

	file, openError := server.fileSystem.Open(filePath)
	if openError != nil {
		ginContext.Status(http.StatusInternalServerError)
		return
	}
	defer file.Close()
	info, statError := file.Stat()
	if statError != nil {
		ginContext.Status(http.StatusInternalServerError)
		return
	}
	http.ServeContent(ginContext.Writer, ginContext.Request, info.Name(), info.ModTime(), file)
}

// locate maps a cleaned request path to a regular file under the root,
// resolving directories to their index file.
func (server *Server) locate(requestPath string) (string, bool) {
	candidate := filepath.Join(server.config.Root, filepath.FromSlash(strings.TrimPrefix(requestPath, "/")))
	info, statError := server.fileSystem.Stat(candidate)
	if statError != nil {
		return "", false
	}
	if info.IsDir() {
		candidate = filepath.Join(candidate, server.config.Index)
		info, statError = server.fileSystem.Stat(candidate)
		if statError != nil || info.IsDir() {
			return "", false
		}
	}
	return candidate, true
}

func injectClientScript(contents []byte) []byte {
	index := bytes.LastIndex(bytes.ToLower(contents), []byte(closingBodyTag))
	if index < 0 {
		return append(append([]byte(nil), contents...), []byte(clientScriptTagPlain)...)
	}
	injected := make([]byte, 0, len(contents)+len(clientScriptTagPlain))
	injected = append(injected, contents[:index]...)
	injected = append(injected, clientScriptTagPlain...)
	injected = append(injected, contents[index:]...)
	return injected
}

// Start listens on the configured address and serves until ctx is done.
func (server *Server) Start(ctx context.Context) error {
	address := net.JoinHostPort(server.config.Host, strconv.Itoa(server.config.Port))
	listener, listenError := net.Listen("tcp", address)
	if listenError != nil {
		return fmt.Errorf("preview.start: listen %s: %w", address, listenError)
	}

	httpServer := &http.Server{Handler: server.engine, ReadHeaderTimeout: shutdownTimeout}
	done := make(chan error, 1)

	server.mutex.Lock()
	server.listener = listener
	server.httpServer = httpServer
	server.done = done
	server.mutex.Unlock()

	go func() {
		serveError := httpServer.Serve(listener)
		if errors.Is(serveError, http.ErrServerClosed) {
			serveError = nil
		}
		done <- serveError
	}()
	go func() {
		<-ctx.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownError := httpServer.Shutdown(shutdownContext); shutdownError != nil {
			server.logger.Warn("preview server shutdown failed", zap.Error(shutdownError))
		}
	}()

	server.logger.Info("preview server listening",
		zap.String("url", server.URL()),
		zap.String("root", server.config.Root),
	)
	return nil
}

// Address returns the bound listener address.
func (server *Server) Address() (string, error) {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	if server.listener == nil {
		return "", ErrServerNotStarted
	}
	return server.listener.Addr().String(), nil
}

// URL returns the http URL of the running server, or "" before Start.
func (server *Server) URL() string {
	address, addressError := server.Address()
	if addressError != nil {
		return ""
	}
	return "http://" + address + "/"
}

// Wait blocks until the server stops and returns its serve error.
func (server *Server) Wait() error {
	server.mutex.Lock()
	done := server.done
	server.mutex.Unlock()
	if done == nil {
		return ErrServerNotStarted
	}
	return <-done
}
