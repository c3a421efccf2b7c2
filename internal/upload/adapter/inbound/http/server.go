package http_handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/progress"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/pkg/idgen"
	"github.com/anthanhphan/go-chunked-upload/pkg/resilience"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Server struct {
	app     *fiber.App
	cfg     *config.Config
	service port.UploadService
	pool    *resilience.WorkerPool
	hub     *progress.Hub
}

// NewServer builds the HTTP surface. Uploads run on pool so at most
// cfg.Upload.Workers orchestrations are in flight; hub feeds /ws/progress.
func NewServer(cfg *config.Config, service port.UploadService, pool *resilience.WorkerPool, hub *progress.Hub) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             int(cfg.Upload.MaxFileSize),
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		cfg:     cfg,
		service: service,
		pool:    pool,
		hub:     hub,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/static/index.html")
	})
	s.app.Post("/upload", s.handleUpload)
	s.app.Get("/files/:name", s.handleDownload)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/progress", websocket.New(s.handleProgress))

	if s.cfg.Server.StaticDir != "" {
		s.app.Static("/static", s.cfg.Server.StaticDir)
	}
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
	})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'file' part")
	}

	src, err := header.Open()
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, fmt.Sprintf("Failed to open upload: %v", err))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, fmt.Sprintf("Failed to read upload: %v", err))
	}

	file, err := domain.NewFileRecord(header.Filename, content)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	sdklogger.Debugw("Upload accepted", "file_name", file.Filename(), "size_bytes", file.Size(), "busy_workers", s.pool.Busy())

	var uploadID string
	err = s.pool.Do(c.UserContext(), func(ctx context.Context) error {
		var execErr error
		uploadID, execErr = s.service.Execute(ctx, file)
		return execErr
	})
	if errors.Is(err, resilience.ErrWorkerPoolClosed) {
		return s.sendJSONError(c, fiber.StatusServiceUnavailable, "Server is shutting down")
	}
	if err != nil {
		sdklogger.Errorw("Upload request failed", "file_name", file.Filename(), "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, fmt.Sprintf("Upload failed: %v", err))
	}

	resp := fiber.Map{
		"status":  "success",
		"message": fmt.Sprintf("File '%s' uploaded successfully!", file.Filename()),
		"id":      uploadID,
	}
	if id, err := strconv.ParseInt(uploadID, 10, 64); err == nil {
		resp["accepted_at"] = idgen.Decompose(id).Time.Format(time.RFC3339Nano)
	}
	return c.JSON(resp)
}

func (s *Server) handleDownload(c *fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid file name")
	}
	if err := domain.ValidateFilename(name); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := s.service.GetFile(c.UserContext(), name)
	if errors.Is(err, port.ErrFileNotFound) {
		return s.sendJSONError(c, fiber.StatusNotFound, fmt.Sprintf("File '%s' not found", name))
	}
	if err != nil {
		sdklogger.Errorw("Download failed", "file_name", name, "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, fmt.Sprintf("Download failed: %v", err))
	}

	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename()))
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(file.Content())
}

// handleProgress streams every progress label to one websocket client
// until either side closes.
func (s *Server) handleProgress(conn *websocket.Conn) {
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	sdklogger.Debugw("Progress observer connected", "remote_addr", conn.RemoteAddr().String())

	// Clients never send; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-sub.C():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}
}
