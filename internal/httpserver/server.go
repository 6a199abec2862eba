package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/benslamahafedh/samanthaos1/internal/pipeline"
)

// Pipeline is the control surface the server drives. The pipeline owns its
// own lifetime; starting it is not scoped to the request.
type Pipeline interface {
	Start() error
	Stop()
	Status() pipeline.Status
}

// Server is the HTTP control plane: health, status, start/stop and a
// websocket event feed.
type Server struct {
	echo *echo.Echo
	pipe Pipeline
	hub  *Hub

	upgrader websocket.Upgrader
}

func New(pipe Pipeline, hub *Hub) *Server {
	s := &Server{
		echo: newEcho(),
		pipe: pipe,
		hub:  hub,
		upgrader: websocket.Upgrader{
			// Local control plane; cross-origin dashboards are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/start", s.handleStart)
	s.echo.POST("/stop", s.handleStop)
	s.echo.GET("/events", s.handleEvents)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipe.Status())
}

func (s *Server) handleStart(c echo.Context) error {
	if err := s.pipe.Start(); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"state": "listening"})
}

func (s *Server) handleStop(c echo.Context) error {
	s.pipe.Stop()
	return c.JSON(http.StatusOK, map[string]string{"state": "idle"})
}

// handleEvents streams pipeline events as JSON frames until the client
// disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	events := s.hub.subscribe()
	defer s.hub.unsubscribe(events)

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
			return nil
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("httpserver: event write: %v", err)
				return nil
			}
		}
	}
}
