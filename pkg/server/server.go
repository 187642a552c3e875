// Package server exposes the pitch actuator and the motor loops over HTTP
// and websockets.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nmtlunabotics/david/pkg/hub"
	"github.com/nmtlunabotics/david/pkg/pitch"
	"github.com/nmtlunabotics/david/pkg/robot"
	"github.com/nmtlunabotics/david/pkg/teleop"
)

const shutdownTimeout = 5 * time.Second

// Config wires the server to the running robot.
type Config struct {
	Listen     string
	Sequencer  *pitch.Sequencer
	Controller *teleop.Controller
	Robot      *robot.Robot // optional, for position read-back
	Joints     *hub.Hub     // receives published joint states; created when nil
	Log        zerolog.Logger
}

// Server is the robot's HTTP and websocket transport.
type Server struct {
	app    *fiber.App
	listen string
	log    zerolog.Logger

	seq   *pitch.Sequencer
	ctrl  *teleop.Controller
	robot *robot.Robot

	joints *hub.Hub
	goals  *hub.Hub

	ctx     context.Context // parent of every goal
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	joints := cfg.Joints
	if joints == nil {
		joints = hub.New("joints", cfg.Log)
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		listen: cfg.Listen,
		log:    cfg.Log,
		seq:    cfg.Sequencer,
		ctrl:   cfg.Controller,
		robot:  cfg.Robot,
		joints: joints,
		goals:  hub.New("pitch", cfg.Log),
		ctx:    ctx,
		cancel: cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "david",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	api := app.Group("/api")
	api.Post("/pitch/goals", s.handleSubmitGoal)
	api.Get("/pitch", s.handlePitchStatus)
	api.Get("/motors", s.handleMotors)
	api.Put("/motors/:name/velocity", s.handleSetVelocity)
	api.Put("/motors/:name/position", s.handleSetPosition)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/joints", websocket.New(s.serveHub(s.joints)))
	app.Get("/ws/pitch", websocket.New(s.serveHub(s.goals)))

	s.app = app
	return s
}

// Run serves until ctx is cancelled, then shuts the listener down and
// waits for goals in flight to unwind.
func (s *Server) Run(ctx context.Context) error {
	go s.joints.Run(s.ctx)
	go s.goals.Run(s.ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.listen).Msg("http server listening")
		errCh <- s.app.Listen(s.listen)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown")
	}
	s.Close()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close cancels goals in flight and stops the hubs.
func (s *Server) Close() {
	s.cancel()
	s.running.Wait()
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client := hub.NewClient(h, conn)
		if client == nil {
			return
		}
		client.Run()
	}
}
