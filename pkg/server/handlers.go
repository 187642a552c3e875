package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/nmtlunabotics/david/pkg/motor"
	"github.com/nmtlunabotics/david/pkg/pitch"
	"github.com/nmtlunabotics/david/pkg/robot"
)

// GoalRequest is the body of a pitch goal submission.
type GoalRequest struct {
	GoalState *int `json:"goal_state"`
}

// TargetRequest is the body of a motor target update.
type TargetRequest struct {
	Value *float64 `json:"value"`
}

// MotorStatus is the state of one motor loop.
type MotorStatus struct {
	Name      string   `json:"name"`
	Target    float64  `json:"target"`
	Applied   float64  `json:"applied"`
	Ticks     uint64   `json:"ticks"`
	Failures  uint64   `json:"failures"`
	LastError string   `json:"last_error,omitempty"`
	Position  *float64 `json:"position,omitempty"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, pitch.ErrInvalidGoal):
		code = fiber.StatusBadRequest
	case errors.Is(err, robot.ErrUnknownMotor):
		code = fiber.StatusNotFound
	case errors.Is(err, motor.ErrNotImplemented):
		code = fiber.StatusNotImplemented
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleSubmitGoal starts a pitch goal, preempting the active one.
func (s *Server) handleSubmitGoal(c *fiber.Ctx) error {
	var req GoalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if req.GoalState == nil {
		return fiber.NewError(fiber.StatusBadRequest, "goal_state required")
	}

	goal := pitch.NewGoal(pitch.GoalKind(*req.GoalState))
	if !goal.Kind.Valid() {
		// Recorded by the sequencer as rejected; nothing reaches the hardware.
		return s.seq.Execute(c.UserContext(), goal, nil)
	}

	s.running.Add(1)
	go s.runGoal(goal)

	return c.Status(fiber.StatusAccepted).JSON(goal)
}

func (s *Server) runGoal(goal pitch.Goal) {
	defer s.running.Done()

	err := s.seq.Execute(s.ctx, goal, func(fb pitch.Feedback) {
		s.goals.BroadcastJSON(GoalEvent{
			Type:      "feedback",
			ID:        fb.GoalID,
			Progress:  fb.Progress,
			ElapsedMS: fb.Elapsed.Milliseconds(),
		})
	})

	ev := GoalEvent{Type: "result", ID: goal.ID, Outcome: pitch.Succeeded.String()}
	switch {
	case err == nil:
		ev.Succeeded = true
		ev.Progress = 1
	case errors.Is(err, pitch.ErrPreempted):
		ev.Outcome = pitch.Preempted.String()
		ev.Error = err.Error()
	default:
		ev.Outcome = pitch.Aborted.String()
		ev.Error = err.Error()
	}
	s.goals.BroadcastJSON(ev)
}

func (s *Server) handlePitchStatus(c *fiber.Ctx) error {
	return c.JSON(s.seq.Status())
}

func (s *Server) handleMotors(c *fiber.Ctx) error {
	stats := s.ctrl.Stats()
	targets := s.ctrl.Targets()

	out := make([]MotorStatus, 0, len(stats))
	for _, name := range s.ctrl.Motors() {
		st := stats[name]
		ms := MotorStatus{
			Name:     string(name),
			Target:   targets[name],
			Applied:  st.Applied,
			Ticks:    st.Ticks,
			Failures: st.Failures,
		}
		if st.LastError != nil {
			ms.LastError = st.LastError.Error()
		}
		if s.robot != nil {
			if pos, err := s.robot.Position(c.UserContext(), name); err == nil {
				ms.Position = &pos
			}
		}
		out = append(out, ms)
	}
	return c.JSON(out)
}

func (s *Server) handleSetVelocity(c *fiber.Ctx) error {
	var req TargetRequest
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return fiber.NewError(fiber.StatusBadRequest, "value required")
	}
	name := robot.MotorName(c.Params("name"))
	if err := s.ctrl.SetTarget(name, *req.Value); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"name": name, "target": *req.Value})
}

func (s *Server) handleSetPosition(c *fiber.Ctx) error {
	name := robot.MotorName(c.Params("name"))
	loop, ok := s.ctrl.Loop(name)
	if !ok {
		return robot.ErrUnknownMotor
	}
	var req TargetRequest
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return fiber.NewError(fiber.StatusBadRequest, "value required")
	}
	return loop.SetPosition(*req.Value)
}
