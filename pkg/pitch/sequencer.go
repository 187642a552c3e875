package pitch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nmtlunabotics/david/internal/metrics"
)

const releaseTimeout = time.Second

// Trigger drives the actuator's digital trigger lines.
type Trigger interface {
	SetLine(ctx context.Context, line int, on bool) error
}

// JointPublisher receives the joint state of each completed motion.
type JointPublisher interface {
	PublishJointState(ctx context.Context, js JointState) error
}

// Status is a snapshot of the sequencer. Outcome is the terminal state of
// the most recent goal.
type Status struct {
	State     State       `json:"state"`
	Goal      *Goal       `json:"goal,omitempty"`
	Progress  float64     `json:"progress"`
	Outcome   State       `json:"outcome"`
	LastJoint *JointState `json:"last_joint,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

type run struct {
	goal   Goal
	cancel context.CancelCauseFunc
	ctx    context.Context
	done   chan struct{}
}

// Sequencer executes pitch goals one at a time. A new goal preempts the
// one in flight.
type Sequencer struct {
	cfg       Config
	trigger   Trigger
	publisher JointPublisher
	log       zerolog.Logger

	mu        sync.Mutex
	state     State
	outcome   State
	active    *run
	progress  float64
	lastJoint *JointState
	lastErr   error
}

// NewSequencer validates cfg and returns an idle sequencer.
func NewSequencer(cfg Config, trigger Trigger, publisher JointPublisher, log zerolog.Logger) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if trigger == nil || publisher == nil {
		return nil, fmt.Errorf("pitch: trigger and publisher required")
	}
	return &Sequencer{
		cfg:       cfg,
		trigger:   trigger,
		publisher: publisher,
		log:       log.With().Str("joint", cfg.Joint).Logger(),
	}, nil
}

// Config returns the sequencer configuration.
func (s *Sequencer) Config() Config {
	return s.cfg
}

// Status returns a snapshot of the sequencer.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Progress: s.progress, Outcome: s.outcome, LastJoint: s.lastJoint}
	if s.active != nil {
		g := s.active.goal
		st.Goal = &g
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Active returns the goal in flight and its progress.
func (s *Sequencer) Active() (Goal, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Goal{}, 0, false
	}
	return s.active.goal, s.progress, true
}

// State returns the current lifecycle state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Execute runs goal to completion on the calling goroutine, reporting
// progress to fb (which may be nil). It returns nil once the joint state
// is published, ErrInvalidGoal for an unknown kind, ErrPreempted when a
// newer goal replaces it, or a *HardwareError.
func (s *Sequencer) Execute(ctx context.Context, goal Goal, fb FeedbackFunc) error {
	log := s.log.With().Str("goal", goal.ID).Stringer("kind", goal.Kind).Logger()

	if !goal.Kind.Valid() {
		err := fmt.Errorf("%w: goal state %d", ErrInvalidGoal, int(goal.Kind))
		s.mu.Lock()
		s.outcome = Rejected
		s.lastErr = err
		s.mu.Unlock()
		metrics.PitchGoalsTotal.WithLabelValues("invalid", metrics.OutcomeRejected).Inc()
		log.Warn().Int("goal_state", int(goal.Kind)).Msg("rejected goal")
		return err
	}

	r := s.begin(ctx, goal)
	defer s.finish(r)

	err := s.execute(r, fb, log)
	s.record(r, err, log)
	return err
}

// begin installs r as the active goal and waits for any previous goal to
// unwind. Cancelling under the lock orders preemption against the
// previous goal's publish decision.
func (s *Sequencer) begin(ctx context.Context, goal Goal) *run {
	runCtx, cancel := context.WithCancelCause(ctx)
	r := &run{goal: goal, cancel: cancel, ctx: runCtx, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.active
	s.active = r
	if prev != nil {
		prev.cancel(ErrPreempted)
	}
	s.mu.Unlock()

	if prev != nil {
		s.log.Info().Str("goal", prev.goal.ID).Str("by", goal.ID).Msg("preempting goal")
		<-prev.done
	}
	return r
}

func (s *Sequencer) finish(r *run) {
	s.mu.Lock()
	if s.active == r {
		s.active = nil
		s.state = Idle
	}
	s.mu.Unlock()
	r.cancel(nil)
	close(r.done)
}

func (s *Sequencer) execute(r *run, fb FeedbackFunc, log zerolog.Logger) error {
	if err := s.interrupted(r); err != nil {
		return err
	}

	s.setState(r, Triggering)
	log.Info().Msg("triggering")
	if err := s.pulse(r); err != nil {
		return err
	}

	s.setState(r, Waiting)
	length := s.cfg.Lengths[r.goal.Kind]
	angle, err := s.cfg.Geometry.Angle(length)
	if err != nil {
		return fmt.Errorf("pitch %s: %w", r.goal.Kind, err)
	}
	log.Debug().Float64("length", length).Float64("angle", angle).Msg("waiting for actuator")
	if err := s.wait(r, fb); err != nil {
		return err
	}

	// Past this point a newer goal no longer preempts this one.
	s.mu.Lock()
	if err := s.interrupted(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = Publishing
	s.mu.Unlock()

	js := JointState{Name: s.cfg.Joint, Angle: angle}
	if err := s.publisher.PublishJointState(context.WithoutCancel(r.ctx), js); err != nil {
		return &HardwareError{Op: "publish joint state", Err: err}
	}

	s.mu.Lock()
	s.lastJoint = &js
	s.mu.Unlock()
	metrics.PitchAngle.Set(angle)
	log.Info().Float64("angle", angle).Msg("joint state published")
	return nil
}

// pulse asserts the goal's trigger line for the pulse width. The line is
// released even when the goal is preempted mid-pulse.
func (s *Sequencer) pulse(r *run) error {
	line := s.cfg.Lines[r.goal.Kind]
	if err := s.trigger.SetLine(r.ctx, line, true); err != nil {
		s.release(r, line)
		return &HardwareError{Op: "assert", Line: line, Err: err}
	}

	timer := time.NewTimer(s.cfg.Pulse)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
	case <-timer.C:
	}

	if err := s.release(r, line); err != nil {
		return &HardwareError{Op: "release", Line: line, Err: err}
	}
	return s.interrupted(r)
}

func (s *Sequencer) release(r *run, line int) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), releaseTimeout)
	defer cancel()
	return s.trigger.SetLine(ctx, line, false)
}

// wait blocks for the fixed budget, emitting elapsed/budget at the
// feedback interval. Completion is assumed when the budget runs out.
func (s *Sequencer) wait(r *run, fb FeedbackFunc) error {
	budget := s.cfg.Budget
	start := time.Now()

	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.FeedbackInterval)
	defer ticker.Stop()

	// emit reports progress while r is still the active goal. The callback
	// runs under s.mu so it cannot interleave with preemption in begin.
	emit := func(elapsed time.Duration) (done bool, err error) {
		p := progress(elapsed, budget)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active != r || r.ctx.Err() != nil {
			return false, s.interrupted(r)
		}
		s.progress = p
		metrics.PitchProgress.Set(p)
		if fb != nil {
			fb(Feedback{GoalID: r.goal.ID, Progress: p, Elapsed: elapsed})
		}
		return p >= 1, nil
	}

	if _, err := emit(0); err != nil {
		return err
	}
	for {
		select {
		case <-r.ctx.Done():
			return s.interrupted(r)
		case <-deadline.C:
			_, err := emit(budget)
			return err
		case <-ticker.C:
			if r.ctx.Err() != nil {
				return s.interrupted(r)
			}
			if done, err := emit(time.Since(start)); done || err != nil {
				return err
			}
		}
	}
}

// progress is elapsed/budget clamped to [0, 1].
func progress(elapsed, budget time.Duration) float64 {
	if elapsed >= budget {
		return 1
	}
	return math.Max(0, float64(elapsed)/float64(budget))
}

// interrupted reports why r's context ended, or nil while it is live.
func (s *Sequencer) interrupted(r *run) error {
	if r.ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(r.ctx); errors.Is(cause, ErrPreempted) {
		return ErrPreempted
	}
	return fmt.Errorf("pitch %s: %w", r.goal.Kind, context.Cause(r.ctx))
}

func (s *Sequencer) setState(r *run, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == r {
		s.state = st
		if st == Triggering {
			s.progress = 0
		}
	}
}

// record stores the outcome of r and counts it.
func (s *Sequencer) record(r *run, err error, log zerolog.Logger) {
	state, outcome := Succeeded, metrics.OutcomeSucceeded
	switch {
	case err == nil:
	case errors.Is(err, ErrPreempted):
		state, outcome = Preempted, metrics.OutcomePreempted
	default:
		state, outcome = Aborted, metrics.OutcomeAborted
	}
	metrics.PitchGoalsTotal.WithLabelValues(r.goal.Kind.String(), outcome).Inc()

	s.mu.Lock()
	if s.active == r {
		s.state = state
	}
	s.outcome = state
	s.lastErr = err
	s.mu.Unlock()

	switch state {
	case Succeeded:
		log.Info().Msg("goal succeeded")
	case Preempted:
		log.Info().Msg("goal preempted")
	default:
		log.Error().Err(err).Msg("goal aborted")
	}
}
