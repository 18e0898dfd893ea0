package impulse

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jkaflik/impulse2mqtt/internal/cover"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// tick is how often the movement simulation re-estimates the position.
	tick = 300 * time.Millisecond

	// echoBuffer extends the self-debounce horizon past the pulse gap so a
	// slow switch state report still matches the pulse that caused it.
	echoBuffer = 500 * time.Millisecond

	// limitStopIgnore is how long after a limit stop a single switch
	// activation is treated as hardware echo and dropped.
	limitStopIgnore = 2 * time.Second
)

const (
	DefaultTravelTime = 30 * time.Second
	DefaultPulseGap   = 800 * time.Millisecond

	MinTravelTime = time.Second
	MaxTravelTime = 300 * time.Second

	MinPulseGap = 100 * time.Millisecond
	MaxPulseGap = 5 * time.Second
)

type Config struct {
	// TravelTime is the full end-to-end travel duration, rounded to whole
	// seconds and clamped to [MinTravelTime, MaxTravelTime].
	TravelTime time.Duration
	// PulseGap is the settle time between consecutive pulses, clamped to
	// [MinPulseGap, MaxPulseGap].
	PulseGap time.Duration
	// InitialPosition is the assumed position before anything else is
	// known, 0 (closed) to 100 (open).
	InitialPosition float64
	// Clock defaults to the wall clock.
	Clock clockwork.Clock
}

// Controller estimates the position of a motorized cover driven by a single
// impulse switch and sequences pulses so the hidden direction toggle inside
// the motor controller stays predictable.
//
// Every pulse alternates the motor between idle and moving, and a pulse that
// starts a movement runs it opposite to the previous one. The position is
// never incremented tick by tick: while moving it is recomputed from the
// movement start time, so delayed ticks cannot accumulate drift.
type Controller struct {
	name  string
	sw    Switch
	clock clockwork.Clock

	mu sync.Mutex

	position      float64
	direction     cover.Direction
	lastDirection cover.Direction

	// motorRunning predicts the moving bit of the physical toggle. Unlike
	// direction it survives a canceled pulse sequence, whose pulses have
	// already reached the hardware.
	motorRunning bool

	travelTime time.Duration
	pulseGap   time.Duration

	// timing base of the ongoing movement, valid while direction != Idle
	movementStart time.Time
	startPosition float64

	ignoreUntil   time.Time
	lastLimitStop time.Time

	cancelIntent context.CancelFunc

	handlers []cover.UpdateHandler
}

var _ cover.Restorable = (*Controller)(nil)

func NewController(name string, sw Switch, cfg Config) *Controller {
	c := &Controller{name: name, sw: sw, clock: cfg.Clock}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	c.travelTime = DefaultTravelTime
	if cfg.TravelTime != 0 {
		c.travelTime = clampTravelTime(cfg.TravelTime)
	}
	c.pulseGap = DefaultPulseGap
	if cfg.PulseGap != 0 {
		c.pulseGap = clampPulseGap(cfg.PulseGap)
	}

	c.position = clampPosition(cfg.InitialPosition)
	c.startPosition = c.position
	c.direction = cover.Idle
	c.lastDirection = cover.Closing
	if c.position >= cover.FullOpenPosition {
		c.lastDirection = cover.Opening
	}

	sw.OnActivate(c.HandleActivation)
	return c
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshPositionLocked()
	return int(math.Round(c.position))
}

func (c *Controller) State() string {
	return c.Snapshot().State()
}

func (c *Controller) Snapshot() cover.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshPositionLocked()
	return c.snapshotLocked()
}

func (c *Controller) OnUpdate(h cover.UpdateHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *Controller) Open(ctx context.Context) error {
	logrus.Infof("%s: open", c.name)
	return c.goDirection(ctx, cover.Opening, cover.FullOpenPosition, true)
}

func (c *Controller) Close(ctx context.Context) error {
	logrus.Infof("%s: close", c.name)
	return c.goDirection(ctx, cover.Closing, cover.FullClosedPosition, true)
}

func (c *Controller) SetPosition(ctx context.Context, position int) error {
	target := clampPosition(float64(position))

	c.mu.Lock()
	c.refreshPositionLocked()
	current := math.Round(c.position)
	c.mu.Unlock()

	if current == math.Round(target) {
		logrus.Debugf("%s: already on position %d", c.name, position)
		return nil
	}

	logrus.Infof("%s: set position to %d", c.name, position)
	desired := cover.Closing
	if target > current {
		desired = cover.Opening
	}
	return c.goDirection(ctx, desired, target, true)
}

// Stop halts an ongoing movement. A pulse is only needed when the motor is
// actually running mid-range; at a hard limit it has already cut out. The
// halt pulse is sent before returning and is not bound to the movement
// intent, so a command arriving right behind the stop cannot cancel it away.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.direction == cover.Idle {
		c.mu.Unlock()
		logrus.Debugf("%s: stop ignored, not moving", c.name)
		return nil
	}

	logrus.Infof("%s: stop", c.name)
	c.cancelIntentLocked()
	c.haltLocked(true)

	atLimit := c.atLimitLocked()
	if atLimit {
		c.lastLimitStop = c.clock.Now()
		c.motorRunning = false
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if atLimit {
		return nil
	}

	if err := c.pulse(ctx); err != nil {
		c.logPulseErr(err)
	}
	return nil
}

// goDirection is the command core: it decides how many pulses are needed to
// get the motor running toward desired and hands them to a fresh intent.
// With bounded unset the movement has no target and runs until a limit.
func (c *Controller) goDirection(ctx context.Context, desired cover.Direction, target float64, bounded bool) error {
	parent := ctx

	c.mu.Lock()
	c.refreshPositionLocked()

	// Already moving the desired way: the motor is left alone, only the
	// timing base is rebound to the new target.
	if c.direction == desired {
		if !bounded {
			c.mu.Unlock()
			return nil
		}
		logrus.Debugf("%s: retarget to %.0f while %s", c.name, target, desired)
		ctx = c.retainContextLocked(ctx)
		c.startPosition = c.position
		c.movementStart = c.clock.Now()
		snap := c.snapshotLocked()
		go c.simulateMovement(ctx, desired, target, bounded)
		c.mu.Unlock()
		c.notify(snap)
		return nil
	}

	wasTracking := c.direction != cover.Idle
	ctx = c.retainContextLocked(ctx)

	var stopped *cover.Snapshot
	if wasTracking {
		c.haltLocked(true)
		if c.atLimitLocked() {
			// the limit switch already cut the motor between two ticks,
			// so there is no running movement left to stop with a pulse
			c.lastLimitStop = c.clock.Now()
			c.motorRunning = false
		}
		s := c.snapshotLocked()
		stopped = &s
	}

	c.repairLastDirectionLocked()

	if bounded && math.Round(c.position) == math.Round(target) {
		running := c.motorRunning
		c.mu.Unlock()
		if stopped != nil {
			c.notify(*stopped)
		}
		if !running {
			logrus.Debugf("%s: already on position %.0f", c.name, target)
			return nil
		}
		// the freeze landed exactly on the target, one pulse parks the
		// motor there; like a stop it must survive superseding commands
		if err := c.pulse(parent); err != nil {
			c.logPulseErr(err)
		}
		return nil
	}

	// The pulse count follows from the predicted toggle: a running motor
	// needs a stop and a start to reverse, an idle toggle pointing away
	// from desired starts with a single pulse, and an idle toggle already
	// pointing toward desired would start the wrong way, so it is cycled
	// through a full start/stop/start. A motor left running toward desired
	// by a superseded sequence needs no pulse at all.
	pulses := 0
	switch {
	case c.motorRunning && c.lastDirection == desired:
	case c.motorRunning:
		pulses = 2
	case c.lastDirection != desired:
		pulses = 1
	default:
		pulses = 3
	}
	c.mu.Unlock()

	if stopped != nil {
		c.notify(*stopped)
	}

	if pulses == 0 {
		logrus.Debugf("%s: motor already running %s, adopting", c.name, desired)
		go c.beginMovement(ctx, desired, target, bounded)
		return nil
	}

	go c.sequence(ctx, desired, target, bounded, pulses)
	return nil
}

// sequence pushes the motor toggle through the required pulses, then starts
// the movement simulation. Every pulse advances the toggle prediction in the
// same critical section that issues it, so even a canceled sequence leaves
// the prediction matching what the hardware received.
func (c *Controller) sequence(ctx context.Context, desired cover.Direction, target float64, bounded bool, pulses int) {
	logrus.Debugf("%s: sequencing %d pulse(s) to go %s", c.name, pulses, desired)

	for i := 0; i < pulses; i++ {
		if err := c.pulse(ctx); err != nil {
			c.logPulseErr(err)
			return
		}
	}

	c.beginMovement(ctx, desired, target, bounded)
}

func (c *Controller) beginMovement(ctx context.Context, desired cover.Direction, target float64, bounded bool) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.startMovementLocked(desired)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if bounded {
		logrus.Infof("%s: moving %s towards %.0f", c.name, desired, target)
	} else {
		logrus.Infof("%s: moving %s", c.name, desired)
	}
	c.notify(snap)

	c.simulateMovement(ctx, desired, target, bounded)
}

// simulateMovement is the per-movement estimation task. At most one runs at
// a time: starting another intent cancels the previous context before any
// state is touched, and the loop re-checks it under the lock, so two tasks
// can never interleave their writes.
func (c *Controller) simulateMovement(ctx context.Context, desired cover.Direction, target float64, bounded bool) {
	logrus.Debugf("%s: begin position estimation", c.name)

	for {
		select {
		case <-ctx.Done():
			logrus.Debugf("%s: exit position estimation", c.name)
			return
		case <-c.clock.After(tick):
		}

		c.mu.Lock()
		if ctx.Err() != nil || c.direction != desired {
			c.mu.Unlock()
			return
		}

		now := c.clock.Now()
		var done, limit bool
		if bounded {
			done, limit = c.advanceTowardLocked(now, target)
		} else {
			done = c.advanceFreeLocked(now)
			limit = done
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)

		if !done {
			continue
		}

		if limit {
			logrus.Infof("%s: reached limit, position %.0f", c.name, snap.Position)
			return
		}

		logrus.Infof("%s: reached position %.0f", c.name, snap.Position)
		// mid-range the motor cannot stop on its own, one pulse halts it
		if err := c.pulse(ctx); err != nil {
			c.logPulseErr(err)
		}
		return
	}
}

// advanceFreeLocked re-estimates the position of an unbounded movement and
// finishes it once a hard limit is hit.
func (c *Controller) advanceFreeLocked(now time.Time) bool {
	c.position = estimate(c.direction, c.startPosition, c.travelTime, c.movementStart, now)
	if c.atLimitLocked() {
		c.finishAtLimitLocked(now)
		return true
	}
	return false
}

// advanceTowardLocked interpolates a targeted movement. It reports whether
// the movement finished and whether it finished on a hard limit.
func (c *Controller) advanceTowardLocked(now time.Time, target float64) (done, limit bool) {
	distance := math.Abs(target - c.startPosition)
	total := time.Duration(float64(c.travelTime) * distance / cover.FullOpenPosition)

	progress := 1.0
	if total > 0 {
		progress = math.Min(1, float64(now.Sub(c.movementStart))/float64(total))
	}

	delta := distance * progress
	if c.direction == cover.Closing {
		delta = -delta
	}
	c.position = clampPosition(c.startPosition + delta)

	if progress < 1 {
		return false, false
	}

	c.position = target
	if target <= cover.FullClosedPosition || target >= cover.FullOpenPosition {
		c.finishAtLimitLocked(now)
		return true, true
	}

	c.settleLocked()
	return true, false
}

// pulse triggers one switch activation and holds for the pulse gap so the
// motor electronics settle before another pulse can mean anything. The
// toggle prediction is advanced in the same critical section that arms the
// self-debounce horizon: the physical controller alternates between stopping
// and starting, a start always reversing the previous run.
func (c *Controller) pulse(ctx context.Context) error {
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	gap := c.pulseGap
	c.ignoreUntil = c.clock.Now().Add(gap + echoBuffer)
	if c.motorRunning {
		c.motorRunning = false
	} else {
		c.motorRunning = true
		c.lastDirection = c.lastDirection.Opposite()
	}
	c.mu.Unlock()

	if err := c.sw.Pulse(ctx); err != nil {
		return errors.Wrapf(err, "%s: pulse", c.name)
	}
	logrus.Debugf("%s: pulse sent", c.name)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(gap):
		return nil
	}
}

// HandleActivation processes a switch activation report. Self-caused
// activations are recognized by the debounce horizon armed on every pulse;
// anything else is someone operating the cover behind our back: a press
// while moving stops the motor, a press while idle starts it the way the
// toggle dictates.
func (c *Controller) HandleActivation(ctx context.Context) {
	c.mu.Lock()
	now := c.clock.Now()

	if !c.ignoreUntil.IsZero() {
		if now.Before(c.ignoreUntil) {
			logrus.Debugf("%s: switch activation ignored, own pulse echo", c.name)
			c.mu.Unlock()
			return
		}
		c.ignoreUntil = time.Time{}
	}

	if !c.lastLimitStop.IsZero() && now.Sub(c.lastLimitStop) < limitStopIgnore && c.atLimitLocked() {
		// some motor controllers report one spurious toggle when the limit
		// switch cuts the movement; drop it exactly once
		logrus.Debugf("%s: switch activation ignored, limit stop echo", c.name)
		c.lastLimitStop = time.Time{}
		c.mu.Unlock()
		return
	}

	if c.direction != cover.Idle {
		logrus.Infof("%s: switch activated while moving, assuming manual stop", c.name)
		c.cancelIntentLocked()
		c.haltLocked(true)
		c.motorRunning = false
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	if c.motorRunning {
		// a superseded sequence left the motor on an untracked run, the
		// press stopped it
		logrus.Infof("%s: switch activated on an untracked run, assuming manual stop", c.name)
		c.motorRunning = false
		c.mu.Unlock()
		return
	}

	var d cover.Direction
	switch {
	case c.position <= cover.FullClosedPosition:
		d = cover.Opening
	case c.position >= cover.FullOpenPosition:
		d = cover.Closing
	default:
		d = c.lastDirection.Opposite()
	}

	logrus.Infof("%s: switch activated while idle, assuming manual move %s", c.name, d)
	ctx = c.retainContextLocked(ctx)
	c.startMovementLocked(d)
	snap := c.snapshotLocked()
	go c.simulateMovement(ctx, d, 0, false)
	c.mu.Unlock()
	c.notify(snap)
}

// SetTravelTime adjusts the calibrated full travel duration. The elapsed
// part of an ongoing movement is folded into the timing base first, so the
// new calibration only applies from now on.
func (c *Controller) SetTravelTime(d time.Duration) {
	c.mu.Lock()
	c.rebaseLocked()
	c.travelTime = clampTravelTime(d)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logrus.Infof("%s: travel time set to %s", c.name, snap.TravelTime)
	c.notify(snap)
}

func (c *Controller) SetPulseGap(d time.Duration) {
	c.mu.Lock()
	c.pulseGap = clampPulseGap(d)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logrus.Infof("%s: pulse gap set to %s", c.name, snap.PulseGap)
	c.notify(snap)
}

// OverridePosition forces the tracked position without touching the motor.
// Any ongoing movement estimation is abandoned.
func (c *Controller) OverridePosition(position float64) {
	c.mu.Lock()
	c.cancelIntentLocked()
	c.haltLocked(false)
	c.position = clampPosition(position)
	c.startPosition = c.position
	c.repairLastDirectionLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logrus.Infof("%s: position overridden to %.0f", c.name, snap.Position)
	c.notify(snap)
}

// OverrideDirection forces the tracked movement state. Overriding to Idle
// corrects the estimate without pulsing the motor; overriding to a movement
// runs the full pulse protocol and lets the cover run until a limit.
func (c *Controller) OverrideDirection(ctx context.Context, d cover.Direction) error {
	if d == cover.Idle {
		c.mu.Lock()
		if c.direction == cover.Idle && !c.motorRunning {
			c.mu.Unlock()
			return nil
		}
		logrus.Infof("%s: direction overridden to idle", c.name)
		c.cancelIntentLocked()
		// unlike a stop, the override leaves the toggle prediction alone
		if c.direction != cover.Idle {
			c.position = estimate(c.direction, c.startPosition, c.travelTime, c.movementStart, c.clock.Now())
		}
		c.motorRunning = false
		c.settleLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return nil
	}

	logrus.Infof("%s: direction overridden to %s", c.name, d)
	return c.goDirection(ctx, d, 0, false)
}

// OverrideLastDirection forces the toggle prediction. Idle is not a
// movement and is rejected.
func (c *Controller) OverrideLastDirection(d cover.Direction) error {
	if d != cover.Opening && d != cover.Closing {
		return errors.Errorf("%s: last direction must be opening or closing, got %q", c.name, d)
	}

	c.mu.Lock()
	c.lastDirection = d
	c.repairLastDirectionLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logrus.Infof("%s: last direction overridden to %s", c.name, snap.LastDirection)
	c.notify(snap)
	return nil
}

// Restore re-applies attributes persisted by a previous run. A restored
// movement cannot be resumed, it degrades to idle at the frozen position.
func (c *Controller) Restore(s cover.Snapshot) {
	c.mu.Lock()
	c.cancelIntentLocked()
	c.motorRunning = false
	c.position = clampPosition(s.Position)
	c.settleLocked()

	if s.Direction == cover.Opening || s.Direction == cover.Closing {
		logrus.Warnf("%s: restored mid-movement %s, demoting to idle", c.name, s.Direction)
		c.lastDirection = s.Direction
	} else if s.LastDirection == cover.Opening || s.LastDirection == cover.Closing {
		c.lastDirection = s.LastDirection
	}

	if s.TravelTime > 0 {
		c.travelTime = clampTravelTime(s.TravelTime)
	}
	if s.PulseGap > 0 {
		c.pulseGap = clampPulseGap(s.PulseGap)
	}
	c.repairLastDirectionLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logrus.Infof("%s: restored position %.0f, last direction %s", c.name, snap.Position, snap.LastDirection)
	c.notify(snap)
}

// Shutdown abandons any ongoing movement, freezing the estimate so the last
// update seen by the handlers reflects where the cover was left.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.cancelIntentLocked()
	c.haltLocked(true)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// rebaseLocked folds the elapsed part of an ongoing movement into the timing
// base. Estimation state recomputed after it only covers the time from now.
func (c *Controller) rebaseLocked() {
	if c.direction == cover.Idle || c.movementStart.IsZero() {
		return
	}
	now := c.clock.Now()
	c.position = estimate(c.direction, c.startPosition, c.travelTime, c.movementStart, now)
	c.startPosition = c.position
	c.movementStart = now
}

func (c *Controller) retainContextLocked(parent context.Context) context.Context {
	c.cancelIntentLocked()

	ctx, cancel := context.WithCancel(parent)
	c.cancelIntent = cancel
	return ctx
}

func (c *Controller) cancelIntentLocked() {
	if c.cancelIntent != nil {
		logrus.Debugf("%s: found previous operation context, cancel", c.name)
		c.cancelIntent()
		c.cancelIntent = nil
	}
}

// haltLocked freezes the estimate and marks the cover idle, remembering the
// direction it was moving as the motor's last movement.
func (c *Controller) haltLocked(freeze bool) {
	if c.direction == cover.Idle {
		return
	}
	if freeze {
		c.position = estimate(c.direction, c.startPosition, c.travelTime, c.movementStart, c.clock.Now())
	}
	c.lastDirection = c.direction
	c.settleLocked()
}

func (c *Controller) settleLocked() {
	c.direction = cover.Idle
	c.movementStart = time.Time{}
	c.startPosition = c.position
}

func (c *Controller) startMovementLocked(d cover.Direction) {
	c.direction = d
	c.lastDirection = d
	c.motorRunning = true
	c.startPosition = c.position
	c.movementStart = c.clock.Now()
}

func (c *Controller) finishAtLimitLocked(now time.Time) {
	c.position = clampPosition(c.position)
	c.motorRunning = false
	c.settleLocked()
	c.lastLimitStop = now
}

func (c *Controller) refreshPositionLocked() {
	if c.direction == cover.Idle || c.movementStart.IsZero() {
		return
	}
	c.position = estimate(c.direction, c.startPosition, c.travelTime, c.movementStart, c.clock.Now())
}

// repairLastDirectionLocked restores the limit invariant: a cover resting at
// a hard limit can only have arrived there moving toward it. A mismatch
// means the toggle prediction went stale, and sequencing pulses from it
// would run the motor the wrong way.
func (c *Controller) repairLastDirectionLocked() {
	if c.direction != cover.Idle {
		return
	}
	switch {
	case c.position <= cover.FullClosedPosition && c.lastDirection != cover.Closing:
		logrus.Warnf("%s: last direction %s is impossible on a closed cover, correcting", c.name, c.lastDirection)
		c.lastDirection = cover.Closing
	case c.position >= cover.FullOpenPosition && c.lastDirection != cover.Opening:
		logrus.Warnf("%s: last direction %s is impossible on a fully open cover, correcting", c.name, c.lastDirection)
		c.lastDirection = cover.Opening
	}
}

func (c *Controller) atLimitLocked() bool {
	return c.position <= cover.FullClosedPosition || c.position >= cover.FullOpenPosition
}

func (c *Controller) snapshotLocked() cover.Snapshot {
	return cover.Snapshot{
		Position:      c.position,
		Direction:     c.direction,
		LastDirection: c.lastDirection,
		TravelTime:    c.travelTime,
		PulseGap:      c.pulseGap,
	}
}

func (c *Controller) notify(s cover.Snapshot) {
	c.mu.Lock()
	handlers := make([]cover.UpdateHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

func (c *Controller) logPulseErr(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logrus.Infof("%s: pulse sequence canceled", c.name)
		return
	}
	logrus.Errorf("%s: pulse error: %s", c.name, err)
}

// estimate converts the time elapsed since a movement started into a
// position. It recomputes from the movement start instead of incrementing
// the previous value.
func estimate(direction cover.Direction, startPosition float64, travelTime time.Duration, start, now time.Time) float64 {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	delta := float64(elapsed) / float64(travelTime) * cover.FullOpenPosition
	if direction == cover.Closing {
		delta = -delta
	}
	return clampPosition(startPosition + delta)
}

func clampPosition(p float64) float64 {
	return math.Min(cover.FullOpenPosition, math.Max(cover.FullClosedPosition, p))
}

func clampTravelTime(d time.Duration) time.Duration {
	return clampDuration(d.Round(time.Second), MinTravelTime, MaxTravelTime)
}

func clampPulseGap(d time.Duration) time.Duration {
	return clampDuration(d, MinPulseGap, MaxPulseGap)
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
