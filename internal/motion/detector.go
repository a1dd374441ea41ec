// Package motion implements frame-differencing motion detection as a
// three-state machine: idle, motion, cooldown. The detector consumes one
// frame per capture cycle and performs exactly one frame comparison per
// cycle regardless of state.
package motion

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"piwebcam/internal/snapshot"
)

// MaxCooldown bounds the configurable cooldown so detection cannot be
// effectively disabled by a typo in the configuration.
const MaxCooldown = time.Hour

// State identifies the detector state. Exactly one state is active at any
// time; transitions happen only inside Process.
type State string

const (
	StateIdle     State = "idle"
	StateMotion   State = "motion"
	StateCooldown State = "cooldown"
)

// Event is the outcome of a single Process call.
type Event int

const (
	EventNone Event = iota
	EventMotionStarted
	EventMotionEnded
)

func (e Event) String() string {
	switch e {
	case EventMotionStarted:
		return "motion_started"
	case EventMotionEnded:
		return "motion_ended"
	default:
		return "none"
	}
}

// CompareFunc reports the percentage (0-100) of pixels that differ between
// two encoded frames.
type CompareFunc func(a, b []byte) (float64, error)

// AnnotateFunc optionally stamps a frame before it is stored as a snapshot.
type AnnotateFunc func(frame []byte, ts time.Time) ([]byte, error)

// Config holds the immutable detector configuration.
type Config struct {
	// ThresholdPercent is the change percentage at or above which a frame
	// counts as motion. Valid range [0, 100].
	ThresholdPercent float64
	// Cooldown is the refractory period after motion ends during which new
	// motion events are suppressed. Must be > 0 and <= MaxCooldown.
	Cooldown time.Duration
}

func (c Config) validate() error {
	if c.ThresholdPercent < 0 || c.ThresholdPercent > 100 {
		return fmt.Errorf("threshold percent %v out of range [0, 100]", c.ThresholdPercent)
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be > 0")
	}
	if c.Cooldown > MaxCooldown {
		return fmt.Errorf("cooldown %v exceeds maximum %v", c.Cooldown, MaxCooldown)
	}
	return nil
}

// Status is a read-only view of the detector, taken under the same lock
// that guards Process.
type Status struct {
	State              State    `json:"state"`
	IsMotionActive     bool     `json:"is_motion_active"`
	EventCount         int64    `json:"event_count"`
	LastEventTimestamp *float64 `json:"last_event_timestamp"`
	LastChangePercent  float64  `json:"last_change_percent"`
}

// Detector drives the motion state machine. A single goroutine calls
// Process once per captured frame; any number of goroutines may call
// Status concurrently.
type Detector struct {
	cfg      Config
	compare  CompareFunc
	store    *snapshot.Store
	annotate AnnotateFunc
	log      zerolog.Logger

	mu            sync.Mutex
	state         State
	previous      []byte
	baseline      []byte
	eventCount    int64
	lastEvent     time.Time
	lastChange    float64
	cooldownUntil time.Time
}

// NewDetector validates the configuration and returns a detector in the
// idle state. A nil store disables snapshot capture.
func NewDetector(cfg Config, compare CompareFunc, store *snapshot.Store, logger zerolog.Logger) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("motion detector config: %w", err)
	}
	if compare == nil {
		return nil, errors.New("motion detector config: compare function is required")
	}
	return &Detector{
		cfg:     cfg,
		compare: compare,
		store:   store,
		log:     logger,
		state:   StateIdle,
	}, nil
}

// SetAnnotator installs a frame annotator applied to snapshots before they
// are stored. If annotation fails the raw frame is stored instead.
func (d *Detector) SetAnnotator(fn AnnotateFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.annotate = fn
}

// Process feeds one captured frame through the state machine and returns
// the resulting event. It must not be called concurrently with itself; the
// capture loop is the only writer.
func (d *Detector) Process(frame []byte, now time.Time) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateMotion:
		return d.stepMotion(frame, now)
	case StateCooldown:
		if now.Before(d.cooldownUntil) {
			// Refractory period: no comparison, just keep frame-to-frame
			// continuity for the idle comparison that follows.
			d.previous = frame
			return EventNone
		}
		d.state = StateIdle
		d.log.Debug().Msg("cooldown elapsed, re-armed")
		// Evaluate this same frame against the idle rule so motion starting
		// exactly at expiry is not missed.
		return d.stepIdle(frame, now)
	default:
		return d.stepIdle(frame, now)
	}
}

func (d *Detector) stepIdle(frame []byte, now time.Time) Event {
	if d.previous == nil {
		// First frame after startup: nothing to compare against yet.
		d.previous = frame
		return EventNone
	}

	change, err := d.compare(d.previous, frame)
	if err != nil {
		d.log.Warn().Err(err).Msg("frame comparison failed, skipping cycle")
		return EventNone
	}
	d.lastChange = change

	if change >= d.cfg.ThresholdPercent {
		d.baseline = d.previous
		d.previous = frame
		d.state = StateMotion
		d.eventCount++
		d.lastEvent = now
		d.captureSnapshot(frame, now)
		d.log.Info().
			Float64("change_percent", change).
			Int64("event_count", d.eventCount).
			Msg("motion started")
		return EventMotionStarted
	}

	d.previous = frame
	return EventNone
}

func (d *Detector) stepMotion(frame []byte, now time.Time) Event {
	change, err := d.compare(d.baseline, frame)
	if err != nil {
		d.log.Warn().Err(err).Msg("frame comparison failed, skipping cycle")
		return EventNone
	}
	d.lastChange = change

	if change < d.cfg.ThresholdPercent {
		// Scene returned to the baseline captured at motion onset. The
		// previous frame is left untouched on this call only.
		d.state = StateCooldown
		d.cooldownUntil = now.Add(d.cfg.Cooldown)
		d.log.Info().
			Float64("change_percent", change).
			Time("cooldown_until", d.cooldownUntil).
			Msg("motion ended")
		return EventMotionEnded
	}

	d.previous = frame
	return EventNone
}

// captureSnapshot stores the triggering frame, annotated when an annotator
// is installed. Called with the detector lock held.
func (d *Detector) captureSnapshot(frame []byte, now time.Time) {
	if d.store == nil {
		return
	}

	image := frame
	if d.annotate != nil {
		annotated, err := d.annotate(frame, now)
		if err != nil {
			d.log.Warn().Err(err).Msg("snapshot annotation failed, storing raw frame")
		} else {
			image = annotated
		}
	}

	entry := d.store.Add(now, image)
	d.log.Debug().Str("snapshot_id", entry.ID).Msg("snapshot stored")
}

// Status returns a consistent snapshot of the detector state. All fields
// are read under one lock acquisition, so a reader never observes a status
// straddling two states.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		State:             d.state,
		IsMotionActive:    d.state == StateMotion,
		EventCount:        d.eventCount,
		LastChangePercent: d.lastChange,
	}
	if !d.lastEvent.IsZero() {
		ts := float64(d.lastEvent.UnixNano()) / float64(time.Second)
		st.LastEventTimestamp = &ts
	}
	return st
}

// IsMotionActive reports whether the detector is currently in the motion
// state. Cooldown and idle both report false.
func (d *Detector) IsMotionActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateMotion
}
