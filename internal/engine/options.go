package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/animator"
	"github.com/warehouse-map/backend/internal/config"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/telemetry"
)

// Options is the configuration handed to the engine once at construction.
type Options struct {
	Style     config.MapStyle
	Animation animator.Config
	Telemetry telemetry.Options // empty URL disables the live feed
}

// OptionsFromConfig builds engine options from the application config.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		Style: cfg.Map,
		Animation: animator.Config{
			MinDuration:       time.Duration(cfg.Animation.MinDurationMs) * time.Millisecond,
			MaxDuration:       time.Duration(cfg.Animation.MaxDurationMs) * time.Millisecond,
			PerUnit:           time.Duration(cfg.Animation.MsPerUnit * float64(time.Millisecond)),
			RotationThreshold: cfg.Animation.RotationThreshold,
		},
		Telemetry: telemetry.Options{
			URL:               cfg.Telemetry.URL,
			ReconnectInterval: cfg.Telemetry.ReconnectInterval(),
			MaxAttempts:       cfg.Telemetry.MaxAttempts,
			BackoffMultiplier: cfg.Telemetry.BackoffMultiplier,
			MaxBackoff:        cfg.Telemetry.MaxBackoff(),
			HandshakeTimeout:  time.Duration(cfg.Telemetry.HandshakeTimeout) * time.Second,
		},
	}
}

// DefaultOptions returns stock styling with no live feed.
func DefaultOptions() Options {
	return Options{
		Style:     config.DefaultMapStyle(),
		Animation: animator.DefaultConfig(),
	}
}

// Feed is a live telemetry connection.
type Feed interface {
	Start(ctx context.Context)
	Reconnect()
	Close() error
}

// FeedFactory creates the live feed; tests substitute their own.
type FeedFactory func(opts telemetry.Options, log zerolog.Logger, onMessage func([]byte), onStatus func(telemetry.Status, error)) Feed

func defaultFeed(opts telemetry.Options, log zerolog.Logger, onMessage func([]byte), onStatus func(telemetry.Status, error)) Feed {
	return telemetry.NewClient(opts, log, onMessage, onStatus)
}

// Recorder persists resolved robot positions.
type Recorder interface {
	Record(robots []models.RobotMarker, at time.Time)
}

// Publisher fans events out to other services.
type Publisher interface {
	PublishSelection(ev models.SelectionEvent) error
	PublishFleet(robots []models.RobotMarker) error
}

// Controller is handed to the ready callback.
type Controller interface {
	ResetView()
	Status() Status
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithOnReady registers the callback fired once the surface is initialized.
// It runs on the engine loop and must not call blocking engine methods.
func WithOnReady(fn func(Controller)) Option {
	return func(e *Engine) { e.onReady = fn }
}

// WithOnSelect registers the selection callback. It runs on the engine loop.
func WithOnSelect(fn func(models.SelectionEvent)) Option {
	return func(e *Engine) { e.onSelect = fn }
}

// WithOnStatus observes status changes. It may run on any goroutine.
func WithOnStatus(fn func(Status)) Option {
	return func(e *Engine) { e.onStatus = fn }
}

// WithFeedFactory replaces the WebSocket feed.
func WithFeedFactory(f FeedFactory) Option {
	return func(e *Engine) { e.newFeed = f }
}

// WithRecorder records every resolved fleet.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPublisher publishes selections and fleet updates.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
