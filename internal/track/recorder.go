// Package track records resolved robot positions into a DuckDB file so a
// viewer can ask where a robot has been.
package track

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/models"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("track recorder closed")

// DefaultLimit caps Trail queries without an explicit limit.
const DefaultLimit = 500

// pendingBatches bounds the buffer while the database is failing. Beyond
// BatchSize*pendingBatches rows the oldest samples are dropped.
const pendingBatches = 4

// Options tune batching.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultOptions mirrors the shipped config.
func DefaultOptions() Options {
	return Options{BatchSize: 256, FlushInterval: time.Second}
}

// Sample is one recorded robot position.
type Sample struct {
	At       time.Time `json:"at"`
	DeviceID string    `json:"deviceId"`
	Name     string    `json:"name"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Angle    *float64  `json:"angle,omitempty"`
	Battery  *float64  `json:"battery,omitempty"`
	Speed    *float64  `json:"speed,omitempty"`
}

type row struct {
	session string
	at      int64
	robot   models.RobotMarker
}

// Recorder buffers positions and appends them in batches.
type Recorder struct {
	db   *sql.DB
	path string
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	batch   []row
	count   int
	dropped int
	lastErr error
	closed  bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// Open creates (or reopens) the trail database at path.
func Open(path string, opts Options, log zerolog.Logger) (*Recorder, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create track directory: %w", err)
	}

	log = log.With().Str("component", "track").Logger()
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, pragma := range []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
		} {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				log.Warn().Err(err).Str("pragma", pragma).Msg("pragma failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			ts         BIGINT NOT NULL,
			session_id VARCHAR NOT NULL,
			device_id  VARCHAR NOT NULL,
			name       VARCHAR,
			x          DOUBLE NOT NULL,
			y          DOUBLE NOT NULL,
			angle      DOUBLE,
			battery    DOUBLE,
			speed      DOUBLE
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	r := &Recorder{
		db:    db,
		path:  path,
		opts:  opts,
		log:   log,
		batch: make([]row, 0, opts.BatchSize),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.flushLoop()

	log.Info().Str("path", path).Int("batchSize", opts.BatchSize).Msg("trail recorder opened")
	return r, nil
}

// flushLoop owns every background write: full batches signalled by record
// and the periodic tick.
func (r *Recorder) flushLoop() {
	defer close(r.done)

	var tick <-chan time.Time
	if r.opts.FlushInterval > 0 {
		ticker := time.NewTicker(r.opts.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-r.kick:
			r.backgroundFlush("batch flush failed")
		case <-tick:
			r.backgroundFlush("periodic flush failed")
		case <-r.stop:
			return
		}
	}
}

func (r *Recorder) backgroundFlush(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.flushLocked(); err != nil {
		r.lastErr = err
		r.log.Warn().Err(err).Int("pending", len(r.batch)).Msg(msg)
	}
}

// ForSession returns a recorder that tags every sample with sessionID.
func (r *Recorder) ForSession(sessionID string) *Session {
	return &Session{r: r, id: sessionID}
}

func (r *Recorder) record(sessionID string, robots []models.RobotMarker, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	ms := at.UnixMilli()
	for _, robot := range robots {
		r.batch = append(r.batch, row{session: sessionID, at: ms, robot: robot})
	}
	if over := len(r.batch) - r.opts.BatchSize*pendingBatches; over > 0 {
		r.dropRows(over)
		r.dropped += over
	}
	if len(r.batch) >= r.opts.BatchSize {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// dropRows removes the n oldest buffered rows.
func (r *Recorder) dropRows(n int) {
	if n >= len(r.batch) {
		r.batch = r.batch[:0]
		return
	}
	r.batch = append(r.batch[:0], r.batch[n:]...)
}

// Flush writes any buffered samples.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.batch) == 0 {
		return nil
	}

	conn, err := r.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	// rows handed to the appender are committed by its Close even when a
	// later row fails, so they leave the buffer either way
	appended := 0
	err = conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "positions")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, b := range r.batch {
			err := appender.AppendRow(
				b.at,
				b.session,
				b.robot.DeviceID,
				b.robot.Name,
				b.robot.X,
				b.robot.Y,
				nullable(b.robot.Angle),
				nullable(b.robot.Battery),
				nullable(b.robot.Speed),
			)
			if err != nil {
				// the row itself is unwritable; drop it with the rest
				appended = i + 1
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
			appended = i + 1
		}
		return appender.Flush()
	})
	if err != nil {
		r.dropRows(appended)
		return fmt.Errorf("appender error: %w", err)
	}

	r.count += len(r.batch)
	r.log.Debug().Int("rows", len(r.batch)).Int("total", r.count).Msg("trail batch flushed")
	r.batch = r.batch[:0]
	return nil
}

func nullable(v *float64) driver.Value {
	if v == nil {
		return nil
	}
	return *v
}

// LastError returns the last background flush error.
func (r *Recorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Pending returns the number of buffered samples not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batch)
}

// Dropped returns the number of samples discarded while the buffer was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Len returns the number of samples written so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) trail(ctx context.Context, sessionID, deviceID string, since time.Time, limit int) ([]Sample, error) {
	if err := r.Flush(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	// newest first so the limit keeps the most recent samples
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, device_id, name, x, y, angle, battery, speed
		FROM positions
		WHERE session_id = ? AND device_id = ? AND ts >= ?
		ORDER BY ts DESC
		LIMIT ?
	`, sessionID, deviceID, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("trail query failed: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			ts                    int64
			s                     Sample
			name                  sql.NullString
			angle, battery, speed sql.NullFloat64
		)
		if err := rows.Scan(&ts, &s.DeviceID, &name, &s.X, &s.Y, &angle, &battery, &speed); err != nil {
			return nil, fmt.Errorf("trail scan failed: %w", err)
		}
		s.At = time.UnixMilli(ts).UTC()
		s.Name = name.String
		s.Angle = floatPtr(angle)
		s.Battery = floatPtr(battery)
		s.Speed = floatPtr(speed)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Close flushes pending samples and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	err := r.flushLocked()
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	<-r.done

	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Session is the per-viewer view of a Recorder.
type Session struct {
	r  *Recorder
	id string
}

// Record buffers one fleet tick.
func (s *Session) Record(robots []models.RobotMarker, at time.Time) {
	s.r.record(s.id, robots, at)
}

// Trail returns the samples of one robot since a point in time, oldest first.
func (s *Session) Trail(ctx context.Context, deviceID string, since time.Time, limit int) ([]Sample, error) {
	return s.r.trail(ctx, s.id, deviceID, since, limit)
}
