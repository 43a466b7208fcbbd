// Package session implements C7: the per-show Session Controller state
// machine (spec §4.7) that drives C1→C5 for one show, reconnecting
// with backoff on transient failures and respecting a daily recording
// window.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andrewtheguy/saveaudiostream/internal/chunker"
	"github.com/andrewtheguy/saveaudiostream/internal/decode"
	"github.com/andrewtheguy/saveaudiostream/internal/encode"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/resample"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
	"github.com/andrewtheguy/saveaudiostream/internal/streamsource"
)

// State is one node of the C7 state machine.
type State int

const (
	Idle State = iota
	Connecting
	Streaming
	Backoff
	Closing
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Backoff:
		return "backoff"
	case Closing:
		return "closing"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Schedule describes the daily recording window, in minutes since UTC
// midnight. RecordStart < RecordEnd; the gap past RecordEnd until the
// next day's RecordStart is the mandatory daily break (spec §4.7) that
// keeps drift from accumulating across midnight.
type Schedule struct {
	RecordStartMinute int
	RecordEndMinute   int
}

// withinWindow reports whether t (UTC) falls inside today's recording
// window.
func (s Schedule) withinWindow(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	return minute >= s.RecordStartMinute && minute < s.RecordEndMinute
}

// nextStart computes the next UTC instant at or after from that begins
// a recording window.
func (s Schedule) nextStart(from time.Time) time.Time {
	from = from.UTC()
	todayStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(s.RecordStartMinute) * time.Minute)
	if !from.After(todayStart) {
		return todayStart
	}
	return todayStart.Add(24 * time.Hour)
}

// StatusEvent is broadcast on every state transition, for the operator
// status stream (SPEC_FULL.md §12).
type StatusEvent struct {
	Show      string
	State     State
	Err       error
	Timestamp time.Time
}

// Controller drives one show's recording lifecycle.
type Controller struct {
	Show         string
	StreamURL    string
	Store        store.Store
	Format       model.AudioFormat
	BitrateKbps  int
	SampleRateHz int // target (post-resample) rate
	SplitSeconds int
	MaxDriftMs   int64
	Schedule     Schedule

	// Status, if non-nil, receives a StatusEvent on every transition.
	// A blocked receiver never stalls the pipeline — sends are
	// best-effort.
	Status chan<- StatusEvent

	state State
}

// Run drives the state machine until ctx is cancelled, then returns
// ctx.Err(). Aborted is logged, not propagated as a return value —
// callers that need to know about aborts should read Status events.
func (c *Controller) Run(ctx context.Context) error {
	c.state = Idle
	c.emit(nil)

	var stream *streamsource.Stream
	var bo backoff.BackOff

	for {
		select {
		case <-ctx.Done():
			if stream != nil {
				stream.Close()
			}
			return ctx.Err()
		default:
		}

		switch c.state {
		case Idle:
			next := c.Schedule.nextStart(time.Now())
			if err := sleepUntil(ctx, next); err != nil {
				return err
			}
			c.transition(Connecting)

		case Connecting:
			s, err := streamsource.Open(ctx, c.StreamURL)
			if err != nil {
				if errors.Is(err, streamsource.ErrUnsupportedInputCodec) {
					c.transitionErr(Aborted, err)
					continue
				}
				c.transitionErr(Backoff, err)
				continue
			}
			stream = s
			bo = newBackoff()
			c.transition(Streaming)

		case Streaming:
			err := c.stream(ctx, stream)
			stream.Close()
			stream = nil
			switch {
			case err == nil:
				c.transition(Closing)
			case errors.Is(err, chunker.ErrTimestampDrift):
				c.transitionErr(Aborted, err)
			case errors.Is(err, decode.ErrResyncLost):
				c.transitionErr(Backoff, err)
			default:
				c.transitionErr(Backoff, err)
			}

		case Backoff:
			if !c.Schedule.withinWindow(time.Now()) {
				c.transition(Idle)
				continue
			}
			d := bo.NextBackOff()
			if d == backoff.Stop {
				c.transition(Idle)
				continue
			}
			if err := sleepFor(ctx, d); err != nil {
				return err
			}
			if !c.Schedule.withinWindow(time.Now()) {
				c.transition(Idle)
				continue
			}
			c.transition(Connecting)

		case Closing:
			c.transition(Idle)

		case Aborted:
			c.transition(Idle)
		}
	}
}

// stream runs the C2→C5 pipeline for one streaming session until the
// input ends, the recording window closes, or a fatal error occurs.
func (c *Controller) stream(ctx context.Context, s *streamsource.Stream) error {
	dec, err := decode.New(s.Codec, s.Body, 2*time.Second)
	if err != nil {
		return err
	}
	defer dec.Close()

	targetRate := c.Format.TargetSampleRate(c.SampleRateHz)
	enc, err := encode.New(c.Format, targetRate, c.BitrateKbps)
	if err != nil {
		return err
	}

	sectionID := time.Now().UnixMicro()
	ck, err := chunker.Open(ctx, c.Store, c.Format, sectionID, s.OriginWallClockMs, chunker.Config{
		SplitIntervalSeconds: c.SplitSeconds,
		TargetSampleRateHz:   targetRate,
		MaxDriftMs:           c.MaxDriftMs,
	})
	if err != nil {
		return err
	}

	var rs *resample.Processor
	frameSamples := enc.FrameSamples()
	var pcmBuf []int16

	sessionStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := dec.Next()
		if err != nil {
			if errors.Is(err, decode.ErrResyncLost) {
				return err
			}
			break // clean EOF or underlying I/O error: end of stream
		}

		if rs == nil {
			rs, err = resample.New(frame.SampleRateHz, frame.Channels, targetRate)
			if err != nil {
				return err
			}
		}

		pcmBuf = append(pcmBuf, rs.Push(frame.Samples)...)

		if frameSamples <= 0 {
			ef, err := enc.Push(pcmBuf)
			if err != nil {
				return err
			}
			pcmBuf = pcmBuf[:0]
			if err := ck.Push(ctx, ef, time.Since(sessionStart).Milliseconds()); err != nil {
				return err
			}
			continue
		}

		for len(pcmBuf) >= frameSamples {
			ef, err := enc.Push(pcmBuf[:frameSamples])
			if err != nil {
				return err
			}
			pcmBuf = pcmBuf[frameSamples:]
			if err := ck.Push(ctx, ef, time.Since(sessionStart).Milliseconds()); err != nil {
				return err
			}
		}

		if !c.Schedule.withinWindow(time.Now()) {
			break
		}
	}

	if rs != nil {
		if tail := rs.Flush(); len(tail) > 0 {
			pcmBuf = append(pcmBuf, tail...)
		}
	}
	if len(pcmBuf) > 0 {
		ef, err := enc.Push(pcmBuf)
		if err == nil {
			ck.Push(ctx, ef, time.Since(sessionStart).Milliseconds())
		}
	}
	if ef, err := enc.Finish(); err == nil && len(ef.Payload) > 0 {
		ck.Push(ctx, ef, time.Since(sessionStart).Milliseconds())
	}

	return ck.Finish(ctx)
}

func (c *Controller) transition(s State) {
	c.state = s
	c.emit(nil)
}

func (c *Controller) transitionErr(s State, err error) {
	c.state = s
	slog.Warn("session state transition", "show", c.Show, "state", s.String(), "error", err)
	c.emit(err)
}

func (c *Controller) emit(err error) {
	slog.Info("session state", "show", c.Show, "state", c.state.String())
	if c.Status == nil {
		return
	}
	select {
	case c.Status <- StatusEvent{Show: c.Show, State: c.state, Err: err, Timestamp: time.Now()}:
	default:
	}
}

func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // never stop on its own; Schedule governs that
	b.Multiplier = 2.0
	b.RandomizationFactor = 1.0 // full jitter
	return b
}

func sleepUntil(ctx context.Context, t time.Time) error {
	return sleepFor(ctx, time.Until(t))
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
