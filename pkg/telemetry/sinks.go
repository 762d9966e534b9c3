package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// JSONLinesSink writes each event as one JSON object per line. It is safe for
// concurrent use.
type JSONLinesSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	err    error
}

// NewJSONLinesSink writes events to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

// OpenJSONLinesSink appends events to the file at path. The names stdout and
// stderr select the process streams.
func OpenJSONLinesSink(path string) (*JSONLinesSink, error) {
	switch path {
	case "stdout":
		return NewJSONLinesSink(os.Stdout), nil
	case "stderr":
		return NewJSONLinesSink(os.Stderr), nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	s := NewJSONLinesSink(f)
	s.closer = f
	return s, nil
}

// Write encodes event. It has the EventSubscriber signature. The first write
// error is kept and returned by Close.
func (s *JSONLinesSink) Write(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil && s.err == nil {
		s.err = fmt.Errorf("failed to write event %s: %w", event.Type, err)
	}
}

// Close closes the underlying file, if the sink opened one.
func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil && s.err == nil {
			s.err = err
		}
		s.closer = nil
	}
	return s.err
}

// LogSubscriber mirrors events into logger at the event's level.
func LogSubscriber(logger zerolog.Logger) EventSubscriber {
	return func(event Event) {
		var e *zerolog.Event
		switch event.Level {
		case EventLevelError:
			e = logger.Error()
		case EventLevelWarning:
			e = logger.Warn()
		default:
			e = logger.Info()
		}
		e = e.Str("event", event.Type).Str("run_id", event.RunID)
		if event.LaneID != "" {
			e = e.Str("lane_id", event.LaneID)
		}
		e.Fields(event.Data).Msg(event.Message)
	}
}
