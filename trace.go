package brickflow

import (
	"context"
	"sync"
	"time"
)

// TraceRecord describes one step execution.
type TraceRecord struct {
	RunID      string           `json:"runId"`
	InstanceID string           `json:"instanceId"`
	BrickID    string           `json:"brickId"`
	Label      string           `json:"label,omitempty"`
	Version    Version          `json:"version"`
	Args       map[string]any   `json:"args,omitempty"`
	Output     any              `json:"output,omitempty"`
	Error      *SerializedError `json:"error,omitempty"`
	Skipped    bool             `json:"skipped,omitempty"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
}

// Duration returns how long the step took.
func (r TraceRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// TraceSink receives a record for every step, including skipped ones.
// Sink failures are logged and never fail the pipeline.
type TraceSink interface {
	Record(ctx context.Context, rec TraceRecord) error
}

// TraceSinkFunc adapts a function to the TraceSink interface.
type TraceSinkFunc func(ctx context.Context, rec TraceRecord) error

// Record calls f(ctx, rec).
func (f TraceSinkFunc) Record(ctx context.Context, rec TraceRecord) error {
	return f(ctx, rec)
}

// MemoryTraceSink keeps records in memory.
type MemoryTraceSink struct {
	mu      sync.Mutex
	records []TraceRecord
}

// NewMemoryTraceSink creates an empty sink.
func NewMemoryTraceSink() *MemoryTraceSink {
	return &MemoryTraceSink{}
}

// Record implements TraceSink.
func (s *MemoryTraceSink) Record(_ context.Context, rec TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the collected records.
func (s *MemoryTraceSink) Records() []TraceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Reset drops all records.
func (s *MemoryTraceSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// multiSink fans a record out to several sinks.
type multiSink []TraceSink

func (m multiSink) Record(ctx context.Context, rec TraceRecord) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
