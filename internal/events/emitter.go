package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hookbook/internal/model"
)

// Emitter is a one-way observability sink. Emitted events are never read
// back by the engine.
type Emitter interface {
	Emit(name string, payload interface{})
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(string, interface{}) {}

// LogEmitter writes events to a zap logger.
type LogEmitter struct {
	logger *zap.Logger
	seq    atomic.Uint64
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(name string, payload interface{}) {
	e.logger.Info("event",
		zap.Uint64("sequence", e.seq.Add(1)),
		zap.String("name", name),
		zap.Any("payload", payload),
	)
}

// RecordSink receives fully built event records, typically a JSONL file.
type RecordSink interface {
	PutEventBatch(records []model.EventRecord) error
}

// SinkEmitter buffers events and flushes them to a record sink.
type SinkEmitter struct {
	sink   RecordSink
	logger *zap.Logger

	mu  sync.Mutex
	buf []model.EventRecord
	seq uint64
}

func NewSinkEmitter(sink RecordSink, logger *zap.Logger) *SinkEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SinkEmitter{sink: sink, logger: logger}
}

func (e *SinkEmitter) Emit(name string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.buf = append(e.buf, model.EventRecord{
		Sequence:  e.seq,
		Name:      name,
		Timestamp: time.Now().UTC().Unix(),
		Payload:   payload,
	})
}

// Flush writes buffered events to the sink. Emission is fire-and-forget, so
// a sink failure is logged rather than surfaced to the mutating call.
func (e *SinkEmitter) Flush() {
	e.mu.Lock()
	pending := e.buf
	e.buf = nil
	e.mu.Unlock()

	if len(pending) == 0 || e.sink == nil {
		return
	}
	if err := e.sink.PutEventBatch(pending); err != nil {
		e.logger.Warn("flush events", zap.Error(err), zap.Int("count", len(pending)))
	}
}

// MultiEmitter fans events out to several emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(name string, payload interface{}) {
	for _, e := range m {
		if e != nil {
			e.Emit(name, payload)
		}
	}
}
