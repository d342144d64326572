package storage

import "hookbook/internal/model"

// EventSink is a destination for emitted event records.
type EventSink interface {
	PutEventBatch(events []model.EventRecord) error
}

// ResultSink is a destination for task journal rows.
type ResultSink interface {
	PutResultBatch(results []model.TaskResult) error
}
