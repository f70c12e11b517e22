package storage

import (
	"context"
	"time"

	"breakd/internal/event"
)

type Storage interface {
	Init(ctx context.Context) error
	SaveRecord(ctx context.Context, r event.Record) (int64, error)
	GetRecords(ctx context.Context, start, end time.Time, types ...event.RecordType) ([]event.Record, error)
	Close() error
}
