package weather

import (
	"context"
	"time"
)

// Provider fills a record from a weather data source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, rec *Record) error
}

// Reporter pushes a populated record to the device-management layer.
type Reporter interface {
	Report(ctx context.Context, rec *Record) error
}

// ModeSetter selects the LED animation from the condition text.
type ModeSetter interface {
	SetMode(text string) error
}

// Store is the contract the report history store must satisfy.
type Store interface {
	SaveReport(report Report)
	GetLatest(location string) (Report, error)
	GetRange(location string, from, to time.Time) ([]Report, error)
}
