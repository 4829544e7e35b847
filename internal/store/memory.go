package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-indicator/internal/weather"
)

var (
	// ErrNotFound is returned when no report is available for a given location.
	ErrNotFound = errors.New("no weather report for location")
)

// ReportHistory holds a time-ordered list of reports for a location.
type ReportHistory struct {
	Reports []weather.Report
}

// MemoryStore is a concurrency-safe in-memory implementation of a report store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location name, value: history
	data map[string]*ReportHistory
	// lastKey is the location of the most recently saved report.
	lastKey string

	// retention configuration
	maxHistory int           // max number of reports per location
	maxAge     time.Duration // optional max age for reports

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*ReportHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveReport appends a new report for its location and enforces retention.
func (s *MemoryStore) SaveReport(report weather.Report) {
	key := report.Location

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &ReportHistory{}
		s.data[key] = history
	}

	history.Reports = append(history.Reports, report)
	s.lastKey = key

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Reports) > s.maxHistory {
		over := len(history.Reports) - s.maxHistory
		history.Reports = history.Reports[over:]
	}

	// Enforce retention by age; the newest report always survives.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Reports)-1; i++ {
			if !history.Reports[i].Timestamp.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			history.Reports = history.Reports[i:]
		}
	}
}

// GetLatest returns the most recent report for a location. An empty location
// selects the most recently reported location.
func (s *MemoryStore) GetLatest(location string) (weather.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if location == "" {
		location = s.lastKey
	}
	history, ok := s.data[location]
	if !ok || len(history.Reports) == 0 {
		return weather.Report{}, ErrNotFound
	}
	return history.Reports[len(history.Reports)-1], nil
}

// GetRange returns all reports for a location between from and to (inclusive).
func (s *MemoryStore) GetRange(location string, from, to time.Time) ([]weather.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if location == "" {
		location = s.lastKey
	}
	history, ok := s.data[location]
	if !ok || len(history.Reports) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Report
	for _, r := range history.Reports {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
