package weather

import (
	"sync/atomic"
	"unicode/utf8"
)

// DefaultStringSize is the byte capacity of each text field, terminator slot included.
const DefaultStringSize = 64

// Field names a Record field by its path in the weather API response.
type Field string

const (
	FieldLocationName    Field = "result.location.name"
	FieldConditionText   Field = "result.now.text"
	FieldWindDescription Field = "result.now.wind_class"
	FieldTemperature     Field = "result.now.temp"
	FieldHumidity        Field = "result.now.rh"
)

// BoundedText is a text slot with a fixed byte capacity. Stored values keep one byte
// of the capacity free, so at most capacity-1 bytes are ever held.
type BoundedText struct {
	capacity int
	value    string
}

func newBoundedText(capacity int) *BoundedText {
	return &BoundedText{capacity: capacity}
}

// Set stores s, truncated to capacity-1 bytes on a rune boundary.
func (b *BoundedText) Set(s string) {
	if b == nil {
		return
	}
	b.value = truncate(s, b.capacity-1)
}

func (b *BoundedText) String() string {
	if b == nil {
		return ""
	}
	return b.value
}

// Cap returns the slot capacity in bytes.
func (b *BoundedText) Cap() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Record is the structured result of one fetch-and-parse cycle.
type Record struct {
	LocationName    *BoundedText
	ConditionText   *BoundedText
	WindDescription *BoundedText
	Temperature     float64
	Humidity        int

	missing  []Field
	released bool
}

// Missing lists fields the extractor could not find in the response.
func (r *Record) Missing() []Field {
	return r.missing
}

func (r *Record) markMissing(f Field) {
	r.missing = append(r.missing, f)
}

// Snapshot copies the record into a plain value that outlives the record.
func (r *Record) Snapshot() Report {
	return Report{
		Location:    r.LocationName.String(),
		Condition:   r.ConditionText.String(),
		Wind:        r.WindDescription.String(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}
}

// RecordPool allocates and releases records and tracks how many are outstanding.
// Every Acquire returns a fresh record, so a stale Release of an earlier record
// can never affect one that is still in use.
type RecordPool struct {
	stringSize  int
	outstanding atomic.Int64
}

// NewRecordPool returns a pool whose records have text fields of stringSize bytes.
func NewRecordPool(stringSize int) *RecordPool {
	if stringSize < 2 {
		stringSize = DefaultStringSize
	}
	return &RecordPool{stringSize: stringSize}
}

// Acquire returns an empty record with all three text slots allocated.
func (p *RecordPool) Acquire() *Record {
	r := &Record{
		LocationName:    newBoundedText(p.stringSize),
		ConditionText:   newBoundedText(p.stringSize),
		WindDescription: newBoundedText(p.stringSize),
	}
	p.outstanding.Add(1)
	return r
}

// Release frees the record. It accepts nil, records with unset text slots, and
// records that were already released.
func (p *RecordPool) Release(r *Record) {
	if r == nil || r.released {
		return
	}
	r.LocationName = nil
	r.ConditionText = nil
	r.WindDescription = nil
	r.missing = nil
	r.released = true
	p.outstanding.Add(-1)
}

// Outstanding returns the number of acquired records not yet released.
func (p *RecordPool) Outstanding() int64 {
	return p.outstanding.Load()
}
