package telemetry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Op is an aggregation operation.
type Op string

// Aggregation operations.
const (
	OpAvg   Op = "avg"
	OpMin   Op = "min"
	OpMax   Op = "max"
	OpSum   Op = "sum"
	OpCount Op = "count"
)

// Granularity selects calendar-aligned bucket boundaries.
type Granularity string

// Calendar granularities. Buckets align to calendar boundaries in UTC;
// weeks start on Monday.
const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
)

// AggregateQuery describes one aggregation request.
//
// Exactly one of Granularity or Buckets should be set: Granularity
// aligns buckets to calendar boundaries, Buckets divides [From, To) into
// that many equal spans.
type AggregateQuery struct {
	DeviceID    string
	Key         string
	From        time.Time
	To          time.Time
	Op          Op
	Granularity Granularity
	Buckets     int
}

// Bucket is one aggregated time span. End is exclusive.
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// Aggregate computes bucketed aggregates over stored readings.
//
// Buckets are returned in ascending time order and spans containing no
// readings are omitted. Non-numeric readings are excluded from numeric
// operations but still counted by count; booleans coerce to 1/0 and
// numeric strings parse, so only genuinely non-numeric values drop out.
func (s *Service) Aggregate(ctx context.Context, query AggregateQuery) ([]Bucket, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	readings, err := s.repo.FindRange(ctx, query.DeviceID, query.Key, query.From, query.To)
	if err != nil {
		return nil, fmt.Errorf("loading readings for aggregation: %w", err)
	}
	if len(readings) == 0 {
		return []Bucket{}, nil
	}

	bucketOf := bucketFunc(query)

	// Readings arrive in ascending timestamp order, so buckets fill in
	// order and no sort is needed afterwards.
	var buckets []Bucket
	var acc *accumulator

	flush := func() {
		if acc == nil {
			return
		}
		if bucket, ok := acc.finish(query.Op); ok {
			buckets = append(buckets, bucket)
		}
		acc = nil
	}

	for _, reading := range readings {
		start, end := bucketOf(reading.Timestamp)
		if acc == nil || !acc.start.Equal(start) {
			flush()
			acc = &accumulator{start: start, end: end}
		}
		acc.add(reading)
	}
	flush()

	return buckets, nil
}

// validateQuery rejects malformed aggregation requests.
func validateQuery(query AggregateQuery) error {
	if query.DeviceID == "" || query.Key == "" {
		return fmt.Errorf("%w: device and key are required", ErrInvalidQuery)
	}
	if !query.To.After(query.From) {
		return fmt.Errorf("%w: time range is empty", ErrInvalidQuery)
	}

	switch query.Op {
	case OpAvg, OpMin, OpMax, OpSum, OpCount:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOp, query.Op)
	}

	if query.Buckets < 0 {
		return fmt.Errorf("%w: negative bucket count", ErrInvalidQuery)
	}
	if query.Buckets > 0 {
		if query.Granularity != "" {
			return fmt.Errorf("%w: granularity and bucket count are mutually exclusive", ErrInvalidQuery)
		}
		return nil
	}

	switch query.Granularity {
	case GranularityMinute, GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedGranularity, query.Granularity)
	}
}

// bucketFunc returns a function mapping a timestamp to its bucket span.
func bucketFunc(query AggregateQuery) func(time.Time) (time.Time, time.Time) {
	if query.Buckets > 0 {
		width := query.To.Sub(query.From) / time.Duration(query.Buckets)
		return func(t time.Time) (time.Time, time.Time) {
			idx := int(t.Sub(query.From) / width)
			if idx >= query.Buckets {
				idx = query.Buckets - 1
			}
			start := query.From.Add(time.Duration(idx) * width)
			end := start.Add(width)
			if idx == query.Buckets-1 {
				end = query.To
			}
			return start, end
		}
	}

	return func(t time.Time) (time.Time, time.Time) {
		start := truncateCalendar(t.UTC(), query.Granularity)
		return start, advanceCalendar(start, query.Granularity)
	}
}

// truncateCalendar floors a timestamp to its calendar boundary in UTC.
func truncateCalendar(t time.Time, g Granularity) time.Time {
	switch g {
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Monday start: Sunday is 6 days in, not -1.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// advanceCalendar returns the start of the next calendar bucket.
func advanceCalendar(start time.Time, g Granularity) time.Time {
	switch g {
	case GranularityMinute:
		return start.Add(time.Minute)
	case GranularityHour:
		return start.Add(time.Hour)
	case GranularityDay:
		return start.AddDate(0, 0, 1)
	case GranularityWeek:
		return start.AddDate(0, 0, 7)
	case GranularityMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start
	}
}

// accumulator folds the readings of one bucket.
type accumulator struct {
	start time.Time
	end   time.Time

	total   int // every reading, numeric or not
	numeric int
	sum     float64
	min     float64
	max     float64
}

// add folds one reading into the accumulator.
func (a *accumulator) add(reading Reading) {
	a.total++

	f, ok := numericValue(reading)
	if !ok {
		return
	}

	if a.numeric == 0 {
		a.min = f
		a.max = f
	} else {
		a.min = math.Min(a.min, f)
		a.max = math.Max(a.max, f)
	}
	a.numeric++
	a.sum += f
}

// finish produces the bucket for the requested operation. Buckets with no
// usable readings report ok=false and are omitted.
func (a *accumulator) finish(op Op) (Bucket, bool) {
	bucket := Bucket{Start: a.start, End: a.end, Count: a.total}

	switch op {
	case OpCount:
		bucket.Value = float64(a.total)
		return bucket, a.total > 0
	case OpAvg:
		if a.numeric == 0 {
			return Bucket{}, false
		}
		bucket.Value = a.sum / float64(a.numeric)
	case OpSum:
		if a.numeric == 0 {
			return Bucket{}, false
		}
		bucket.Value = a.sum
	case OpMin:
		if a.numeric == 0 {
			return Bucket{}, false
		}
		bucket.Value = a.min
	case OpMax:
		if a.numeric == 0 {
			return Bucket{}, false
		}
		bucket.Value = a.max
	}
	return bucket, true
}

// numericValue extracts a float64 from a reading for numeric aggregation.
// Booleans coerce to 1/0 and numeric strings parse; anything else is
// excluded.
func numericValue(reading Reading) (float64, bool) {
	switch v := reading.Value.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
