package stats

import (
	"sync"
	"time"
)

// DefaultCapacity bounds each sample ring when no capacity is configured.
const DefaultCapacity = 1000

// DelayedThreshold is the reply latency above which a command sample is
// marked Delayed. Cloud round trips normally finish well under a second.
const DelayedThreshold = 2 * time.Second

// HTTPSample records one cloud API call.
type HTTPSample struct {
	URL        string
	Method     string
	HTTPStatus int
	APIStatus  int
	Latency    time.Duration
	At         time.Time
}

// MQTTSample records one device command sent through the broker or LAN.
// Dropped marks requests that never received a reply; Delayed marks replies
// that arrived but took longer than the recorder's delay threshold.
type MQTTSample struct {
	Namespace string
	Method    string
	Latency   time.Duration
	Delayed   bool
	Dropped   bool
	At        time.Time
}

// HTTPReport aggregates HTTP samples inside a window.
type HTTPReport struct {
	Total        int
	ByHTTPStatus map[int]int
	ByAPIStatus  map[int]int
	ByURL        map[string]int
	AvgLatency   time.Duration
}

// MQTTReport aggregates MQTT samples inside a window.
type MQTTReport struct {
	Total       int
	ByNamespace map[string]int
	ByMethod    map[string]int
	Delayed     int
	Dropped     int
	AvgLatency  time.Duration
}

// ring is a fixed-capacity overwrite-oldest buffer. Methods are not
// goroutine safe; the Recorder serializes access.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) add(v T) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring[T]) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// newestFirst visits samples from newest to oldest until fn returns false.
func (r *ring[T]) newestFirst(fn func(T) bool) {
	n := r.len()
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		if !fn(r.buf[idx]) {
			return
		}
	}
}

// Recorder holds both rings. The zero value is unusable; use New or
// Disabled.
type Recorder struct {
	mu      sync.Mutex
	http    ring[HTTPSample]
	mqtt    ring[MQTTSample]
	enabled bool
}

// New returns an enabled recorder. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		http:    newRing[HTTPSample](capacity),
		mqtt:    newRing[MQTTSample](capacity),
		enabled: true,
	}
}

// Disabled returns a recorder whose Record methods are no-ops.
func Disabled() *Recorder {
	return &Recorder{
		http: newRing[HTTPSample](1),
		mqtt: newRing[MQTTSample](1),
	}
}

// Enabled reports whether samples are being kept.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// RecordHTTP stores one HTTP sample. A zero At is stamped with now.
func (r *Recorder) RecordHTTP(s HTTPSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	if s.At.IsZero() {
		s.At = time.Now()
	}
	r.http.add(s)
}

// RecordMQTT stores one MQTT sample. A zero At is stamped with now.
func (r *Recorder) RecordMQTT(s MQTTSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	if s.At.IsZero() {
		s.At = time.Now()
	}
	r.mqtt.add(s)
}

// HTTPWindow aggregates the HTTP samples recorded within the trailing
// window. The walk stops at the first sample older than the window, so cost
// tracks the window, not the ring capacity.
func (r *Recorder) HTTPWindow(window time.Duration) HTTPReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := HTTPReport{
		ByHTTPStatus: make(map[int]int),
		ByAPIStatus:  make(map[int]int),
		ByURL:        make(map[string]int),
	}

	cutoff := time.Now().Add(-window)
	var totalLatency time.Duration
	r.http.newestFirst(func(s HTTPSample) bool {
		if s.At.Before(cutoff) {
			return false
		}
		report.Total++
		report.ByHTTPStatus[s.HTTPStatus]++
		report.ByAPIStatus[s.APIStatus]++
		report.ByURL[s.URL]++
		totalLatency += s.Latency
		return true
	})

	if report.Total > 0 {
		report.AvgLatency = totalLatency / time.Duration(report.Total)
	}
	return report
}

// MQTTWindow aggregates the MQTT samples recorded within the trailing
// window.
func (r *Recorder) MQTTWindow(window time.Duration) MQTTReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := MQTTReport{
		ByNamespace: make(map[string]int),
		ByMethod:    make(map[string]int),
	}

	cutoff := time.Now().Add(-window)
	var totalLatency time.Duration
	var answered int
	r.mqtt.newestFirst(func(s MQTTSample) bool {
		if s.At.Before(cutoff) {
			return false
		}
		report.Total++
		report.ByNamespace[s.Namespace]++
		report.ByMethod[s.Method]++
		if s.Delayed {
			report.Delayed++
		}
		if s.Dropped {
			report.Dropped++
		} else {
			totalLatency += s.Latency
			answered++
		}
		return true
	})

	if answered > 0 {
		report.AvgLatency = totalLatency / time.Duration(answered)
	}
	return report
}
