package metrics

import (
	"maps"
	"sort"
	"sync"
	"time"
)

const latencyWindow = 1000

type Metrics struct {
	mutex        sync.RWMutex
	requests     int64
	retries      int64
	responses    map[int]int64
	attempts     map[string]int64
	successes    map[string]int64
	failureKinds map[string]map[string]int64
	latencies    map[string][]time.Duration
	startTime    time.Time
}

type Snapshot struct {
	TotalRequests int64                      `json:"total_requests"`
	Retries       int64                      `json:"retries"`
	Uptime        time.Duration              `json:"uptime"`
	Strategy      string                     `json:"strategy"`
	Responses     map[int]int64              `json:"responses"`
	Instances     map[string]InstanceMetrics `json:"instances"`
}

type InstanceMetrics struct {
	Attempts    int64            `json:"attempts"`
	Successes   int64            `json:"successes"`
	Failures    int64            `json:"failures"`
	FailedBy    map[string]int64 `json:"failed_by,omitempty"`
	AvgResponse time.Duration    `json:"avg_response"`
	P50Response time.Duration    `json:"p50_response"`
	P95Response time.Duration    `json:"p95_response"`
	P99Response time.Duration    `json:"p99_response"`
}

func (m *Metrics) IncrementRequests() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests++
}

func (m *Metrics) IncrementRetries() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.retries++
}

func (m *Metrics) RecordResponse(statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.responses[statusCode]++
}

// RecordAttempt records one forwarding attempt. kind is empty on success.
// Attempts that failed before an instance was chosen are kept under "".
func (m *Metrics) RecordAttempt(instanceID string, duration time.Duration, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.attempts[instanceID]++

	if kind == "" {
		m.successes[instanceID]++
	} else {
		if m.failureKinds[instanceID] == nil {
			m.failureKinds[instanceID] = make(map[string]int64)
		}
		m.failureKinds[instanceID][kind]++
	}

	if duration > 0 {
		m.latencies[instanceID] = append(m.latencies[instanceID], duration)
		if len(m.latencies[instanceID]) > latencyWindow {
			m.latencies[instanceID] = m.latencies[instanceID][1:]
		}
	}
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.requests,
		Retries:       m.retries,
		Uptime:        time.Since(m.startTime),
		Strategy:      strategy,
		Responses:     maps.Clone(m.responses),
		Instances:     make(map[string]InstanceMetrics, len(m.attempts)),
	}

	for id, attempts := range m.attempts {
		im := InstanceMetrics{
			Attempts:  attempts,
			Successes: m.successes[id],
			Failures:  attempts - m.successes[id],
			FailedBy:  maps.Clone(m.failureKinds[id]),
		}

		durations := m.latencies[id]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			im.AvgResponse = average(sorted)
			im.P50Response = percentile(sorted, 0.50)
			im.P95Response = percentile(sorted, 0.95)
			im.P99Response = percentile(sorted, 0.99)
		}

		snap.Instances[id] = im
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		responses:    make(map[int]int64),
		attempts:     make(map[string]int64),
		successes:    make(map[string]int64),
		failureKinds: make(map[string]map[string]int64),
		latencies:    make(map[string][]time.Duration),
		startTime:    time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
