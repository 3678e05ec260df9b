package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type OperationType int

const (
	// WriteOperation is a chat message measured until the server echo.
	WriteOperation OperationType = iota
	// ReadOperation is a conversation open measured until its first page.
	ReadOperation
)

func (o OperationType) String() string {
	if o == WriteOperation {
		return "send-to-echo"
	}
	return "history"
}

// series holds the samples of one operation type.
type series struct {
	failed    int64
	latencies []time.Duration
}

func (s *series) summary() seriesSummary {
	out := seriesSummary{Succeeded: int64(len(s.latencies)), Failed: s.failed}
	if len(s.latencies) == 0 {
		return out
	}

	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	out.Min, out.Max = sorted[0], sorted[len(sorted)-1]
	out.Avg = total / time.Duration(len(sorted))
	out.P99 = sorted[min(len(sorted)-1, int(float64(len(sorted))*0.99))]
	return out
}

type seriesSummary struct {
	Succeeded, Failed  int64
	Min, Max, Avg, P99 time.Duration
}

// Stats collects samples from every simulated user.
type Stats struct {
	mu        sync.Mutex
	ops       map[OperationType]*series
	delivered int64
}

func NewStats() *Stats {
	return &Stats{ops: map[OperationType]*series{
		WriteOperation: {},
		ReadOperation:  {},
	}}
}

func (s *Stats) Success(op OperationType, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op].latencies = append(s.ops[op].latencies, latency)
}

func (s *Stats) Failure(op OperationType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op].failed++
}

// Delivered counts a message pushed to someone other than its sender.
func (s *Stats) Delivered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered++
}

// Report is a snapshot of the run.
type Report struct {
	Elapsed   time.Duration
	Ops       map[OperationType]seriesSummary
	Total     int64
	Failed    int64
	Delivered int64
	Lost      int
}

func (s *Stats) Report(elapsed time.Duration, lost int) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{
		Elapsed:   elapsed,
		Ops:       make(map[OperationType]seriesSummary, len(s.ops)),
		Delivered: s.delivered,
		Lost:      lost,
	}
	for op, ser := range s.ops {
		sum := ser.summary()
		r.Ops[op] = sum
		r.Total += sum.Succeeded + sum.Failed
		r.Failed += sum.Failed
	}
	return r
}

func (r Report) PerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Total) / r.Elapsed.Seconds()
}

func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "\nLoad Test Results:")
	fmt.Fprintf(w, "Total Operations: %d (%d failed)\n", r.Total, r.Failed)
	fmt.Fprintf(w, "Operations per Second: %.2f\n", r.PerSecond())
	fmt.Fprintf(w, "Messages Without Echo: %d\n", r.Lost)
	fmt.Fprintf(w, "Messages Delivered To Peers: %d\n", r.Delivered)
	for _, op := range []OperationType{WriteOperation, ReadOperation} {
		s := r.Ops[op]
		fmt.Fprintf(w, "%s: ok=%d failed=%d min=%v avg=%v max=%v p99=%v\n",
			op, s.Succeeded, s.Failed, s.Min, s.Avg, s.Max, s.P99)
	}
	fmt.Fprintf(w, "Total Duration: %v\n", r.Elapsed)
}
