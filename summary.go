package tef

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// TaskStats aggregates every recorded instance of a task.
type TaskStats struct {
	Name  string        `json:"name"` // domain::name
	Count uint64        `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Average duration of the task.
func (ts TaskStats) Average() time.Duration {
	if ts.Count <= 0 {
		return 0
	}
	return ts.Total / time.Duration(ts.Count)
}

type taskKey struct {
	domain Domain
	name   Name
}

type taskAgg struct {
	match bool
	stats TaskStats
}

// Summary aggregates task durations by domain and name. Unlike the rest of
// the recording path, observations take a mutex, so it's only enabled on
// request.
type Summary struct {
	mtx    sync.Mutex
	in     *Interner
	prefix string
	tasks  map[taskKey]*taskAgg
}

func newSummary(in *Interner, prefix string) *Summary {
	return &Summary{
		in:     in,
		prefix: prefix,
		tasks:  map[taskKey]*taskAgg{},
	}
}

func (s *Summary) observe(d Domain, n Name, took time.Duration) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	k := taskKey{d, n}
	agg, ok := s.tasks[k]
	if !ok {
		name := s.in.DomainText(d) + "::" + s.in.NameText(n)
		agg = &taskAgg{
			match: strings.HasPrefix(name, s.prefix),
			stats: TaskStats{Name: name, Min: took, Max: took},
		}
		s.tasks[k] = agg
	}

	if !agg.match {
		return
	}

	agg.stats.Count++
	agg.stats.Total += took
	if took < agg.stats.Min {
		agg.stats.Min = took
	}
	if took > agg.stats.Max {
		agg.stats.Max = took
	}
}

// Stats returns the statistics of every summarized task, ordered by total
// duration and then call count, largest first.
func (s *Summary) Stats() []TaskStats {
	if s == nil {
		return nil
	}

	s.mtx.Lock()
	res := make([]TaskStats, 0, len(s.tasks))
	for _, agg := range s.tasks {
		if agg.match && agg.stats.Count > 0 {
			res = append(res, agg.stats)
		}
	}
	s.mtx.Unlock()

	sort.Slice(res, func(i, j int) bool {
		switch {
		case res[i].Total != res[j].Total:
			return res[i].Total > res[j].Total
		case res[i].Count != res[j].Count:
			return res[i].Count > res[j].Count
		default:
			return res[i].Name < res[j].Name
		}
	})

	return res
}

// WriteReport writes a table of the task statistics to w, with durations in
// nanoseconds. Nothing is written if no time was recorded.
func (s *Summary) WriteReport(w io.Writer) error {
	stats := s.Stats()

	var total time.Duration
	width := len("Function")
	for _, ts := range stats {
		total += ts.Total
		width = max(width, len(ts.Name))
	}
	if total <= 0 {
		return nil
	}

	const (
		callsWidth   = 12
		timeWidth    = 20
		percentWidth = 12
	)

	var sb strings.Builder
	sb.WriteString(strings.Repeat("*", 60) + "\n")
	sb.WriteString("* Task Summary Report\n")
	sb.WriteString(strings.Repeat("*", 60) + "\n")
	fmt.Fprintf(&sb, "%*s, %*s, %*s, %*s, %*s, %*s, %*s\n",
		width, "Function",
		callsWidth, "Calls",
		timeWidth, "Time (ns)",
		percentWidth, "Time (%)",
		timeWidth, "Average (ns)",
		timeWidth, "Min (ns)",
		timeWidth, "Max (ns)",
	)
	for _, ts := range stats {
		fmt.Fprintf(&sb, "%*s, %*d, %*d, %*.2f, %*d, %*d, %*d\n",
			width, ts.Name,
			callsWidth, ts.Count,
			timeWidth, ts.Total.Nanoseconds(),
			percentWidth, 100*float64(ts.Total)/float64(total),
			timeWidth, ts.Average().Nanoseconds(),
			timeWidth, ts.Min.Nanoseconds(),
			timeWidth, ts.Max.Nanoseconds(),
		)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
