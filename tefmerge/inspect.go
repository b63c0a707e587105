package tefmerge

import (
	"encoding/json"
	"sort"
	"time"
)

// Event is the subset of event fields used by Inspect.
type Event struct {
	Name  string  `json:"name"`
	Cat   string  `json:"cat"`
	Phase string  `json:"ph"`
	TS    float64 `json:"ts"`
	Dur   float64 `json:"dur"`
	PID   int64   `json:"pid"`
	TID   int64   `json:"tid"`
}

// NameTotal aggregates the events with the same name.
type NameTotal struct {
	Name  string        `json:"name"`
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
}

// Report summarizes a set of events.
type Report struct {
	Events   int           `json:"events"`
	Invalid  int           `json:"invalid"`
	Threads  int           `json:"threads"`
	Span     time.Duration `json:"span"`
	Unclosed int           `json:"unclosed"`
	Names    []NameTotal   `json:"names"`
}

// Inspect decodes events and aggregates them by name, ordered by total
// duration, largest first. Complete events contribute their dur. Begin and end
// events are paired per thread, in LIFO order; begins left without an end are
// counted as unclosed. Events that aren't objects are counted as invalid.
func Inspect(events []json.RawMessage) Report {
	type threadKey struct{ pid, tid int64 }

	var (
		rep    = Report{Events: len(events)}
		totals = map[string]*NameTotal{}
		open   = map[threadKey][]Event{}
		first  = true
		lo, hi float64
	)

	add := func(name string, dur float64) {
		nt, ok := totals[name]
		if !ok {
			nt = &NameTotal{Name: name}
			totals[name] = nt
		}
		nt.Count++
		nt.Total += microseconds(dur)
	}

	for _, raw := range events {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			rep.Invalid++
			continue
		}

		end := ev.TS + ev.Dur
		if first || ev.TS < lo {
			lo = ev.TS
		}
		if first || end > hi {
			hi = end
		}
		first = false

		k := threadKey{ev.PID, ev.TID}
		switch ev.Phase {
		case "X":
			add(ev.Name, ev.Dur)
			if _, ok := open[k]; !ok {
				open[k] = nil
			}
		case "B":
			open[k] = append(open[k], ev)
		case "E":
			stack := open[k]
			if len(stack) <= 0 {
				continue
			}
			begin := stack[len(stack)-1]
			open[k] = stack[:len(stack)-1]
			add(begin.Name, ev.TS-begin.TS)
		}
	}

	rep.Threads = len(open)
	rep.Span = microseconds(hi - lo)
	for _, stack := range open {
		rep.Unclosed += len(stack)
	}

	rep.Names = make([]NameTotal, 0, len(totals))
	for _, nt := range totals {
		rep.Names = append(rep.Names, *nt)
	}
	sort.Slice(rep.Names, func(i, j int) bool {
		if rep.Names[i].Total != rep.Names[j].Total {
			return rep.Names[i].Total > rep.Names[j].Total
		}
		return rep.Names[i].Name < rep.Names[j].Name
	})

	return rep
}

func microseconds(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
