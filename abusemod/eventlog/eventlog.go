// Package eventlog maintains the capped rolling log of recorded abuse events
// in the shared store, and answers the reporting queries over it.
package eventlog

import (
	"context"
	"sort"
	"time"

	"github.com/magickw/linkdao-guard/abusemod/event"
)

// Reporting output for the moderation dashboard.
type Stats struct {
	TotalEvents     int                `json:"total_events"`
	EventsByPattern map[string]int     `json:"events_by_pattern"`
	TopSubjects     []SubjectCount     `json:"top_subjects"`
	RecentEvents    []event.AbuseEvent `json:"recent_events"`
}

type SubjectCount struct {
	Subject event.Subject `json:"subject"`
	Count   int           `json:"count"`
	// timestamp of the subject's most recent event, used for tie-breaking
	Last time.Time `json:"last"`
}

type EventLog interface {
	// Append records the event, trimming the log to its cap. Returns the
	// event id.
	Append(ctx context.Context, ev event.AbuseEvent) (string, error)
	// Stats aggregates over the retained window.
	Stats(ctx context.Context, topN, recentM int) (*Stats, error)
	// Resolve flips the event's resolved flag false to true. Returns false
	// if the event is unknown or already resolved.
	Resolve(ctx context.Context, id string) (bool, error)
}

// computeStats aggregates a reverse-chronological event slice.
func computeStats(events []event.AbuseEvent, topN, recentM int) *Stats {
	byPattern := make(map[string]int)
	type subjectAgg struct {
		count int
		last  time.Time
	}
	bySubject := make(map[string]subjectAgg)
	subjects := make(map[string]event.Subject)

	for _, ev := range events {
		byPattern[ev.Pattern]++
		key := ev.Subject.Key()
		agg := bySubject[key]
		agg.count++
		if ev.Time.After(agg.last) {
			agg.last = ev.Time
		}
		bySubject[key] = agg
		subjects[key] = ev.Subject
	}

	top := make([]SubjectCount, 0, len(bySubject))
	for key, agg := range bySubject {
		top = append(top, SubjectCount{Subject: subjects[key], Count: agg.count, Last: agg.last})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Last.After(top[j].Last)
	})
	if len(top) > topN {
		top = top[:topN]
	}

	recent := events
	if len(recent) > recentM {
		recent = recent[:recentM]
	}

	return &Stats{
		TotalEvents:     len(events),
		EventsByPattern: byPattern,
		TopSubjects:     top,
		RecentEvents:    recent,
	}
}
