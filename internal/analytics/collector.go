// Package analytics records search activity: an in-process aggregator that
// backs the analytics endpoint, plus optional export to Kafka through the
// collector subpackage.
package analytics

// Tracker receives search events. Implementations must not block.
type Tracker interface {
	Track(ev SearchEvent)
}

type multi []Tracker

// Multi fans events out to every non-nil tracker.
func Multi(trackers ...Tracker) Tracker {
	var m multi
	for _, t := range trackers {
		if t != nil {
			m = append(m, t)
		}
	}
	return m
}

func (m multi) Track(ev SearchEvent) {
	for _, t := range m {
		t.Track(ev)
	}
}
