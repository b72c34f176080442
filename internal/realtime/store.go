// Package realtime keeps the service alerts of a GTFS-realtime feed in
// memory so route and stop views can show them.
package realtime

import (
	"slices"
	"sync"
	"time"
)

// Period is a window in which an alert applies. Zero ends are open.
type Period struct {
	Start time.Time
	End   time.Time
}

// Alert represents a parsed service alert.
type Alert struct {
	ID         string   `json:"id"`
	HeaderText string   `json:"header"`
	DescText   string   `json:"description,omitempty"`
	RouteIDs   []string `json:"routeIds,omitempty"`
	StopIDs    []string `json:"stopIds,omitempty"`
	Effect     string   `json:"effect"` // "NO_SERVICE", "REDUCED_SERVICE", "DETOUR", etc.
	Cause      string   `json:"cause"`
	Periods    []Period `json:"-"`
}

// ActiveAt reports whether the alert applies at t. An alert without
// periods is always active.
func (a Alert) ActiveAt(t time.Time) bool {
	if len(a.Periods) == 0 {
		return true
	}
	for _, p := range a.Periods {
		if (p.Start.IsZero() || !t.Before(p.Start)) && (p.End.IsZero() || t.Before(p.End)) {
			return true
		}
	}
	return false
}

// EffectLabel returns a human-readable effect description.
func (a Alert) EffectLabel() string {
	switch a.Effect {
	case "NO_SERVICE":
		return "No service"
	case "REDUCED_SERVICE":
		return "Reduced service"
	case "SIGNIFICANT_DELAYS":
		return "Significant delays"
	case "DETOUR":
		return "Detour"
	case "ADDITIONAL_SERVICE":
		return "Additional service"
	case "MODIFIED_SERVICE":
		return "Modified service"
	case "STOP_MOVED":
		return "Stop moved"
	default:
		return "Alert"
	}
}

// Store holds alerts in a thread-safe manner.
type Store struct {
	mu      sync.RWMutex
	alerts  []Alert
	updated time.Time
	now     func() time.Time
}

// NewStore creates an empty alert store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// SetAlerts replaces all alerts.
func (s *Store) SetAlerts(alerts []Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = alerts
	s.updated = s.now()
}

// Updated returns when alerts were last replaced.
func (s *Store) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// AlertsForRoute returns the currently active alerts affecting a route.
func (s *Store) AlertsForRoute(routeID string) []Alert {
	return s.match(func(a Alert) bool { return slices.Contains(a.RouteIDs, routeID) })
}

// AlertsForStop returns the currently active alerts affecting a stop.
func (s *Store) AlertsForStop(stopID string) []Alert {
	return s.match(func(a Alert) bool { return slices.Contains(a.StopIDs, stopID) })
}

// Len returns the number of alerts held, active or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

func (s *Store) match(keep func(Alert) bool) []Alert {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var result []Alert
	for _, a := range s.alerts {
		if keep(a) && a.ActiveAt(now) {
			result = append(result, a)
		}
	}
	return result
}
