// Package geofence evaluates taker locations against an allowed area.
package geofence

import (
	"math"

	"quiz-attempt-service/internal/domain"
)

const (
	earthRadiusMeters = 6371000

	// hardViolationFactor is the grace multiplier: readings inside
	// radius*factor can still self-heal, beyond it the violation is final.
	hardViolationFactor = 1.5
)

// DistanceMeters computes the haversine great-circle distance between two
// coordinates.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// IsWithinAllowedArea reports whether the reading falls inside the policy
// radius.
func IsWithinAllowedArea(loc domain.Location, policy domain.GeofencePolicy) bool {
	return DistanceMeters(loc.Latitude, loc.Longitude, policy.Latitude, policy.Longitude) <= policy.RadiusMeters
}

// IsHardViolation reports whether the reading is beyond the grace threshold
// and therefore non-continuable.
func IsHardViolation(loc domain.Location, policy domain.GeofencePolicy) bool {
	return DistanceMeters(loc.Latitude, loc.Longitude, policy.Latitude, policy.Longitude) > policy.RadiusMeters*hardViolationFactor
}

// CheckInitial gates entry into the active state. Returns an
// OutOfBoundsError naming the required radius when the taker starts outside
// the allowed area.
func CheckInitial(loc domain.Location, policy domain.GeofencePolicy) error {
	distance := DistanceMeters(loc.Latitude, loc.Longitude, policy.Latitude, policy.Longitude)
	if distance <= policy.RadiusMeters {
		return nil
	}
	return &domain.OutOfBoundsError{DistanceMeters: distance, RadiusMeters: policy.RadiusMeters}
}

// Transition classifies a location update relative to the previous reading,
// so callers emit exactly one notification per boundary crossing.
type Transition int

const (
	// Unchanged: same side of the boundary as the previous reading.
	Unchanged Transition = iota
	// Entered: first reading outside the allowed area (false -> true).
	Entered
	// Resolved: back inside after a violation (true -> false).
	Resolved
	// Hard: beyond the grace threshold; the violation cannot self-heal.
	Hard
)

// Tracker carries the hysteresis state for ongoing checks during an attempt.
type Tracker struct {
	policy      domain.GeofencePolicy
	inViolation bool
}

func NewTracker(policy domain.GeofencePolicy) *Tracker {
	return &Tracker{policy: policy}
}

// Observe folds a reading into the tracker and returns the transition it
// caused. Hard violations are reported even when the previous reading was
// already in violation.
func (t *Tracker) Observe(loc domain.Location) Transition {
	if IsHardViolation(loc, t.policy) {
		t.inViolation = true
		return Hard
	}
	outside := !IsWithinAllowedArea(loc, t.policy)
	switch {
	case outside && !t.inViolation:
		t.inViolation = true
		return Entered
	case !outside && t.inViolation:
		t.inViolation = false
		return Resolved
	default:
		return Unchanged
	}
}

// InViolation reports whether the latest reading left the tracker in a
// violation.
func (t *Tracker) InViolation() bool {
	return t.inViolation
}
