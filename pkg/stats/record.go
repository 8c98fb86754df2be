package stats

import (
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/models"
)

// UnknownNamePrefix prefixes the placeholder used for admins whose display
// name was never observed.
const UnknownNamePrefix = models.UnknownNamePrefix

// AdminActivityRecord accumulates one admin's activity, either on a single
// server or merged across all servers.
type AdminActivityRecord struct {
	AdminID              string    `json:"admin_id"`
	DisplayName          string    `json:"display_name"`
	AhelpsAnswered       int       `json:"ahelps_answered"`
	Mentions             int       `json:"mentions"`
	SessionsParticipated int       `json:"sessions_participated"`
	AdminOnlyAhelps      int       `json:"admin_only_ahelps"`
	Roles                []string  `json:"roles,omitempty"`
	LastSeen             time.Time `json:"last_seen"`

	nameSeen time.Time
}

func newRecord(adminID string) *AdminActivityRecord {
	return &AdminActivityRecord{
		AdminID:     adminID,
		DisplayName: models.PlaceholderName(adminID),
	}
}

// HasRole reports whether the record carries role.
func (r *AdminActivityRecord) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// observeName keeps the most recently seen display name. Ties on time are
// broken by the larger name so that merge order never matters.
func (r *AdminActivityRecord) observeName(name string, seen time.Time) {
	if name != "" && r.prefers(name, seen) {
		r.DisplayName = name
		r.nameSeen = seen
	}
	if seen.After(r.LastSeen) {
		r.LastSeen = seen
	}
}

func (r *AdminActivityRecord) prefers(name string, seen time.Time) bool {
	switch {
	case !r.hasName():
		return true
	case seen.After(r.nameSeen):
		return true
	case seen.Equal(r.nameSeen):
		return name > r.DisplayName
	default:
		return false
	}
}

func (r *AdminActivityRecord) hasName() bool {
	return r.DisplayName != "" && r.DisplayName != models.PlaceholderName(r.AdminID)
}

func (r *AdminActivityRecord) addRoles(roles []string) {
	if len(roles) == 0 {
		return
	}
	r.Roles = models.UniqueSorted(append(append([]string(nil), r.Roles...), roles...))
}

// Merge folds other into r: counters are summed, roles unioned and the most
// recently observed display name kept.
func (r *AdminActivityRecord) Merge(other *AdminActivityRecord) {
	r.AhelpsAnswered += other.AhelpsAnswered
	r.Mentions += other.Mentions
	r.SessionsParticipated += other.SessionsParticipated
	r.AdminOnlyAhelps += other.AdminOnlyAhelps
	r.addRoles(other.Roles)

	if other.hasName() {
		r.observeName(other.DisplayName, other.nameSeen)
	}
	if other.LastSeen.After(r.LastSeen) {
		r.LastSeen = other.LastSeen
	}
}

// clone returns a deep copy of r.
func (r *AdminActivityRecord) clone() *AdminActivityRecord {
	c := *r
	c.Roles = append([]string(nil), r.Roles...)
	if len(c.Roles) == 0 {
		c.Roles = nil
	}
	return &c
}
