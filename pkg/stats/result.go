package stats

import (
	"sort"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/reactions"
)

// Totals are the raw counts of one server or of the whole run.
type Totals struct {
	Sessions int `json:"sessions"`
	Answered int `json:"answered"`
	Messages int `json:"messages"`
	Mentions int `json:"mentions"`
}

func (t *Totals) add(other Totals) {
	t.Sessions += other.Sessions
	t.Answered += other.Answered
	t.Messages += other.Messages
	t.Mentions += other.Mentions
}

// Unanswered returns the number of sessions nobody responded to.
func (t Totals) Unanswered() int {
	return t.Sessions - t.Answered
}

// ServerStatistics holds the admins of one server, most active first.
type ServerStatistics struct {
	ServerID string                 `json:"server_id"`
	Totals   Totals                 `json:"totals"`
	Admins   []*AdminActivityRecord `json:"admins"`
}

// Admin returns the record for adminID, or nil.
func (s *ServerStatistics) Admin(adminID string) *AdminActivityRecord {
	for _, rec := range s.Admins {
		if rec.AdminID == adminID {
			return rec
		}
	}
	return nil
}

// GlobalAdmin is an admin merged across every server.
type GlobalAdmin struct {
	AdminActivityRecord
	PerServer map[string]int `json:"per_server"`
}

// RoleSummary totals the activity of every admin holding a role.
type RoleSummary struct {
	Role           string `json:"role"`
	Admins         int    `json:"admins"`
	AhelpsAnswered int    `json:"ahelps_answered"`
	Mentions       int    `json:"mentions"`
}

// BucketRow is one flattened daily or hourly bucket.
type BucketRow struct {
	Period   time.Time `json:"period"`
	ServerID string    `json:"server_id"`
	AdminID  string    `json:"admin_id,omitempty"`
	Bucket
}

// Statistics is the final, deterministically ordered result of a run.
type Statistics struct {
	Servers      []ServerStatistics      `json:"servers"`
	Global       []GlobalAdmin           `json:"global"`
	RolesSummary []RoleSummary           `json:"roles_summary"`
	Daily        []BucketRow             `json:"daily"`
	Hourly       []BucketRow             `json:"hourly"`
	Reactions    []reactions.ServerTally `json:"reactions"`
	Totals       Totals                  `json:"totals"`
	Diagnostics  diagnostics.Summary     `json:"diagnostics"`
}

// Server returns the statistics of serverID, or nil.
func (s *Statistics) Server(serverID string) *ServerStatistics {
	for i := range s.Servers {
		if s.Servers[i].ServerID == serverID {
			return &s.Servers[i]
		}
	}
	return nil
}

// Admin returns the global record of adminID, or nil.
func (s *Statistics) Admin(adminID string) *GlobalAdmin {
	for i := range s.Global {
		if s.Global[i].AdminID == adminID {
			return &s.Global[i]
		}
	}
	return nil
}

// ServerIDs lists the servers present in the result, sorted.
func (s *Statistics) ServerIDs() []string {
	ids := make([]string, 0, len(s.Servers))
	for _, srv := range s.Servers {
		ids = append(ids, srv.ServerID)
	}
	return ids
}

// DailyFor returns the server-level daily rows of serverID, or the global
// rows when serverID is Global.
func (s *Statistics) DailyFor(serverID string) []BucketRow {
	return filterRows(s.Daily, serverID, false)
}

// DailyAdminsFor returns the per-admin daily rows of serverID.
func (s *Statistics) DailyAdminsFor(serverID string) []BucketRow {
	return filterRows(s.Daily, serverID, true)
}

// HourlyFor returns the hourly rows of serverID, or the global rows.
func (s *Statistics) HourlyFor(serverID string) []BucketRow {
	return filterRows(s.Hourly, serverID, false)
}

func filterRows(rows []BucketRow, serverID string, perAdmin bool) []BucketRow {
	var out []BucketRow
	for _, row := range rows {
		if row.ServerID != serverID || (row.AdminID != "") != perAdmin {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Result builds the ordered statistics from the accumulated state. The
// accumulator is left untouched.
func (a *Accumulator) Result() *Statistics {
	result := &Statistics{}
	global := make(map[string]*GlobalAdmin)

	for serverID, srv := range a.servers {
		ss := ServerStatistics{
			ServerID: serverID,
			Totals:   srv.totals,
			Admins:   make([]*AdminActivityRecord, 0, len(srv.admins)),
		}
		result.Totals.add(srv.totals)

		for adminID, rec := range srv.admins {
			ss.Admins = append(ss.Admins, rec.clone())

			g, ok := global[adminID]
			if !ok {
				g = &GlobalAdmin{
					AdminActivityRecord: *newRecord(adminID),
					PerServer:           make(map[string]int),
				}
				global[adminID] = g
			}
			g.Merge(rec)
			g.PerServer[serverID] += rec.AhelpsAnswered
		}
		sortRecords(ss.Admins)
		result.Servers = append(result.Servers, ss)
	}

	sort.Slice(result.Servers, func(i, j int) bool {
		return result.Servers[i].ServerID < result.Servers[j].ServerID
	})

	for _, g := range global {
		result.Global = append(result.Global, *g)
	}
	sort.Slice(result.Global, func(i, j int) bool {
		return lessRecord(&result.Global[i].AdminActivityRecord, &result.Global[j].AdminActivityRecord)
	})

	result.RolesSummary = summarizeRoles(result.Global)
	result.Daily = flattenBuckets(a.daily)
	result.Hourly = flattenBuckets(a.hourly)
	result.Reactions = a.reactions.Tally(func(userID string) string {
		if g, ok := global[userID]; ok && g.hasName() {
			return g.DisplayName
		}
		return ""
	})
	result.Diagnostics.Merge(a.diag)

	return result
}

func lessRecord(a, b *AdminActivityRecord) bool {
	if a.AhelpsAnswered != b.AhelpsAnswered {
		return a.AhelpsAnswered > b.AhelpsAnswered
	}
	return a.AdminID < b.AdminID
}

func sortRecords(recs []*AdminActivityRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return lessRecord(recs[i], recs[j])
	})
}

func summarizeRoles(admins []GlobalAdmin) []RoleSummary {
	byRole := make(map[string]*RoleSummary)
	for i := range admins {
		for _, role := range admins[i].Roles {
			rs, ok := byRole[role]
			if !ok {
				rs = &RoleSummary{Role: role}
				byRole[role] = rs
			}
			rs.Admins++
			rs.AhelpsAnswered += admins[i].AhelpsAnswered
			rs.Mentions += admins[i].Mentions
		}
	}

	out := make([]RoleSummary, 0, len(byRole))
	for _, rs := range byRole {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AhelpsAnswered != out[j].AhelpsAnswered {
			return out[i].AhelpsAnswered > out[j].AhelpsAnswered
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// flattenBuckets turns a bucket map into rows and adds the global rows
// summed over every server.
func flattenBuckets(m map[BucketKey]*Bucket) []BucketRow {
	global := make(map[BucketKey]Bucket)
	rows := make([]BucketRow, 0, len(m))

	for key, b := range m {
		rows = append(rows, BucketRow{Period: key.Period, ServerID: key.ServerID, AdminID: key.AdminID, Bucket: *b})

		gk := BucketKey{Period: key.Period, ServerID: Global, AdminID: key.AdminID}
		g := global[gk]
		g.TotalRequests += b.TotalRequests
		g.AnsweredRequests += b.AnsweredRequests
		global[gk] = g
	}

	for key, b := range global {
		rows = append(rows, BucketRow{Period: key.Period, ServerID: key.ServerID, AdminID: key.AdminID, Bucket: b})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Period.Equal(b.Period) {
			return a.Period.Before(b.Period)
		}
		if a.ServerID != b.ServerID {
			return a.ServerID < b.ServerID
		}
		return a.AdminID < b.AdminID
	})
	return rows
}
