package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rtsyork/vlab/pkg/lease"
)

// BoardStatus is one board's status line, shaped like
// web/redis_queries.py's get_board_status rows.
type BoardStatus struct {
	Serial    string `json:"serial"`
	Class     string `json:"boardclass"`
	Server    string `json:"server"`
	Port      string `json:"port"`
	Status    string `json:"status"`
	User      string `json:"user,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	LockTime  string `json:"lock_time,omitempty"`
	DurationS int64  `json:"duration_s"`
}

// handleBoards serves GET /api/boards: one row per known board, sorted
// by (class, server, port) as the original dashboard orders its table.
func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.collectBoardStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *Server) collectBoardStatus(ctx context.Context) ([]BoardStatus, error) {
	classes, err := s.leases.BoardClasses(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []BoardStatus
	for _, class := range classes {
		serials, err := s.leases.BoardsInClass(ctx, class)
		if err != nil {
			return nil, err
		}
		for _, serial := range serials {
			info, err := s.leases.Snapshot(ctx, serial, class)
			if err != nil {
				return nil, err
			}
			out = append(out, boardStatusFromInfo(info, now))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.Server != b.Server {
			return a.Server < b.Server
		}
		return a.Port < b.Port
	})
	return out, nil
}

func boardStatusFromInfo(info lease.BoardInfo, now time.Time) BoardStatus {
	bs := BoardStatus{
		Serial: info.Serial,
		Class:  info.Class,
		Server: info.Server,
		Port:   info.Port,
		Status: info.Status.String(),
	}
	if info.SessionUser != "" {
		bs.User = info.SessionUser
		bs.StartTime = info.SessionStart.Format(time.RFC3339)
		duration := now.Sub(info.SessionStart)
		if duration > 0 {
			bs.DurationS = int64(duration.Seconds())
		}
	}
	if info.LockUser != "" {
		bs.LockTime = info.LockTime.Format(time.RFC3339)
	}
	return bs
}

// ClassSummary is the per-class board tally from GET /api/stats/summary,
// extending web/redis_queries.py's get_summary with the hwtest_failed
// count spec.md §4.6 adds. Computed from the same per-board Snapshot
// projection handleBoards uses, so a board contributes to exactly one
// bucket — unlike the original's pool-cardinality arithmetic, this needs
// no min() clamp to avoid double-counting the unlocked/available overlap.
type ClassSummary struct {
	Total         int `json:"total"`
	Available     int `json:"available"`
	InUse         int `json:"in_use"`
	InUseLocked   int `json:"in_use_locked"`
	InUseUnlocked int `json:"in_use_unlocked"`
	HWTestFailed  int `json:"hwtest_failed"`
}

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	classes, err := s.leases.BoardClasses(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	summary := make(map[string]ClassSummary, len(classes))
	for _, class := range classes {
		serials, err := s.leases.BoardsInClass(ctx, class)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		var cs ClassSummary
		for _, serial := range serials {
			info, err := s.leases.Snapshot(ctx, serial, class)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			cs.Total++
			switch info.Status {
			case lease.StatusAvailable:
				cs.Available++
			case lease.StatusInUseLocked:
				cs.InUseLocked++
				cs.InUse++
			case lease.StatusInUseUnlocked:
				cs.InUseUnlocked++
				cs.InUse++
			case lease.StatusHWTestFailed:
				cs.HWTestFailed++
			}
		}
		summary[class] = cs
	}
	writeJSON(w, http.StatusOK, summary)
}

// HourlyBucket is one hour's LOCK-event count from GET /api/stats/hourly.
type HourlyBucket struct {
	Hour  string `json:"hour"`
	Locks int    `json:"locks"`
}

// hourlyWindow bounds GET /api/stats/hourly to the trailing week, as
// web/logparser.py's dashboard chart does.
const hourlyWindow = 7 * 24 * time.Hour

func (s *Server) handleStatsHourly(w http.ResponseWriter, r *http.Request) {
	summary, err := s.logs.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	cutoff := time.Now().Add(-hourlyWindow)
	var buckets []HourlyBucket
	for hour, locks := range summary.HourlyLocks {
		t, err := time.Parse("2006-01-02 15", hour)
		if err != nil || t.Before(cutoff) {
			continue
		}
		buckets = append(buckets, HourlyBucket{Hour: hour, Locks: locks})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Hour < buckets[j].Hour })
	writeJSON(w, http.StatusOK, buckets)
}

// UserStat is one user's session totals from GET /api/stats/users.
type UserStat struct {
	User       string  `json:"user"`
	Count      int     `json:"count"`
	TotalTimeS float64 `json:"total_time_s"`
	AvgTimeS   float64 `json:"avg_time_s"`
}

func (s *Server) handleStatsUsers(w http.ResponseWriter, r *http.Request) {
	summary, err := s.logs.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	users := make([]UserStat, 0, len(summary.UserTotals))
	for user, count := range summary.UserTotals {
		total := summary.UserSeconds[user]
		avg := 0.0
		if count > 0 {
			avg = total / float64(count)
		}
		users = append(users, UserStat{User: user, Count: count, TotalTimeS: total, AvgTimeS: avg})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].TotalTimeS > users[j].TotalTimeS })
	writeJSON(w, http.StatusOK, users)
}

// DenialEntry is one NOFREEBOARDS line from GET /api/stats/denials.
type DenialEntry struct {
	Time  string `json:"timestamp"`
	User  string `json:"user"`
	Class string `json:"boardclass"`
}

func (s *Server) handleStatsDenials(w http.ResponseWriter, r *http.Request) {
	summary, err := s.logs.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	denials := make([]DenialEntry, 0, len(summary.Denials))
	for _, d := range summary.Denials {
		denials = append(denials, DenialEntry{Time: d.Time.Format(time.RFC3339), User: d.User, Class: d.Class})
	}
	writeJSON(w, http.StatusOK, denials)
}

// handleConfigReload serves POST /api/config/reload: flags the
// configuration document for re-reading by the janitor's
// ConfigReloader, self-clearing if no reloader ever observes it
// (spec.md §4.6's `setex config.reload 120s`).
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.leases.RequestReload(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

// handleHWTestTrigger serves POST /api/hwtest/trigger: requests an
// out-of-cycle hardware self-test sweep, forcing its way past an
// already-running sweep's lease (spec.md §4.6's `setex hwtest.trigger
// 300s`).
func (s *Server) handleHWTestTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.leases.SetHWTestTrigger(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "hardware self-test triggered"})
}
