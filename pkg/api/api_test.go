package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store/storetest"
)

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestServer(t *testing.T, logPath string) (*Server, *lease.Leases) {
	t.Helper()
	db := storetest.New(t)
	leases := lease.New(db)
	return New(leases, accesslog.NewCache(logPath)), leases
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleBoards_ReportsStatusesInOrder(t *testing.T) {
	s, leases := newTestServer(t, filepath.Join(t.TempDir(), "access.log"))
	ctx := context.Background()

	must(t, leases.Attach(ctx, "B2", "vlab_zybo-z7", "host1", 32001))
	must(t, leases.EndSession(ctx, "B2", "vlab_zybo-z7"))
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.EndSession(ctx, "B1", "vlab_zybo-z7"))
	must(t, leases.StartSession(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/boards")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var boards []BoardStatus
	must(t, json.Unmarshal(rec.Body.Bytes(), &boards))
	if len(boards) != 2 {
		t.Fatalf("expected 2 boards, got %d: %+v", len(boards), boards)
	}
	if boards[0].Serial != "B1" || boards[0].Status != "in_use_locked" || boards[0].User != "alice" {
		t.Fatalf("unexpected first board: %+v", boards[0])
	}
	if boards[1].Serial != "B2" || boards[1].Status != "available" {
		t.Fatalf("unexpected second board: %+v", boards[1])
	}
}

func TestHandleStatsSummary_TalliesPerClass(t *testing.T) {
	s, leases := newTestServer(t, filepath.Join(t.TempDir(), "access.log"))
	ctx := context.Background()

	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.Attach(ctx, "B2", "vlab_zybo-z7", "host1", 32001))
	must(t, leases.StartSession(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))
	must(t, leases.RecordHWTestResult(ctx, "B2", "fail", "no magic string seen", time.Now()))
	must(t, leases.WithdrawFromPools(ctx, "B2", "vlab_zybo-z7"))

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/stats/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary map[string]ClassSummary
	must(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	cs, ok := summary["vlab_zybo-z7"]
	if !ok {
		t.Fatalf("expected vlab_zybo-z7 in summary, got %+v", summary)
	}
	if cs.Total != 2 || cs.InUseLocked != 1 || cs.HWTestFailed != 1 || cs.Available != 0 {
		t.Fatalf("unexpected tally: %+v", cs)
	}
}

func TestHandleConfigReload_SetsRequestFlag(t *testing.T) {
	s, leases := newTestServer(t, filepath.Join(t.TempDir(), "access.log"))
	ctx := context.Background()

	rec := doRequest(t, s.Router(), http.MethodPost, "/api/config/reload")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	requested, err := leases.ReloadRequested(ctx)
	must(t, err)
	if !requested {
		t.Fatal("expected reload flag set")
	}
}

func TestHandleHWTestTrigger_SetsTriggerFlag(t *testing.T) {
	s, leases := newTestServer(t, filepath.Join(t.TempDir(), "access.log"))
	ctx := context.Background()

	rec := doRequest(t, s.Router(), http.MethodPost, "/api/hwtest/trigger")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	triggered, err := leases.HWTestTriggered(ctx)
	must(t, err)
	if !triggered {
		t.Fatal("expected trigger flag set")
	}
}

func TestHandleStatsEndpoints_ParseAccessLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	// Timestamps sit an hour in the past so the lock falls inside the
	// hourly endpoint's trailing-week window.
	base := time.Now().UTC().Add(-time.Hour)
	ts := func(d time.Duration) string { return base.Add(d).Format("2006-01-02 15:04:05") + ",000" }
	lines := "" +
		ts(0) + " ; INFO ; relay ; START: alice, vlab_zybo-z7:B1\n" +
		ts(time.Second) + " ; INFO ; relay ; LOCK: alice, vlab_zybo-z7:B1, 2 remaining in set\n" +
		ts(2*time.Second) + " ; WARNING ; relay ; NOFREEBOARDS: bob, vlab_zybo-z7\n" +
		ts(300*time.Second) + " ; INFO ; relay ; END: alice, vlab_zybo-z7:B1\n"
	must(t, os.WriteFile(path, []byte(lines), 0644))

	s, _ := newTestServer(t, path)
	router := s.Router()

	rec := doRequest(t, router, http.MethodGet, "/api/stats/hourly")
	var hourly []HourlyBucket
	must(t, json.Unmarshal(rec.Body.Bytes(), &hourly))
	if len(hourly) != 1 || hourly[0].Locks != 1 {
		t.Fatalf("unexpected hourly buckets: %+v", hourly)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/stats/users")
	var users []UserStat
	must(t, json.Unmarshal(rec.Body.Bytes(), &users))
	if len(users) != 1 || users[0].User != "alice" || users[0].TotalTimeS != 300 {
		t.Fatalf("unexpected users: %+v", users)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/stats/denials")
	var denials []DenialEntry
	must(t, json.Unmarshal(rec.Body.Bytes(), &denials))
	if len(denials) != 1 || denials[0].User != "bob" {
		t.Fatalf("unexpected denials: %+v", denials)
	}
}

func TestHandleHealthz_ReportsStoreReachability(t *testing.T) {
	s, _ := newTestServer(t, filepath.Join(t.TempDir(), "access.log"))
	rec := doRequest(t, s.Router(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
