package accesslog

import (
	"os"
	"regexp"
	"sort"
	"sync"
	"time"
)

// MaxSessions bounds how many sessions, completed or still open, Summary
// retains, newest first — web/logparser.py's original cap.
const MaxSessions = 100

// MaxDenials bounds how many NOFREEBOARDS denials Summary retains.
const MaxDenials = 50

var lineRE = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}),(\d{3}) ; (\S+) ; (\S+) ; (\w+): (.*)$`)

var (
	startRE        = regexp.MustCompile(`^(\S+), (\S+):(\S*)$`)
	lockRE         = regexp.MustCompile(`^(\S+), (\S+):(\S*), (\d+) remaining in set$`)
	releaseRE      = regexp.MustCompile(`^(\S+), (\S+):(\S*)$`)
	endRE          = regexp.MustCompile(`^(\S+), (\S+):(\S*)$`)
	noFreeBoardsRE = regexp.MustCompile(`^(\S+), (\S+)$`)
)

// Entry is one parsed access-log line.
type Entry struct {
	Time   time.Time
	Level  string
	Source string
	Event  string
	User   string
	Class  string
	Serial string
	// Remaining is only meaningful for LOCK events.
	Remaining int
}

// Session is a paired START/END (or START-with-no-matching-END, still
// open).
type Session struct {
	User    string
	Class   string
	Serial  string
	Start   time.Time
	End     time.Time
	Open    bool
	Seconds float64
}

// Denial is one NOFREEBOARDS line.
type Denial struct {
	Time  time.Time
	User  string
	Class string
}

// Summary is the aggregated view over an access log, per spec.md §6's
// /api/stats endpoints.
type Summary struct {
	Sessions    []Session          // newest first, capped at MaxSessions
	Denials     []Denial           // newest first, capped at MaxDenials
	HourlyLocks map[string]int     // "2026-07-30 14" -> lock count
	UserTotals  map[string]int     // user -> completed session count
	UserSeconds map[string]float64 // user -> total completed session seconds
}

// parseLine parses a single access-log line, returning ok=false for
// lines that don't match the expected format (treated as noise, per
// spec.md's "consumers must treat non-matching lines as noise").
func parseLine(line string) (Entry, bool) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	ts, err := time.Parse("2006-01-02 15:04:05", m[1])
	if err != nil {
		return Entry{}, false
	}
	ts = ts.Add(time.Duration(atoiSafe(m[2])) * time.Millisecond)

	e := Entry{Time: ts, Level: m[3], Source: m[4], Event: m[5]}
	args := m[6]

	switch e.Event {
	case "START":
		if sm := startRE.FindStringSubmatch(args); sm != nil {
			e.User, e.Class, e.Serial = sm[1], sm[2], sm[3]
		}
	case "LOCK":
		if sm := lockRE.FindStringSubmatch(args); sm != nil {
			e.User, e.Class, e.Serial = sm[1], sm[2], sm[3]
			e.Remaining = atoiSafe(sm[4])
		}
	case "RELEASE":
		if sm := releaseRE.FindStringSubmatch(args); sm != nil {
			e.User, e.Class, e.Serial = sm[1], sm[2], sm[3]
		}
	case "END":
		if sm := endRE.FindStringSubmatch(args); sm != nil {
			e.User, e.Class, e.Serial = sm[1], sm[2], sm[3]
		}
	case "NOFREEBOARDS":
		if sm := noFreeBoardsRE.FindStringSubmatch(args); sm != nil {
			e.User, e.Class = sm[1], sm[2]
		}
	}
	return e, true
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Parse reads every line of the access log at path and builds a Summary.
func Parse(path string) (*Summary, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		HourlyLocks: make(map[string]int),
		UserTotals:  make(map[string]int),
		UserSeconds: make(map[string]float64),
	}

	// Track one open session per (user, class, serial) key so
	// interleaved sessions across boards pair correctly.
	type key struct{ user, class, serial string }
	open := make(map[key]Entry)

	for _, line := range lines {
		e, ok := parseLine(line)
		if !ok {
			continue
		}
		switch e.Event {
		case "START":
			open[key{e.User, e.Class, e.Serial}] = e
		case "END":
			k := key{e.User, e.Class, e.Serial}
			if start, ok := open[k]; ok {
				summary.Sessions = append(summary.Sessions, Session{
					User:    e.User,
					Class:   e.Class,
					Serial:  e.Serial,
					Start:   start.Time,
					End:     e.Time,
					Seconds: e.Time.Sub(start.Time).Seconds(),
				})
				summary.UserTotals[e.User]++
				summary.UserSeconds[e.User] += e.Time.Sub(start.Time).Seconds()
				delete(open, k)
			}
		case "LOCK":
			hourKey := e.Time.Format("2006-01-02 15")
			summary.HourlyLocks[hourKey]++
		case "NOFREEBOARDS":
			summary.Denials = append(summary.Denials, Denial{Time: e.Time, User: e.User, Class: e.Class})
		}
	}

	// Any session still open at end-of-file is reported, unterminated.
	for k, start := range open {
		summary.Sessions = append(summary.Sessions, Session{
			User: k.user, Class: k.class, Serial: k.serial,
			Start: start.Time, Open: true,
		})
	}

	sort.Slice(summary.Sessions, func(i, j int) bool { return summary.Sessions[i].Start.After(summary.Sessions[j].Start) })
	if len(summary.Sessions) > MaxSessions {
		summary.Sessions = summary.Sessions[:MaxSessions]
	}
	sort.Slice(summary.Denials, func(i, j int) bool { return summary.Denials[i].Time.After(summary.Denials[j].Time) })
	if len(summary.Denials) > MaxDenials {
		summary.Denials = summary.Denials[:MaxDenials]
	}

	return summary, nil
}

// cacheEntry holds a cached Summary alongside the file stat it was built
// from.
type cacheEntry struct {
	size    int64
	modTime time.Time
	summary *Summary
}

// Cache memoizes Parse results by file size+mtime, so repeated
// dashboard polls of an unchanged log don't re-scan it — the
// mtime+size cache web/logparser.py uses.
type Cache struct {
	path string
	mu   sync.Mutex
	last cacheEntry
}

// NewCache returns a Cache over the access log at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Get returns the current Summary, re-parsing only if the file has
// changed size or modification time since the last call.
func (c *Cache) Get() (*Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Summary{HourlyLocks: map[string]int{}, UserTotals: map[string]int{}}, nil
		}
		return nil, err
	}

	if c.last.summary != nil && info.Size() == c.last.size && info.ModTime().Equal(c.last.modTime) {
		return c.last.summary, nil
	}

	summary, err := Parse(c.path)
	if err != nil {
		return nil, err
	}
	c.last = cacheEntry{size: info.Size(), modTime: info.ModTime(), summary: summary}
	return summary, nil
}
