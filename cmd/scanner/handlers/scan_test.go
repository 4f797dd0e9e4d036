package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/gate-scanner/pkg/history"
	"github.com/wachiwi/gate-scanner/pkg/redeem"
	"github.com/wachiwi/gate-scanner/pkg/scanner"
)

type fakeScanner struct {
	mu        sync.Mutex
	state     scanner.State
	calls     []string
	listeners []func(scanner.State)
	deadline  bool
}

func (f *fakeScanner) record(call string, s scanner.State) scanner.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.state = s
	for _, l := range f.listeners {
		l(s)
	}
	return s
}

func (f *fakeScanner) StartScan(ctx context.Context) scanner.State {
	_, f.deadline = ctx.Deadline()
	return f.record("start", scanner.State{Phase: scanner.PhaseScanning})
}

func (f *fakeScanner) StopScan() scanner.State {
	return f.record("stop", scanner.State{Phase: scanner.PhaseIdle})
}

func (f *fakeScanner) Reset(ctx context.Context) scanner.State {
	return f.record("reset", scanner.State{Phase: scanner.PhaseScanning})
}

func (f *fakeScanner) State() scanner.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScanner) Subscribe(fn func(scanner.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

func (f *fakeScanner) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type fakeHistory []history.Entry

func (h fakeHistory) Entries() []history.Entry { return h }

func newScanRouter(h *ScanHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/start", h.Start)
	r.POST("/stop", h.Stop)
	r.POST("/reset", h.Reset)
	r.GET("/state", h.State)
	r.GET("/history", h.HistoryList)
	r.GET("/events", h.Events)
	return r
}

func TestScanCommands(t *testing.T) {
	fake := &fakeScanner{}
	r := newScanRouter(&ScanHandler{Scanner: fake})

	tests := []struct {
		path  string
		phase string
	}{
		{"/start", "scanning"},
		{"/stop", "idle"},
		{"/reset", "scanning"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.path, w.Code)
		}
		var body struct {
			Phase string `json:"phase"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: bad json: %v", tt.path, err)
		}
		if body.Phase != tt.phase {
			t.Errorf("%s: expected phase %q, got %q", tt.path, tt.phase, body.Phase)
		}
	}

	if got := strings.Join(fake.calls, ","); got != "start,stop,reset" {
		t.Errorf("unexpected calls %q", got)
	}
	if !fake.deadline {
		t.Error("expected camera acquisition to be bounded by a deadline")
	}
}

func TestStateIncludesResult(t *testing.T) {
	fake := &fakeScanner{state: scanner.State{
		Phase: scanner.PhaseResult,
		Code:  "TCK-001",
		Result: &scanner.Result{
			Success: true,
			Code:    "TCK-001",
			Ticket:  &redeem.Ticket{ID: "t-1", HolderName: "Ana"},
		},
	}}
	r := newScanRouter(&ScanHandler{Scanner: fake})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))

	var body struct {
		Phase  string `json:"phase"`
		Result struct {
			Success bool `json:"success"`
			Ticket  struct {
				HolderName string `json:"holderName"`
			} `json:"ticket"`
		} `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body.Phase != "result" || !body.Result.Success || body.Result.Ticket.HolderName != "Ana" {
		t.Errorf("unexpected state %s", w.Body.String())
	}
}

func TestHistoryList(t *testing.T) {
	r := newScanRouter(&ScanHandler{Scanner: &fakeScanner{}, History: fakeHistory{{Code: "TCK-001", Success: true}}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))

	var entries []history.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != "TCK-001" {
		t.Errorf("unexpected history %s", w.Body.String())
	}

	r = newScanRouter(&ScanHandler{Scanner: &fakeScanner{}})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected an empty list without history, got %s", w.Body.String())
	}
}

func TestEventsStreamsStates(t *testing.T) {
	fake := &fakeScanner{}
	srv := httptest.NewServer(newScanRouter(&ScanHandler{Scanner: fake}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected event stream, got %q", ct)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data:") {
				lines <- sc.Text()
			}
		}
		close(lines)
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
			return ""
		}
	}

	if first := next(); !strings.Contains(first, `"phase":"idle"`) {
		t.Errorf("expected the current state first, got %q", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fake.subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	fake.StartScan(context.Background())
	if second := next(); !strings.Contains(second, `"phase":"scanning"`) {
		t.Errorf("expected scanning event, got %q", second)
	}
}
