package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/ledger"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
)

func testTracker() *progress.Tracker {
	tr := progress.NewTracker(3)
	tr.Observe(orchestrator.Event{Type: orchestrator.EventStarted, BatchID: "b", Time: time.Now()})
	tr.Observe(orchestrator.Event{Type: orchestrator.EventSubmitted, JobID: "1", Mailbox: "alice", Status: domain.StatusPending})
	tr.Observe(orchestrator.Event{Type: orchestrator.EventSubmitted, JobID: "2", Mailbox: "bob", Status: domain.StatusPending})
	tr.Observe(orchestrator.Event{Type: orchestrator.EventRejected, Mailbox: "ghost", Err: errors.New("not found")})
	tr.Observe(orchestrator.Event{Type: orchestrator.EventStatusChanged, JobID: "1", Status: domain.StatusCompleted})
	tr.Observe(orchestrator.Event{Type: orchestrator.EventGateCheck, InFlight: 1})
	return tr
}

func TestStatusHandler(t *testing.T) {
	server := NewServer(testTracker(), nil, ":8080")
	handler := server.statusHandler()

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.BatchID != "b" {
		t.Errorf("BatchID = %q, want b", status.BatchID)
	}
	if status.Completed != 1 {
		t.Errorf("Completed = %d, want 1", status.Completed)
	}
	if status.Submitted != 2 || status.Rejected != 1 {
		t.Errorf("Submitted/Rejected = %d/%d, want 2/1", status.Submitted, status.Rejected)
	}
	if status.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", status.InFlight)
	}
}

func TestListJobsHandler(t *testing.T) {
	server := NewServer(testTracker(), nil, ":8080")
	handler := server.listJobsHandler()

	req := httptest.NewRequest("GET", "/api/jobs?status=completed", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}

	var jobs []progress.Job
	json.NewDecoder(w.Body).Decode(&jobs)

	if len(jobs) != 1 || jobs[0].Mailbox != "alice" {
		t.Errorf("jobs = %+v, want only alice", jobs)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := NewServer(testTracker(), nil, ":8080")

	req := httptest.NewRequest("POST", "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
}

func TestRunsHandlers(t *testing.T) {
	store, err := ledger.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	started := time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)
	err = store.WriteReport(context.Background(), &domain.Report{
		BatchID:    "night-1",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Hour),
		Records: []domain.JobRecord{
			{ID: "g1", Item: domain.WorkItem{Mailbox: "alice"}, Status: domain.StatusCompleted, SubmittedAt: started},
		},
		ItemErrors: []domain.ItemError{{Item: domain.WorkItem{Mailbox: "ghost"}, Err: errors.New("not found")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	server := NewServer(progress.NewTracker(0), store, ":8080")

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs", nil))
	var runs []RunResponse
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].BatchID != "night-1" || runs[0].Rejected != 1 {
		t.Errorf("runs = %+v", runs)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/night-1", nil))
	var detail RunDetailResponse
	json.NewDecoder(w.Body).Decode(&detail)
	if len(detail.Jobs) != 2 || detail.Jobs[1].Status != "Rejected" {
		t.Errorf("detail jobs = %+v", detail.Jobs)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestWebSocket_ReceivesSnapshotAndEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewServer(testTracker(), nil, ":0")
	go server.hub.Run(ctx)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "snapshot" {
		t.Errorf("first message = %q, want snapshot", first.Type)
	}

	// the subscription is registered before the snapshot is written
	server.Observe(orchestrator.Event{Type: orchestrator.EventRemoved, BatchID: "b", JobID: "1", Mailbox: "alice", Time: time.Now()})

	var msg struct {
		Type string        `json:"type"`
		Data EventResponse `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "removed" || msg.Data.Mailbox != "alice" {
		t.Errorf("event = %+v", msg)
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(Message{Type: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}
