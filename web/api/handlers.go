package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/ledger"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
)

// StatusResponse is the API response for the live run
type StatusResponse struct {
	BatchID    string  `json:"batch_id"`
	Phase      string  `json:"phase"`
	Total      int     `json:"total"`
	Submitted  int     `json:"submitted"`
	Rejected   int     `json:"rejected"`
	InFlight   int     `json:"in_flight"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Removed    int     `json:"removed"`
	PollErrors int     `json:"poll_errors"`
	Percent    float64 `json:"percent"`
	Elapsed    string  `json:"elapsed"`
	Aborted    bool    `json:"aborted"`
	Error      string  `json:"error,omitempty"`
}

// RunResponse is the API response for a finished run
type RunResponse struct {
	BatchID    string  `json:"batch_id"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Pending    int     `json:"pending"`
	Rejected   int     `json:"rejected"`
	PollErrors int     `json:"poll_errors"`
	Aborted    bool    `json:"aborted"`
}

// JobResponse is one job of a finished run
type JobResponse struct {
	ID          string `json:"id,omitempty"`
	Mailbox     string `json:"mailbox"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunDetailResponse is a finished run with its jobs
type RunDetailResponse struct {
	RunResponse
	Jobs []JobResponse `json:"jobs"`
}

// EventResponse is the wire form of an orchestrator event
type EventResponse struct {
	BatchID  string `json:"batch_id"`
	Mailbox  string `json:"mailbox,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Status   string `json:"status,omitempty"`
	InFlight int    `json:"in_flight"`
	Error    string `json:"error,omitempty"`
	Time     string `json:"time"`
}

func eventToResponse(e orchestrator.Event) EventResponse {
	resp := EventResponse{
		BatchID:  string(e.BatchID),
		Mailbox:  e.Mailbox,
		JobID:    e.JobID,
		Status:   string(e.Status),
		InFlight: e.InFlight,
		Time:     e.Time.Format(time.RFC3339),
	}
	if e.Err != nil {
		resp.Error = e.Err.Error()
	}
	return resp
}

func snapshotToStatus(s progress.Snapshot) StatusResponse {
	resp := StatusResponse{
		BatchID:    string(s.BatchID),
		Phase:      string(s.Phase),
		Total:      s.Total,
		Submitted:  s.Submitted,
		Rejected:   s.Rejected,
		InFlight:   s.InFlight,
		Completed:  s.Completed,
		Failed:     s.Failed,
		Removed:    s.Removed,
		PollErrors: s.PollErrors,
		Percent:    s.Percent(),
		Aborted:    s.Aborted,
		Error:      s.Error,
	}
	if !s.StartedAt.IsZero() {
		end := s.FinishedAt
		if end.IsZero() {
			end = time.Now()
		}
		resp.Elapsed = end.Sub(s.StartedAt).Round(time.Second).String()
	}
	return resp
}

func runToResponse(r ledger.RunSummary) RunResponse {
	resp := RunResponse{
		BatchID:    string(r.BatchID),
		StartedAt:  r.StartedAt.Format(time.RFC3339),
		Completed:  r.Completed,
		Failed:     r.Failed,
		Pending:    r.Pending,
		Rejected:   r.Rejected,
		PollErrors: r.PollErrors,
		Aborted:    r.Aborted,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

func reportToResponse(r *domain.Report) RunDetailResponse {
	completed, failed, pending := r.Counts()
	resp := RunDetailResponse{
		RunResponse: runToResponse(ledger.RunSummary{
			BatchID:    r.BatchID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Completed:  completed,
			Failed:     failed,
			Pending:    pending,
			Rejected:   len(r.ItemErrors),
			PollErrors: r.PollErrors,
			Aborted:    r.Aborted,
		}),
		Jobs: make([]JobResponse, 0, len(r.Records)+len(r.ItemErrors)),
	}
	for _, rec := range r.Records {
		j := JobResponse{
			ID:          rec.ID,
			Mailbox:     rec.Item.Mailbox,
			Destination: rec.Item.Destination,
			Status:      string(rec.Status),
			Error:       rec.Detail,
		}
		if !rec.SubmittedAt.IsZero() {
			j.SubmittedAt = rec.SubmittedAt.Format(time.RFC3339)
		}
		resp.Jobs = append(resp.Jobs, j)
	}
	for _, ie := range r.ItemErrors {
		resp.Jobs = append(resp.Jobs, JobResponse{
			Mailbox:     ie.Item.Mailbox,
			Destination: ie.Item.Destination,
			Status:      "Rejected",
			Error:       ie.Err.Error(),
		})
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, snapshotToStatus(s.tracker.Snapshot()))
	}
}

func (s *Server) listJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		jobs := s.tracker.Snapshot().Jobs
		if status := r.URL.Query().Get("status"); status != "" {
			filtered := jobs[:0]
			for _, j := range jobs {
				if strings.EqualFold(string(j.Status), status) {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
		writeJSON(w, jobs)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.history == nil {
			writeJSON(w, []RunResponse{})
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		runs, err := s.history.ListRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, len(runs))
		for i, run := range runs {
			resp[i] = runToResponse(run)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "run history not available")
			return
		}

		// Extract batch ID from path: /api/runs/{batch}
		batchID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if batchID == "" || strings.Contains(batchID, "/") {
			writeError(w, http.StatusBadRequest, "batch ID required")
			return
		}

		report, err := s.history.GetRun(domain.BatchID(batchID))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, reportToResponse(report))
	}
}
