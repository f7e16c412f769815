// Package exchange implements the remote job registry on top of Exchange
// mailbox export requests, driven through PowerShell.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

// Runner executes a command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command locally. Stderr is folded into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		return out, &CommandError{Message: msg, Err: err}
	}
	return out, nil
}

// CommandError carries the PowerShell error text of a failed invocation
type CommandError struct {
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Config configures the PowerShell client
type Config struct {
	Shell          string
	SessionScript  string
	CommandTimeout time.Duration
}

// Client is a registry.Registry backed by *-MailboxExportRequest cmdlets
type Client struct {
	config Config
	run    Runner
	now    func() time.Time
}

var _ registry.Registry = (*Client)(nil)

// NewClient creates a client; a nil runner uses ExecRunner
func NewClient(cfg Config, run Runner) *Client {
	if cfg.Shell == "" {
		cfg.Shell = "pwsh"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2 * time.Minute
	}
	if run == nil {
		run = ExecRunner
	}
	return &Client{config: cfg, run: run, now: time.Now}
}

// requestJSON mirrors the selected properties of a MailboxExportRequest
type requestJSON struct {
	RequestGuid  string `json:"RequestGuid"`
	Name         string `json:"Name"`
	Mailbox      string `json:"Mailbox"`
	FilePath     string `json:"FilePath"`
	BatchName    string `json:"BatchName"`
	Status       string `json:"Status"`
	StatusDetail string `json:"StatusDetail"`
}

const selectRequest = `Select-Object ` +
	`@{n='RequestGuid';e={"$($_.RequestGuid)"}},` +
	`@{n='Name';e={"$($_.Name)"}},` +
	`@{n='Mailbox';e={"$($_.Mailbox)"}},` +
	`@{n='FilePath';e={"$($_.FilePath)"}},` +
	`@{n='BatchName';e={"$($_.BatchName)"}},` +
	`@{n='Status';e={"$($_.Status)"}},` +
	`@{n='StatusDetail';e={"$($_.StatusDetail)"}}`

// Submit implements registry.Registry
func (c *Client) Submit(ctx context.Context, batch domain.BatchID, item domain.WorkItem) (domain.JobRecord, error) {
	script := fmt.Sprintf(
		`$r = New-MailboxExportRequest -Mailbox %s -FilePath %s -BatchName %s -Name %s; `+
			`ConvertTo-Json -Compress -InputObject @(Get-MailboxExportRequest -Identity $r.Identity | %s)`,
		quote(item.Mailbox), quote(item.Destination), quote(string(batch)), quote(string(batch)), selectRequest)

	out, err := c.invoke(ctx, script)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return domain.JobRecord{}, fmt.Errorf("%w: %s", registry.ErrRejected, cmdErr.Message)
		}
		return domain.JobRecord{}, err
	}

	reqs, err := decode(out)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if len(reqs) != 1 {
		return domain.JobRecord{}, fmt.Errorf("submit %s: expected one request, got %d", item.Mailbox, len(reqs))
	}

	rec := toRecord(batch, reqs[0])
	rec.Item = item
	rec.SubmittedAt = c.now()
	return rec, nil
}

// Query implements registry.Registry. Exchange filters by a single status
// only, so the status filter is applied after mapping.
func (c *Client) Query(ctx context.Context, batch domain.BatchID, statuses ...domain.JobStatus) ([]domain.JobRecord, error) {
	script := fmt.Sprintf(`ConvertTo-Json -Compress -InputObject @(Get-MailboxExportRequest -BatchName %s | %s)`,
		quote(string(batch)), selectRequest)

	out, err := c.invoke(ctx, script)
	if err != nil {
		return nil, err
	}
	reqs, err := decode(out)
	if err != nil {
		return nil, err
	}

	var recs []domain.JobRecord
	for _, r := range reqs {
		// never report another run's requests
		if !strings.EqualFold(r.BatchName, string(batch)) {
			continue
		}
		rec := toRecord(batch, r)
		if registry.MatchesStatus(rec.Status, statuses) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// Remove implements registry.Registry. The request is looked up inside its
// batch first, so removing it twice is a no-op.
func (c *Client) Remove(ctx context.Context, rec domain.JobRecord) error {
	script := fmt.Sprintf(
		`Get-MailboxExportRequest -BatchName %s | Where-Object { "$($_.RequestGuid)" -eq %s } | Remove-MailboxExportRequest -Confirm:$false`,
		quote(string(rec.BatchID)), quote(rec.ID))

	_, err := c.invoke(ctx, script)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && isNotFound(cmdErr.Message) {
			return registry.ErrNotFound
		}
		return err
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, script string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	full := "$ErrorActionPreference = 'Stop'; "
	if s := strings.TrimSpace(c.config.SessionScript); s != "" {
		full += s + "; "
	}
	full += script

	return c.run(ctx, c.config.Shell, "-NoProfile", "-NonInteractive", "-Command", full)
}

func decode(out []byte) ([]requestJSON, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	if out[0] == '{' {
		var one requestJSON
		if err := json.Unmarshal(out, &one); err != nil {
			return nil, fmt.Errorf("decoding request: %w", err)
		}
		return []requestJSON{one}, nil
	}
	var many []requestJSON
	if err := json.Unmarshal(out, &many); err != nil {
		return nil, fmt.Errorf("decoding requests: %w", err)
	}
	return many, nil
}

// toRecord maps a request; a status it does not know keeps the job in flight
func toRecord(batch domain.BatchID, r requestJSON) domain.JobRecord {
	status, err := domain.MapRemoteStatus(r.Status)
	if err != nil {
		log.Printf("[exchange] request %s: %v, treating as in progress", r.RequestGuid, err)
		status = domain.StatusInProgress
	}
	return domain.JobRecord{
		ID:      r.RequestGuid,
		BatchID: batch,
		Item:    domain.WorkItem{Mailbox: r.Mailbox, Destination: r.FilePath},
		Status:  status,
		Detail:  r.StatusDetail,
	}
}

// PowerShell ends a single-quoted literal at any of these
var quoteEscaper = strings.NewReplacer(
	"'", "''",
	"\u2018", "\u2018\u2018",
	"\u2019", "\u2019\u2019",
	"\u201A", "\u201A\u201A",
	"\u201B", "\u201B\u201B",
)

// quote renders s as a single-quoted PowerShell string literal
func quote(s string) string {
	return "'" + quoteEscaper.Replace(s) + "'"
}

func isNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "couldn't be found") || strings.Contains(m, "could not be found")
}
