// Package source turns a mailbox list into the ordered work items of a run
package source

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// Items yields one work item per mailbox in list order. The sequence is
// lazy and does not deduplicate.
func Items(mailboxes []string, destination string) iter.Seq[domain.WorkItem] {
	return func(yield func(domain.WorkItem) bool) {
		for _, m := range mailboxes {
			item := domain.WorkItem{Mailbox: m, Destination: Destination(destination, m)}
			if !yield(item) {
				return
			}
		}
	}
}

var fileNameReplacer = strings.NewReplacer(`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_")

// FileName returns the PST file name for a mailbox
func FileName(mailbox string) string {
	return fileNameReplacer.Replace(strings.TrimSpace(mailbox)) + ".pst"
}

// Destination joins the output location and the mailbox's PST name. UNC
// paths are joined with backslashes regardless of the local OS.
func Destination(dest, mailbox string) string {
	if IsUNC(dest) {
		return strings.TrimRight(dest, `\`) + `\` + FileName(mailbox)
	}
	return filepath.Join(dest, FileName(mailbox))
}

// IsUNC reports whether p looks like \\server\share
func IsUNC(p string) bool {
	return strings.HasPrefix(p, `\\`)
}
