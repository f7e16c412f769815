package source

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MailboxList is the YAML form of a mailbox list
type MailboxList struct {
	Destination string   `yaml:"destination"`
	Mailboxes   []string `yaml:"mailboxes"`
}

// LoadMailboxes reads a mailbox list. YAML files use MailboxList; any other
// file holds one mailbox per line with # comments.
func LoadMailboxes(path string) (*MailboxList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseLines(data)
	}
}

// ParseYAML parses a YAML mailbox list
func ParseYAML(data []byte) (*MailboxList, error) {
	var list MailboxList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing mailbox list: %w", err)
	}
	list.Mailboxes = clean(list.Mailboxes)
	return &list, nil
}

// ParseLines parses a plain mailbox list
func ParseLines(data []byte) (*MailboxList, error) {
	var mailboxes []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		mailboxes = append(mailboxes, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &MailboxList{Mailboxes: clean(mailboxes)}, nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
