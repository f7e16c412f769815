package source

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestItems_OrderAndNoDedup(t *testing.T) {
	var got []string
	for item := range Items([]string{"b", "a", "b"}, `\\fs\pst`) {
		got = append(got, item.Mailbox)
		if item.Destination != `\\fs\pst\`+item.Mailbox+".pst" {
			t.Errorf("Destination = %q", item.Destination)
		}
	}
	if !slices.Equal(got, []string{"b", "a", "b"}) {
		t.Errorf("items = %v, want [b a b]", got)
	}
}

func TestItems_StopsEarly(t *testing.T) {
	n := 0
	for range Items([]string{"a", "b", "c"}, "/tmp") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("consumed %d items, want 2", n)
	}
}

func TestDestination(t *testing.T) {
	tests := []struct {
		dest    string
		mailbox string
		want    string
	}{
		{`\\fs\pst`, "alice@example.com", `\\fs\pst\alice@example.com.pst`},
		{`\\fs\pst\`, "bob", `\\fs\pst\bob.pst`},
		{`\\fs\pst`, `CONTOSO\carol`, `\\fs\pst\CONTOSO_carol.pst`},
		{"/exports", "dave", filepath.Join("/exports", "dave.pst")},
	}

	for _, tt := range tests {
		if got := Destination(tt.dest, tt.mailbox); got != tt.want {
			t.Errorf("Destination(%q, %q) = %q, want %q", tt.dest, tt.mailbox, got, tt.want)
		}
	}
}

func TestLoadMailboxes_Lines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailboxes.txt")
	content := "# finance\nalice\n\n  bob  # on leave\ncarol\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := LoadMailboxes(path)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(list.Mailboxes, []string{"alice", "bob", "carol"}) {
		t.Errorf("Mailboxes = %v", list.Mailboxes)
	}
}

func TestLoadMailboxes_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailboxes.yaml")
	content := `
destination: '\\fs\legal-hold'
mailboxes:
  - alice
  - " bob "
  - ""
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := LoadMailboxes(path)
	if err != nil {
		t.Fatal(err)
	}
	if list.Destination != `\\fs\legal-hold` {
		t.Errorf("Destination = %q", list.Destination)
	}
	if !slices.Equal(list.Mailboxes, []string{"alice", "bob"}) {
		t.Errorf("Mailboxes = %v", list.Mailboxes)
	}
}

func TestUNCValidator(t *testing.T) {
	tests := []struct {
		dest    string
		wantErr bool
	}{
		{`\\fs\pst`, false},
		{`\\fs\pst\2026`, false},
		{`\\fs`, true},
		{`\\\pst`, true},
		{`C:\exports`, true},
		{"", true},
	}
	for _, tt := range tests {
		err := UNCValidator{}.Validate(tt.dest)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.dest, err, tt.wantErr)
		}
	}
}

func TestLocalDirValidator(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	os.WriteFile(file, nil, 0644)

	if err := (LocalDirValidator{}).Validate(dir); err != nil {
		t.Errorf("existing dir: %v", err)
	}
	if err := (LocalDirValidator{}).Validate(file); err == nil {
		t.Error("file should be rejected")
	}
	if err := (LocalDirValidator{}).Validate(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing dir should be rejected")
	}
}
