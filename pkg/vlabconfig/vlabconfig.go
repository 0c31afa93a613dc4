// Package vlabconfig parses and validates the VLAB configuration
// document: the JSON-with-#-comments file listing users and known
// boards (spec §6). Grounded on vlabcommon/vlabconfig.py and manage.py's
// load_vlab_conf.
package vlabconfig

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// User is one entry of the document's "users" map.
type User struct {
	Overlord       bool     `json:"overlord,omitempty"`
	AllowedBoards  []string `json:"allowedboards,omitempty"`
}

// Board is one entry of the document's "boards" map.
type Board struct {
	Class string `json:"class"`
	Type  string `json:"type"`
	Reset string `json:"reset,omitempty"`
}

// Document is the parsed, validated configuration.
type Document struct {
	Users  map[string]User  `json:"users"`
	Boards map[string]Board `json:"boards"`
}

// ParseError carries a line-numbered rendering of the comment-stripped
// document alongside the underlying JSON error, matching the original
// script's "print the file back with line numbers" diagnostic.
type ParseError struct {
	Underlying  error
	Numbered    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid configuration document: %v", e.Underlying)
}

func (e *ParseError) Unwrap() error { return e.Underlying }

// stripComments removes any line whose first non-whitespace character is
// '#', mirroring both vlabconfig.py and manage.py's identical helper.
func stripComments(r *bufio.Scanner) (string, error) {
	var b bytes.Buffer
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := r.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Parse reads, comment-strips, and validates the configuration document.
func Parse(data []byte) (*Document, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	stripped, err := stripComments(scanner)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Users  map[string]map[string]json.RawMessage `json:"users"`
		Boards map[string]map[string]json.RawMessage `json:"boards"`
	}
	if err := json.Unmarshal([]byte(stripped), &raw); err != nil {
		return nil, &ParseError{Underlying: err, Numbered: numberLines(stripped)}
	}

	if raw.Users == nil {
		return nil, &ParseError{Underlying: fmt.Errorf("configuration does not contain a valid 'users' section")}
	}
	if raw.Boards == nil {
		return nil, &ParseError{Underlying: fmt.Errorf("configuration does not contain a valid 'boards' section")}
	}

	doc := &Document{
		Users:  make(map[string]User, len(raw.Users)),
		Boards: make(map[string]Board, len(raw.Boards)),
	}

	allowedUserProps := map[string]bool{"overlord": true, "allowedboards": true}
	for name, props := range raw.Users {
		for prop := range props {
			if !allowedUserProps[prop] {
				return nil, &ParseError{Underlying: fmt.Errorf("user %s has unknown property %s", name, prop)}
			}
		}
		u := User{}
		if raw, ok := props["overlord"]; ok {
			var v bool
			if err := json.Unmarshal(raw, &v); err == nil {
				u.Overlord = v
			}
		}
		if raw, ok := props["allowedboards"]; ok {
			var v []string
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, &ParseError{Underlying: fmt.Errorf("user %s has invalid allowedboards: %w", name, err)}
			}
			u.AllowedBoards = v
		}
		doc.Users[name] = u
	}

	requiredBoardProps := []string{"class", "type"}
	for serial, props := range raw.Boards {
		for _, p := range requiredBoardProps {
			if _, ok := props[p]; !ok {
				return nil, &ParseError{Underlying: fmt.Errorf("board %s does not have property %s", serial, p)}
			}
		}
		b := Board{}
		_ = json.Unmarshal(props["class"], &b.Class)
		_ = json.Unmarshal(props["type"], &b.Type)
		if raw, ok := props["reset"]; ok {
			_ = json.Unmarshal(raw, &b.Reset)
		}
		doc.Boards[serial] = b
	}

	return doc, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func numberLines(s string) string {
	lines := strings.Split(s, "\n")
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d: %s\n", i+1, l)
	}
	return b.String()
}
