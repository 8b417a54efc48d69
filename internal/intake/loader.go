// Package intake loads analyzer findings from drop files and feeds them
// through triage. Parsing is strict and fails closed per file: a
// malformed file contributes nothing rather than a partial batch.
package intake

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steveyegge/greenlight/internal/types"
)

// Batch is the content of one findings file.
type Batch struct {
	Findings []types.Finding       `json:"findings"`
	Signal   *types.PrioritySignal `json:"signal,omitempty"`
}

// LoadFile parses a findings file. Three shapes are accepted:
//   - a JSON array of findings
//   - a JSON object {"findings": [...], "signal": {...}}
//   - JSONL, one finding per line (.jsonl extension)
//
// Unknown fields are rejected. Any parse error fails the whole file.
func LoadFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return parseJSONL(path, data)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("%s is empty", path)
	}

	switch trimmed[0] {
	case '[':
		var findings []types.Finding
		if err := strictUnmarshal(data, &findings); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &Batch{Findings: findings}, nil
	case '{':
		var batch Batch
		if err := strictUnmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &batch, nil
	default:
		return nil, fmt.Errorf("%s: unrecognized format (want JSON array, object, or JSONL)", path)
	}
}

// parseJSONL reads one finding per non-empty line.
func parseJSONL(path string, data []byte) (*Batch, error) {
	var batch Batch
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f types.Finding
		if err := strictUnmarshal([]byte(line), &f); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", path, lineNum, err)
		}
		batch.Findings = append(batch.Findings, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &batch, nil
}

// strictUnmarshal decodes with unknown fields rejected. Analyzer drops
// are an untrusted boundary, same as agent output.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// LoadDir loads every .json/.jsonl file in dir, in name order. Files
// that fail to parse are reported in errs and skipped; valid files still
// contribute. The last signal seen wins.
func LoadDir(dir string) (*Batch, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Batch{}, []error{fmt.Errorf("reading %s: %w", dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsFindingsFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := &Batch{}
	var errs []error
	for _, name := range names {
		batch, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Findings = append(out.Findings, batch.Findings...)
		if batch.Signal != nil {
			out.Signal = batch.Signal
		}
	}
	return out, errs
}

// IsFindingsFile reports whether the name looks like a findings drop.
func IsFindingsFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".jsonl"
}
