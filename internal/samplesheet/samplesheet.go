// Package samplesheet loads the tab-delimited sample list that seeds a
// pipeline run. Every parse failure is reported with the 1-based line
// number of the offending row so the sheet can be fixed in one pass.
package samplesheet

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Sample is one sequenced library: a unique id and its paired raw reads.
// Samples are immutable after loading.
type Sample struct {
	ID    string
	Read1 string
	Read2 string
}

// Reads returns the raw input files in sheet order.
func (s Sample) Reads() []string {
	return []string{s.Read1, s.Read2}
}

// LineError is a sheet violation pinned to a specific line.
type LineError struct {
	Path string
	Line int
	Msg  string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

const columns = 3

// Load parses the sample sheet at path. Lines starting with '#' and
// blank lines are ignored. Each data row must have exactly three
// tab-separated columns: sample_id, read1_path, read2_path. Load fails
// on the first malformed row, missing read file, duplicate sample id,
// or row whose two reads name the same file.
func Load(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample sheet: %w", err)
	}
	defer f.Close()

	var samples []Sample
	seen := make(map[string]int)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != columns {
			return nil, &LineError{
				Path: path,
				Line: lineNo,
				Msg:  fmt.Sprintf("expected %d tab-separated columns (sample_id, read1, read2), got %d", columns, len(fields)),
			}
		}

		s := Sample{
			ID:    strings.TrimSpace(fields[0]),
			Read1: strings.TrimSpace(fields[1]),
			Read2: strings.TrimSpace(fields[2]),
		}
		if s.ID == "" {
			return nil, &LineError{Path: path, Line: lineNo, Msg: "empty sample_id"}
		}
		if prev, dup := seen[s.ID]; dup {
			return nil, &LineError{
				Path: path,
				Line: lineNo,
				Msg:  fmt.Sprintf("duplicate sample id %q (first defined on line %d)", s.ID, prev),
			}
		}
		if s.Read1 == s.Read2 {
			return nil, &LineError{
				Path: path,
				Line: lineNo,
				Msg:  fmt.Sprintf("read1 and read2 refer to the same file %q", s.Read1),
			}
		}
		for _, read := range s.Reads() {
			if _, err := os.Stat(read); err != nil {
				return nil, &LineError{
					Path: path,
					Line: lineNo,
					Msg:  fmt.Sprintf("read file %q does not exist", read),
				}
			}
		}

		seen[s.ID] = lineNo
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sample sheet: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("sample sheet %s contains no samples", path)
	}
	return samples, nil
}
