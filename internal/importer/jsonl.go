package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"riskaudit/internal/ballot"
	"riskaudit/internal/services"
)

const maxLineBytes = 4 * 1024 * 1024

type contestHeader struct {
	Contests []struct {
		Name         string   `json:"name"`
		Choices      []string `json:"choices"`
		VotesAllowed int      `json:"votes_allowed"`
	} `json:"contests"`
}

type lineReader struct {
	scanner *bufio.Scanner
	line    int
}

func newLineReader(r io.Reader) *lineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &lineReader{scanner: scanner}
}

// next returns the next non-blank line.
func (l *lineReader) next() ([]byte, error) {
	for l.scanner.Scan() {
		l.line++
		text := strings.TrimSpace(l.scanner.Text())
		if text == "" {
			continue
		}
		return []byte(text), nil
	}
	if err := l.scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrTransient, "importer", "read", fmt.Sprintf("line %d", l.line+1), err)
	}
	return nil, io.EOF
}

func (l *lineReader) decode(data []byte, dest any) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return services.Wrap(services.ErrValidation, "importer", "parse", fmt.Sprintf("line %d", l.line), err)
	}
	return nil
}

// CVRReader reads a JSON-lines CVR export whose first line declares contests.
type CVRReader struct {
	lines    *lineReader
	contests []ballot.Contest
}

// NewCVRReader reads the contest header from r.
func NewCVRReader(r io.Reader) (*CVRReader, error) {
	lines := newLineReader(r)
	first, err := lines.next()
	if err == io.EOF {
		return nil, services.Wrap(services.ErrValidation, "importer", "parse", "empty CVR export", nil)
	}
	if err != nil {
		return nil, err
	}
	var header contestHeader
	if err := lines.decode(first, &header); err != nil {
		return nil, err
	}
	if len(header.Contests) == 0 {
		return nil, services.Wrap(services.ErrValidation, "importer", "parse", "first line must declare contests", nil)
	}
	contests := make([]ballot.Contest, 0, len(header.Contests))
	for _, c := range header.Contests {
		contests = append(contests, ballot.Contest{Name: strings.TrimSpace(c.Name), Choices: c.Choices, VotesAllowed: c.VotesAllowed})
	}
	return &CVRReader{lines: lines, contests: contests}, nil
}

// Contests returns the declared contests.
func (r *CVRReader) Contests() []ballot.Contest {
	return r.contests
}

// Next returns the next CVR row.
func (r *CVRReader) Next() (CVRRow, error) {
	data, err := r.lines.next()
	if err != nil {
		return CVRRow{}, err
	}
	var row CVRRow
	if err := r.lines.decode(data, &row); err != nil {
		return CVRRow{}, err
	}
	return row, nil
}

// ManifestReader reads a JSON-lines ballot manifest.
type ManifestReader struct {
	lines *lineReader
}

// NewManifestReader wraps r.
func NewManifestReader(r io.Reader) *ManifestReader {
	return &ManifestReader{lines: newLineReader(r)}
}

// Next returns the next manifest row.
func (r *ManifestReader) Next() (ManifestRow, error) {
	data, err := r.lines.next()
	if err != nil {
		return ManifestRow{}, err
	}
	var row ManifestRow
	if err := r.lines.decode(data, &row); err != nil {
		return ManifestRow{}, err
	}
	return row, nil
}
