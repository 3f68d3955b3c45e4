package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"riskaudit/internal/ballot"
)

// tributeLine is one drawn ballot as written by the random selection tool.
type tributeLine struct {
	ScannerID        int    `json:"scanner_id"`
	BatchID          string `json:"batch_id"`
	Position         int    `json:"record_id"`
	Contest          string `json:"contest"`
	RandomNumber     int    `json:"random_number"`
	SequencePosition int    `json:"sequence_position"`
}

// readTributes decodes JSON-lines tributes for one county. Lines without a
// sequence position are numbered in file order.
func readTributes(r io.Reader, countyID int64) ([]ballot.Tribute, error) {
	scanner := bufio.NewScanner(r)
	var out []ballot.Tribute
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		var t tributeLine
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("tributes line %d: %w", line, err)
		}
		if t.BatchID == "" || t.Position < 1 {
			return nil, fmt.Errorf("tributes line %d: batch_id and record_id are required", line)
		}
		seq := t.SequencePosition
		if seq == 0 {
			seq = len(out) + 1
		}
		out = append(out, ballot.Tribute{
			Key:                  ballot.Key{CountyID: countyID, ScannerID: t.ScannerID, BatchID: t.BatchID, Position: t.Position},
			ContestName:          t.Contest,
			RandomNumber:         t.RandomNumber,
			RandSequencePosition: seq,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tributes: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tributes found")
	}
	return out, nil
}
