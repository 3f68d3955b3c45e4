package importer_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"riskaudit/internal/importer"
	"riskaudit/internal/services"
)

func TestCVRReaderRequiresContestHeader(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"no header": `{"scanner_id":1,"batch_id":"A","record_id":1}`,
		"bad json":  `{"contests":`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := importer.NewCVRReader(strings.NewReader(input))
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCVRReaderReadsRows(t *testing.T) {
	input := header + "\n\n" + `{"scanner_id":2,"batch_id":"9","record_id":4,"imprinted_id":"2-9-4","cvr_number":11,"ballot_type":"B2","votes":{"Mayor":["Bob"]}}` + "\n"
	reader, err := importer.NewCVRReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCVRReader: %v", err)
	}
	contests := reader.Contests()
	if len(contests) != 1 || contests[0].Name != "Mayor" || contests[0].VotesAllowed != 1 {
		t.Fatalf("unexpected contests: %+v", contests)
	}
	row, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row.ScannerID != 2 || row.BatchID != "9" || row.Position != 4 || row.CVRNumber != 11 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if got := row.Votes["Mayor"]; len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("unexpected votes: %v", got)
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestManifestReaderRejectsUnknownFields(t *testing.T) {
	reader := importer.NewManifestReader(strings.NewReader(`{"scanner_id":1,"batch_id":"A","count":3,"box":"x"}`))
	if _, err := reader.Next(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
