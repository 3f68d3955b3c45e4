package importer

import "riskaudit/internal/ballot"

// CVRRow is one cast vote record from an export.
type CVRRow struct {
	ScannerID   int                 `json:"scanner_id"`
	BatchID     string              `json:"batch_id"`
	Position    int                 `json:"record_id"`
	ImprintedID string              `json:"imprinted_id"`
	CVRNumber   int                 `json:"cvr_number"`
	BallotType  string              `json:"ballot_type"`
	Votes       map[string][]string `json:"votes"`
}

// ManifestRow is one batch of a ballot manifest.
type ManifestRow struct {
	ScannerID int    `json:"scanner_id"`
	BatchID   string `json:"batch_id"`
	Count     int    `json:"count"`
	Location  string `json:"location"`
}

// Source iterates a CVR export. Next returns io.EOF after the last row.
type Source interface {
	Contests() []ballot.Contest
	Next() (CVRRow, error)
}

// ManifestSource iterates a ballot manifest. Next returns io.EOF after the
// last row.
type ManifestSource interface {
	Next() (ManifestRow, error)
}
