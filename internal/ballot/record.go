package ballot

import (
	"fmt"
	"slices"
	"time"
)

// RecordType tags the variant of a ballot record.
type RecordType string

const (
	RecordUploaded       RecordType = "UPLOADED"
	RecordAuditorEntered RecordType = "AUDITOR_ENTERED"
	RecordReaudited      RecordType = "REAUDITED"
	RecordPhantom        RecordType = "PHANTOM_RECORD"
)

// PhantomBallotType is the ballot type stored on phantom records.
const PhantomBallotType = "PHANTOM RECORD"

// IsAudit reports whether the record was produced by an audit board.
func (t RecordType) IsAudit() bool {
	return t == RecordAuditorEntered || t == RecordReaudited
}

// ParseRecordType validates a stored record type.
func ParseRecordType(value string) (RecordType, error) {
	switch t := RecordType(value); t {
	case RecordUploaded, RecordAuditorEntered, RecordReaudited, RecordPhantom:
		return t, nil
	default:
		return "", fmt.Errorf("unknown record type %q", value)
	}
}

// Key is the natural key of a physical ballot inside a county.
type Key struct {
	CountyID  int64
	ScannerID int
	BatchID   string
	Position  int
}

// ImprintedID renders the "{scanner}-{batch}-{position}" identifier.
func (k Key) ImprintedID() string {
	return fmt.Sprintf("%d-%s-%d", k.ScannerID, k.BatchID, k.Position)
}

// URI identifies the uploaded or phantom CVR at this position.
func (k Key) URI() string {
	return fmt.Sprintf("cvr:%d:%s", k.CountyID, k.ImprintedID())
}

func (k Key) String() string {
	return fmt.Sprintf("county %d scanner %d batch %s position %d", k.CountyID, k.ScannerID, k.BatchID, k.Position)
}

// Record is a CVR, an ACVR, or a phantom placeholder.
type Record struct {
	ID             int64
	Type           RecordType
	Key            Key
	ImprintedID    string
	CVRNumber      int
	SequenceNumber int
	BallotType     string
	Contests       []ContestInfo

	// Audit fields; zero for uploaded and phantom records.
	CVRID           int64
	Revision        int64
	RoundNumber     int
	AuditBoardIndex int
	BallotNotFound  bool
	ReauditComment  string
	Timestamp       time.Time
}

// NewPhantom returns the placeholder record for a drawn ballot with no CVR.
func NewPhantom(key Key) Record {
	return Record{
		Type:        RecordPhantom,
		Key:         key,
		ImprintedID: key.ImprintedID(),
		BallotType:  PhantomBallotType,
	}
}

// URI identifies the record: "cvr:..." for uploaded and phantom records,
// "acvr:..." for audit records.
func (r Record) URI() string {
	if r.Type.IsAudit() {
		return fmt.Sprintf("acvr:%d:%s", r.Key.CountyID, r.Key.ImprintedID())
	}
	return r.Key.URI()
}

// ContestInfo returns the vote info recorded for contest, if any.
func (r Record) ContestInfo(contest string) (ContestInfo, bool) {
	idx := slices.IndexFunc(r.Contests, func(ci ContestInfo) bool { return ci.Contest == contest })
	if idx < 0 {
		return ContestInfo{}, false
	}
	return r.Contests[idx], true
}

// HasContest reports whether the ballot carries contest.
func (r Record) HasContest(contest string) bool {
	_, ok := r.ContestInfo(contest)
	return ok
}

// Disagreed reports whether the audit board recorded no consensus on contest.
func (r Record) Disagreed(contest string) bool {
	info, ok := r.ContestInfo(contest)
	return ok && info.Consensus == ConsensusNo
}
