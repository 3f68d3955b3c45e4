package ballot

// Tribute is one drawn ballot selection. Tributes are never mutated; a ballot
// drawn twice yields two tributes.
type Tribute struct {
	Key
	ContestName          string
	RandomNumber         int
	RandSequencePosition int
}

// Multiplicity counts how many tributes resolve to each position.
func Multiplicity(tributes []Tribute) map[Key]int {
	counts := make(map[Key]int, len(tributes))
	for _, t := range tributes {
		counts[t.Key]++
	}
	return counts
}

// ManifestBatch is one row of a county's ballot manifest.
type ManifestBatch struct {
	CountyID      int64
	ScannerID     int
	BatchID       string
	Count         int
	Location      string
	SequenceStart int
	SequenceEnd   int
}

// Contains reports whether position falls inside the batch.
func (b ManifestBatch) Contains(position int) bool {
	return position >= 1 && position <= b.Count
}

// AssignSequences numbers batches cumulatively from 1 in the given order.
func AssignSequences(batches []ManifestBatch, start int) int {
	next := start
	if next < 1 {
		next = 1
	}
	for i := range batches {
		batches[i].SequenceStart = next
		batches[i].SequenceEnd = next + batches[i].Count - 1
		next += batches[i].Count
	}
	return next
}
