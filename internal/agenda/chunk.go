package agenda

import (
	"fmt"

	"agendacal/internal/model"
)

// ChunkID identifies a chunk for the lifetime of a Window.
type ChunkID uint64

// Chunk owns the records and rows fetched for one day range. Only Offset,
// and the bounds when an empty neighbouring range is absorbed, change after
// construction.
type Chunk struct {
	ID       ChunkID
	StartDay model.Day
	EndDay   model.Day
	Records  []model.EventRecord
	Rows     []Row
	// Offset is the flat position of Rows[0]: the sum of the row counts of
	// every chunk before this one.
	Offset int
	// Skipped counts malformed records dropped by Bucketize.
	Skipped int
}

func newChunk(id ChunkID, start, end model.Day, records []model.EventRecord) *Chunk {
	if !model.RecordsSorted(records) {
		sorted := make([]model.EventRecord, len(records))
		copy(sorted, records)
		model.SortRecords(sorted)
		records = sorted
	}
	rows, skipped := Bucketize(records, start, end)
	return &Chunk{
		ID:       id,
		StartDay: start,
		EndDay:   end,
		Records:  records,
		Rows:     rows,
		Skipped:  skipped,
	}
}

// RowCount is len(Rows).
func (c *Chunk) RowCount() int {
	return len(c.Rows)
}

func (c *Chunk) contains(pos int) bool {
	return pos >= c.Offset && pos < c.Offset+len(c.Rows)
}

func (c *Chunk) covers(start, end model.Day) bool {
	return c.StartDay <= start && end <= c.EndDay
}

// headerFor returns the index of the day header governing row i.
func (c *Chunk) headerFor(i int) int {
	for ; i >= 0; i-- {
		if c.Rows[i].Kind == RowDayHeader {
			return i
		}
	}
	return -1
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk#%d[%s..%s off=%d rows=%d]", c.ID, c.StartDay, c.EndDay, c.Offset, len(c.Rows))
}
