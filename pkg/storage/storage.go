package storage

import (
	"context"
	"time"

	"github.com/root4loot/portshot/pkg/screener"
)

// CaptureRecord holds the capture fields we persist.
type CaptureRecord struct {
	RunID      string
	Address    string
	Port       string
	URL        string
	CapturedAt time.Time
	ImageFile  string
	StatusCode int
	Error      string
}

// Repository defines persistence operations for captures.
type Repository interface {
	UpsertLatest(ctx context.Context, record CaptureRecord) error
}

// RecordFromResult converts a capture result into a record for run runID.
// Timestamps that do not parse fall back to now.
func RecordFromResult(runID string, result screener.Result) CaptureRecord {
	capturedAt, err := time.ParseInLocation(screener.TimestampFormat, result.Timestamp, time.Local)
	if err != nil {
		capturedAt = time.Now()
	}

	return CaptureRecord{
		RunID:      runID,
		Address:    result.Target.Address,
		Port:       result.Target.Port,
		URL:        result.Target.URL,
		CapturedAt: capturedAt.UTC(),
		ImageFile:  result.ImageFile,
		StatusCode: result.StatusCode,
		Error:      result.Error,
	}
}

// SaveAll upserts every result and returns the number of records that could
// not be stored along with the last error.
func SaveAll(ctx context.Context, repo Repository, runID string, results []screener.Result) (failed int, err error) {
	for _, r := range results {
		if uerr := repo.UpsertLatest(ctx, RecordFromResult(runID, r)); uerr != nil {
			failed++
			err = uerr
		}
	}
	return failed, err
}
