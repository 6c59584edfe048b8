package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Archiver moves opportunity history older than a cutoff from the database
// into monthly JSONL objects.
type Archiver struct {
	writer domain.BlobWriter
	store  domain.OpportunityStore
}

var _ domain.Archiver = (*Archiver)(nil)

func NewArchiver(writer domain.BlobWriter, store domain.OpportunityStore) *Archiver {
	return &Archiver{writer: writer, store: store}
}

// ArchiveOpportunities uploads every opportunity detected before the cutoff
// to archive/opportunities/YYYY-MM.jsonl and then deletes them from the
// store. Rows are only deleted after the upload succeeded. The returned
// count is the number of rows removed.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive list: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	body, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive encode: %w", err)
	}
	path := ArchivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	n, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive delete: %w", err)
	}
	return n, nil
}

// ArchivePath is the object key for the month containing before, in UTC.
func ArchivePath(before time.Time) string {
	return "archive/opportunities/" + before.UTC().Format("2006-01") + ".jsonl"
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
