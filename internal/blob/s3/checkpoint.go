package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/feed"
)

// CheckpointPath is where the latest registry checkpoint lives.
const CheckpointPath = "checkpoints/registry/latest.jsonl"

// maxRecordLine bounds a single checkpoint line; bin and concentrated venues
// can carry many levels.
const maxRecordLine = 4 << 20

// SaveCheckpoint writes venues as one feed record per line. Payloads above
// the multipart threshold go through the upload manager.
func SaveCheckpoint(ctx context.Context, w domain.BlobWriter, venues []*domain.Venue) error {
	records := make([]feed.Record, len(venues))
	for i, v := range venues {
		records[i] = feed.Encode(v)
	}
	body, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: checkpoint encode: %w", err)
	}

	if int64(len(body)) > minPartSize {
		err = w.PutMultipart(ctx, CheckpointPath, bytes.NewReader(body), minPartSize)
	} else {
		err = w.Put(ctx, CheckpointPath, bytes.NewReader(body), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: checkpoint upload: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the latest checkpoint back as venue updates. A
// missing checkpoint returns no updates and no error. Any undecodable line
// fails the whole load.
func LoadCheckpoint(ctx context.Context, r domain.BlobReader) ([]domain.VenueUpdate, error) {
	body, err := r.Get(ctx, CheckpointPath)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: checkpoint fetch: %w", err)
	}
	defer body.Close()
	return readUpdates(body)
}

func readUpdates(src io.Reader) ([]domain.VenueUpdate, error) {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64<<10), maxRecordLine)

	var updates []domain.VenueUpdate
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		u, err := feed.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("s3blob: checkpoint line %d: %w", line, err)
		}
		updates = append(updates, u)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: checkpoint read: %w", err)
	}
	return updates, nil
}
