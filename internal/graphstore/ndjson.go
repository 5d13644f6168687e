package graphstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// maxLineBytes bounds one NDJSON document.
const maxLineBytes = 16 << 20

// importChunkSize is how many decoded lines are sent per Upsert when a
// backend imports a stream through its batch path.
const importChunkSize = 1000

// importViaUpsert decodes newline-delimited documents from r and upserts
// them in chunks. Blank lines are skipped.
func importViaUpsert(ctx context.Context, s Store, collection string, r io.Reader) (Result, error) {
	var (
		total Result
		batch []Document
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := s.Upsert(ctx, collection, batch)
		if err != nil {
			return err
		}
		total.Add(res)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc, err := docFromJSON(raw)
		if err != nil {
			return total, fmt.Errorf("import %s line %d: %w", collection, line, err)
		}
		batch = append(batch, doc)
		if len(batch) >= importChunkSize {
			if err := flush(); err != nil {
				return total, fmt.Errorf("import %s: %w", collection, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("import %s: read: %w", collection, err)
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("import %s: %w", collection, err)
	}
	return total, nil
}

// EncodeNDJSON writes one document body per line.
func EncodeNDJSON(w io.Writer, docs []Document) error {
	bw := bufio.NewWriter(w)
	for _, d := range docs {
		if _, err := bw.Write(bytes.TrimSpace(d.Data)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
