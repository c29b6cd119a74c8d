package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"streetcount/internal/model"
)

// Writer persists a finished batch.
type Writer interface {
	Write(ctx context.Context, b *model.BatchResult) error
}

// document is the on-disk shape of a report.
type document struct {
	Summary model.Summary     `json:"summary"`
	Results []json.RawMessage `json:"results"`
}

// Encode writes b as an indented JSON report. Successful items are written
// as image results, failed and cancelled ones as error records.
func Encode(w io.Writer, b *model.BatchResult) error {
	doc := document{Summary: b.Summary, Results: make([]json.RawMessage, 0, len(b.Records))}
	for _, r := range b.Records {
		var (
			raw []byte
			err error
		)
		switch {
		case r.Result != nil:
			raw, err = json.Marshal(r.Result)
		case r.Err != nil:
			raw, err = json.Marshal(r.Err)
		default:
			return fmt.Errorf("record %d has neither result nor error", r.Index)
		}
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", r.Index, err)
		}
		doc.Results = append(doc.Results, raw)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Decode parses a report produced by Encode.
func Decode(r io.Reader) (*model.BatchResult, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	b := &model.BatchResult{Summary: doc.Summary, Records: make([]model.Record, 0, len(doc.Results))}
	for i, raw := range doc.Results {
		var probe struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("failed to decode result %d: %w", i, err)
		}

		rec := model.Record{Index: i}
		if probe.Error != nil {
			rec.Err = &model.ItemError{}
			if err := json.Unmarshal(raw, rec.Err); err != nil {
				return nil, fmt.Errorf("failed to decode error record %d: %w", i, err)
			}
		} else {
			rec.Result = &model.ImageResult{}
			if err := json.Unmarshal(raw, rec.Result); err != nil {
				return nil, fmt.Errorf("failed to decode result %d: %w", i, err)
			}
		}
		b.Records = append(b.Records, rec)
	}
	return b, nil
}

// Read loads a report file.
func Read(path string) (*model.BatchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// JSONWriter writes reports to a file. The file is replaced atomically, so a
// failed write leaves any previous report intact.
type JSONWriter struct {
	Path string
}

func (w JSONWriter) Write(ctx context.Context, b *model.BatchResult) error {
	if err := ctx.Err(); err != nil {
		return &model.WriteError{Destination: w.Path, Err: err}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		return &model.WriteError{Destination: w.Path, Err: err}
	}

	dir := filepath.Dir(w.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.Path)+".*.tmp")
	if err != nil {
		return &model.WriteError{Destination: w.Path, Err: err}
	}
	defer os.Remove(tmp.Name())

	err = tmp.Chmod(0o644)
	if err == nil {
		_, err = tmp.Write(buf.Bytes())
	}
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return &model.WriteError{Destination: w.Path, Err: err}
	}
	if err := os.Rename(tmp.Name(), w.Path); err != nil {
		return &model.WriteError{Destination: w.Path, Err: err}
	}
	return nil
}

// MultiWriter writes to every writer and returns all failures combined.
type MultiWriter []Writer

func (m MultiWriter) Write(ctx context.Context, b *model.BatchResult) error {
	var err error
	for _, w := range m {
		err = multierr.Append(err, w.Write(ctx, b))
	}
	return err
}
