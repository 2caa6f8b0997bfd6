package restore

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// gzip member header magic bytes.
const (
	gzipMagic0 = 0x1f
	gzipMagic1 = 0x8b
)

// openArtifact wraps the raw object stream, transparently decompressing
// when the first two bytes carry the gzip magic. Sniffing the content is
// deliberate: transport layers may auto-decompress, so a declared encoding
// or filename extension cannot be trusted.
func openArtifact(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && len(magic) == 2 && magic[0] == gzipMagic0 && magic[1] == gzipMagic1 {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, nil
	}
	return br, nil
}

// Scanner streams a backup artifact without loading it into memory. The
// artifact is {version, exported_at, tables:{name:[row,...],...}}; the
// scanner positions itself inside the tables object and then yields one
// table at a time, each table one row at a time, in document order.
type Scanner struct {
	dec       *json.Decoder
	version   string
	tableOpen bool
	done      bool
}

// NewScanner consumes the document header up to the tables object. Top
// level fields other than version are skipped.
func NewScanner(r io.Reader) (*Scanner, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("malformed backup document: %w", err)
	}

	s := &Scanner{dec: dec}
	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("malformed backup document: %w", err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("malformed backup document: unexpected token %v", keyToken)
		}
		switch key {
		case "version":
			if err := dec.Decode(&s.version); err != nil {
				return nil, fmt.Errorf("reading backup version: %w", err)
			}
		case "tables":
			if err := expectDelim(dec, '{'); err != nil {
				return nil, fmt.Errorf("malformed tables object: %w", err)
			}
			return s, nil
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("skipping field %s: %w", key, err)
			}
		}
	}
	return nil, fmt.Errorf("backup document has no tables object")
}

// Version returns the document's declared format version, empty when the
// field preceded nothing or was absent before the tables object.
func (s *Scanner) Version() string {
	return s.version
}

// NextTable advances to the next table in document order. Returns ok=false
// when the tables object is exhausted. Any unread rows of the current
// table are consumed first.
func (s *Scanner) NextTable() (string, bool, error) {
	if s.done {
		return "", false, nil
	}
	if s.tableOpen {
		for s.dec.More() {
			var skip json.RawMessage
			if err := s.dec.Decode(&skip); err != nil {
				return "", false, fmt.Errorf("skipping rows: %w", err)
			}
		}
		if err := expectDelim(s.dec, ']'); err != nil {
			return "", false, fmt.Errorf("malformed table array: %w", err)
		}
		s.tableOpen = false
	}

	if !s.dec.More() {
		s.done = true
		return "", false, nil
	}
	nameToken, err := s.dec.Token()
	if err != nil {
		return "", false, fmt.Errorf("reading table name: %w", err)
	}
	name, ok := nameToken.(string)
	if !ok {
		return "", false, fmt.Errorf("malformed tables object: unexpected token %v", nameToken)
	}
	if err := expectDelim(s.dec, '['); err != nil {
		return "", false, fmt.Errorf("table %s is not an array: %w", name, err)
	}
	s.tableOpen = true
	return name, true, nil
}

// More reports whether the current table has unread rows.
func (s *Scanner) More() bool {
	return s.tableOpen && s.dec.More()
}

// Row decodes the next row of the current table. Numbers decode as
// json.Number so integer ids survive untruncated.
func (s *Scanner) Row() (map[string]any, error) {
	var row map[string]any
	if err := s.dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	return row, nil
}

// SkipRow consumes the next row without decoding it into a map.
func (s *Scanner) SkipRow() error {
	var skip json.RawMessage
	if err := s.dec.Decode(&skip); err != nil {
		return fmt.Errorf("skipping row: %w", err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	token, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := token.(json.Delim)
	if !ok || rune(delim) != want {
		return fmt.Errorf("expected %q, got %v", want, token)
	}
	return nil
}

// normalizeValue converts decoded JSON values into types the SQL drivers
// accept directly. Nested objects and arrays are re-marshaled to text.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case string, bool:
		return value
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return string(data)
	}
}
