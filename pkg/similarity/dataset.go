package similarity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/ammar0144/recsync/pkg/errs"
)

// Dataset columns
const (
	ColumnID          = "id"
	ColumnTitle       = "title"
	ColumnDescription = "description"
	ColumnCategories  = "categories"
	ColumnTags        = "tags"

	// accepted in place of categories
	columnCategoryAlias = "category"
)

// DataFormatError reports a malformed or incomplete dataset
type DataFormatError struct {
	Path   string
	Line   int // 0 when the problem is not tied to a row
	Reason string
}

func (e *DataFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("dataset %s line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("dataset %s: %s", e.Path, e.Reason)
}

func (e *DataFormatError) Unwrap() error {
	return errs.ErrDataFormat
}

// Item is one dataset row reduced to its id and text blob
type Item struct {
	ID   int64
	Text string
}

type columnIndex struct {
	id, title, description, categories, tags int
}

// LoadDataset reads the CSV at path. Missing trailing fields are read as empty
// strings. Fails with *DataFormatError on a missing column, a bad or duplicate
// id, and with errs.ErrDatasetRead when the file cannot be read.
func LoadDataset(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDatasetRead, err)
	}
	defer f.Close()

	return readDataset(path, f)
}

func readDataset(path string, r io.Reader) ([]Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &DataFormatError{Path: path, Reason: "empty file, header row is missing"}
	}
	if err != nil {
		return nil, readError(path, err)
	}

	cols, err := indexColumns(path, header)
	if err != nil {
		return nil, err
	}

	var items []Item
	seen := make(map[int64]int)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(path, err)
		}
		line, _ := reader.FieldPos(0)

		rawID := strings.TrimSpace(field(row, cols.id))
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, &DataFormatError{Path: path, Line: line, Reason: fmt.Sprintf("invalid id %q", rawID)}
		}
		if first, dup := seen[id]; dup {
			return nil, &DataFormatError{Path: path, Line: line, Reason: fmt.Sprintf("duplicate id %d, first seen on line %d", id, first)}
		}
		seen[id] = line

		items = append(items, Item{
			ID: id,
			Text: strings.Join([]string{
				field(row, cols.title),
				field(row, cols.description),
				field(row, cols.categories),
				field(row, cols.tags),
			}, " "),
		})
	}

	return items, nil
}

func indexColumns(path string, header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}
	if _, ok := pos[ColumnCategories]; !ok {
		if i, alias := pos[columnCategoryAlias]; alias {
			pos[ColumnCategories] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := pos[name]
		if !ok {
			missing = append(missing, name)
		}
		return i
	}
	cols := columnIndex{
		id:          lookup(ColumnID),
		title:       lookup(ColumnTitle),
		description: lookup(ColumnDescription),
		categories:  lookup(ColumnCategories),
		tags:        lookup(ColumnTags),
	}
	if len(missing) > 0 {
		return cols, &DataFormatError{Path: path, Reason: "missing required columns: " + strings.Join(missing, ", ")}
	}
	return cols, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// readError separates malformed CSV from I/O failures
func readError(path string, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &DataFormatError{Path: path, Line: perr.Line, Reason: perr.Err.Error()}
	}
	return fmt.Errorf("%w: %s: %w", errs.ErrDatasetRead, path, err)
}

// Fingerprint hashes the dataset content. Job results and statuses carry it
// so that repeated uploads of the same file can be told apart from new data.
func Fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrDatasetRead, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrDatasetRead, err)
	}
	return h.Sum64(), nil
}
