// Package catalog loads song tables from CSV and prepares them for graph
// construction.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrNotFound indicates that an input file does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID indicates that two rows share the same song identifier.
var ErrDuplicateID = errors.New("duplicate song identifier")

// ErrInvalidRow indicates a row that cannot be turned into a song record.
var ErrInvalidRow = errors.New("invalid row")

// Accepted header names for the non-feature columns, in priority order.
var (
	IDColumns     = []string{"id", "track_id"}
	NameColumns   = []string{"name", "track_name"}
	ArtistColumns = []string{"artist", "artists"}
	GenreColumns  = []string{"genre", "track_genre"}
)

// Song is one catalog row. A feature that was empty or non-numeric in the
// source row is absent from Features.
type Song struct {
	ID       string
	Name     string
	Artist   string
	Genre    string
	Features map[string]float64
}

// Feature returns the named feature value and whether it is present.
func (s Song) Feature(name string) (float64, bool) {
	v, ok := s.Features[name]
	return v, ok
}

// Table is an ordered set of songs plus the header it was read with.
type Table struct {
	Columns []string
	Songs   []Song
}

// HasColumn reports whether the table header contains name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of songs.
func (t *Table) Len() int {
	return len(t.Songs)
}

// LoadCSV reads a song table from a CSV file with a header row.
// Header names are matched case-insensitively. When the file has no
// identifier column, the zero-based row index is used as the identifier.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("song table %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open song table: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV reads a song table from r. See LoadCSV.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return &Table{Columns: []string{}, Songs: []Song{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := normalizeHeader(header)
	idIdx := columnIndex(columns, IDColumns)
	nameIdx := columnIndex(columns, NameColumns)
	artistIdx := columnIndex(columns, ArtistColumns)
	genreIdx := columnIndex(columns, GenreColumns)

	meta := map[int]bool{idIdx: true, nameIdx: true, artistIdx: true, genreIdx: true}

	table := &Table{Columns: columns, Songs: make([]Song, 0)}
	seen := make(map[string]int)

	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", row, err)
		}

		song := Song{Features: make(map[string]float64)}
		if idIdx >= 0 {
			song.ID = cell(record, idIdx)
			if song.ID == "" {
				return nil, fmt.Errorf("row %d: empty identifier: %w", row, ErrInvalidRow)
			}
		} else {
			song.ID = strconv.Itoa(row)
		}
		song.Name = cell(record, nameIdx)
		song.Artist = cell(record, artistIdx)
		song.Genre = cell(record, genreIdx)

		for i, col := range columns {
			if meta[i] {
				continue
			}
			raw := cell(record, i)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			song.Features[col] = v
		}

		if first, dup := seen[song.ID]; dup {
			return nil, fmt.Errorf("id %q on rows %d and %d: %w", song.ID, first, row, ErrDuplicateID)
		}
		seen[song.ID] = row
		table.Songs = append(table.Songs, song)
	}

	return table, nil
}

func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	return columns
}

// columnIndex returns the index of the first alias present, or -1.
func columnIndex(columns []string, aliases []string) int {
	for _, alias := range aliases {
		for i, c := range columns {
			if c == alias {
				return i
			}
		}
	}
	return -1
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
