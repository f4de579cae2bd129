package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scythe504/whosetrack-backend/internal"
)

// ReadCSV parses a library export with the columns
// id,name,explicit,uri,duration_ms. A header row is allowed. Rows that
// cannot be parsed are skipped and logged.
func ReadCSV(r io.Reader) ([]internal.Item, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var out []internal.Item
	for i, record := range records {
		if i == 0 && len(record) > 0 && strings.EqualFold(record[0], "id") {
			continue
		}
		if len(record) < 2 {
			log.Println("[ReadCSV] skipping invalid record:", record)
			continue
		}

		item := internal.Item{
			ID:   strings.TrimSpace(record[0]),
			Name: strings.TrimSpace(record[1]),
		}
		if len(record) > 2 && record[2] != "" {
			explicit, err := strconv.ParseBool(record[2])
			if err != nil {
				log.Println("[ReadCSV] invalid explicit value:", record[2], "in record", record)
				continue
			}
			item.Explicit = explicit
		}
		if len(record) > 3 {
			item.URI = strings.TrimSpace(record[3])
		}
		if len(record) > 4 && record[4] != "" {
			ms, err := strconv.Atoi(record[4])
			if err != nil {
				log.Println("[ReadCSV] invalid duration value:", record[4], "in record", record)
				continue
			}
			item.DurationMs = ms
		}
		if !item.Valid() {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// DirFetcher serves each cache key from <dir>/<key>.csv. A missing file is
// an empty origin, not an error.
func DirFetcher(dir string) FetchFunc {
	return func(_ context.Context, key string) ([]internal.Item, error) {
		f, err := os.Open(filepath.Join(dir, key+".csv"))
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(f)
	}
}
