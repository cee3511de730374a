package main

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

// maxRecordLine bounds a single JSONL line. Catalog feeds with megabyte
// descriptions are rejected at admission anyway, so 1 MiB is generous.
const maxRecordLine = 1 << 20

// loadRecord reads one product record from a JSON file.
func loadRecord(path string) (model.ProductRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ProductRecord{}, eris.Wrapf(err, "read record file %s", path)
	}

	var rec model.ProductRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.ProductRecord{}, eris.Wrapf(err, "parse record file %s", path)
	}
	return rec, nil
}

// loadRecords reads product records from a JSONL file, one JSON object per
// line. Blank lines are skipped.
func loadRecords(path string) ([]model.ProductRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open records file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var records []model.ProductRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec model.ProductRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, eris.Wrapf(err, "parse %s line %d", path, line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read records file %s", path)
	}

	return records, nil
}
