// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/scylladb/go-set/strset"

	"github.com/bonial-oss/kev-tracker/internal/types"
)

// Columns of the persisted table, named after the record's JSON fields.
var Columns = []string{
	"cveID",
	"vendorProject",
	"product",
	"vulnerabilityName",
	"dateAdded",
	"shortDescription",
	"requiredAction",
	"dueDate",
	"knownRansomwareCampaignUse",
	"notes",
	"cwes",
	"EPSS",
	"CVSS3",
}

const idColumn = "cveID"

// document is the on-disk layout. Records are stored column-wise: each
// column maps a row index to that row's value.
type document struct {
	CatalogVersion string                                `json:"catalogVersion"`
	SnapshotTime   time.Time                             `json:"snapshotTime"`
	ProcessedData  map[string]map[string]json.RawMessage `json:"processed_data"`
}

func encode(snap *types.Snapshot) ([]byte, error) {
	doc := document{
		CatalogVersion: snap.CatalogVersion,
		SnapshotTime:   snap.SnapshotTime.UTC(),
		ProcessedData:  make(map[string]map[string]json.RawMessage, len(Columns)),
	}
	for _, col := range Columns {
		doc.ProcessedData[col] = make(map[string]json.RawMessage, len(snap.Records))
	}

	for i, rec := range snap.Records {
		row := strconv.Itoa(i)
		fields, err := recordFields(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", rec.CVEID, err)
		}
		for _, col := range Columns {
			v, ok := fields[col]
			if !ok {
				v = json.RawMessage("null")
			}
			doc.ProcessedData[col][row] = v
		}
	}
	return json.Marshal(doc)
}

func recordFields(rec types.Record) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Decode parses a cache or archive document. Errors wrap
// types.ErrCacheCorrupt.
func Decode(data []byte) (*types.Snapshot, error) {
	return decode(data)
}

func decode(data []byte) (*types.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCacheCorrupt, err)
	}
	if doc.CatalogVersion == "" {
		return nil, fmt.Errorf("%w: missing catalogVersion", types.ErrCacheCorrupt)
	}
	if doc.ProcessedData == nil {
		return nil, fmt.Errorf("%w: missing processed_data", types.ErrCacheCorrupt)
	}
	ids, ok := doc.ProcessedData[idColumn]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s column", types.ErrCacheCorrupt, idColumn)
	}

	rows, err := rowOrder(ids)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, len(rows))
	seenIDs := strset.NewWithSize(len(rows))
	for _, row := range rows {
		fields := make(map[string]json.RawMessage, len(Columns))
		for _, col := range Columns {
			if v, ok := doc.ProcessedData[col][row]; ok {
				fields[col] = v
			}
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: row %s: %w", types.ErrCacheCorrupt, row, err)
		}
		var rec types.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: row %s: %w", types.ErrCacheCorrupt, row, err)
		}
		if rec.CVEID == "" {
			return nil, fmt.Errorf("%w: row %s has no cveID", types.ErrCacheCorrupt, row)
		}
		if seenIDs.Has(rec.CVEID) {
			return nil, fmt.Errorf("%w: row %s repeats %s", types.ErrCacheCorrupt, row, rec.CVEID)
		}
		seenIDs.Add(rec.CVEID)
		records = append(records, rec)
	}

	return &types.Snapshot{
		CatalogVersion: doc.CatalogVersion,
		SnapshotTime:   doc.SnapshotTime,
		Records:        records,
	}, nil
}

// rowOrder returns the row keys of a column in numeric order.
func rowOrder(col map[string]json.RawMessage) ([]string, error) {
	type keyed struct {
		key string
		idx int
	}
	rows := make([]keyed, 0, len(col))
	seen := make(map[int]string, len(col))
	for k := range col {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: invalid row key %q", types.ErrCacheCorrupt, k)
		}
		if prev, ok := seen[idx]; ok {
			return nil, fmt.Errorf("%w: row keys %q and %q name the same row", types.ErrCacheCorrupt, prev, k)
		}
		seen[idx] = k
		rows = append(rows, keyed{key: k, idx: idx})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].idx < rows[j].idx })

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.key
	}
	return out, nil
}

// peekVersion extracts only the catalog version of a cache document.
func peekVersion(data []byte) (string, error) {
	var head struct {
		CatalogVersion string `json:"catalogVersion"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	if head.CatalogVersion == "" {
		return "", fmt.Errorf("missing catalogVersion")
	}
	return head.CatalogVersion, nil
}
