// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"encoding/json"
	"fmt"

	"github.com/bonial-oss/kev-tracker/internal/cache"
	"github.com/bonial-oss/kev-tracker/internal/datasource/kev"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

type Format int

const (
	// FormatCatalog is the upstream KEV catalog as published by CISA.
	FormatCatalog Format = iota
	// FormatDocument is an enriched cache or archive document.
	FormatDocument
)

func (f Format) String() string {
	if f == FormatDocument {
		return "document"
	}
	return "catalog"
}

type ParseResult struct {
	Format   Format
	Snapshot *types.Snapshot
}

// Parse detects the format of a local file and decodes it into a snapshot.
// Catalog records carry no scores.
func Parse(data []byte) (*ParseResult, error) {
	// Probe the JSON to detect format
	var probe struct {
		CatalogVersion  string          `json:"catalogVersion"`
		Vulnerabilities json.RawMessage `json:"vulnerabilities"`
		ProcessedData   json.RawMessage `json:"processed_data"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}

	if probe.ProcessedData != nil {
		snap, err := cache.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("parsing cache document: %w", err)
		}
		return &ParseResult{Format: FormatDocument, Snapshot: snap}, nil
	}

	if probe.Vulnerabilities != nil {
		feed, err := kev.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing KEV catalog: %w", err)
		}
		return &ParseResult{
			Format:   FormatCatalog,
			Snapshot: &types.Snapshot{CatalogVersion: feed.CatalogVersion, Records: feed.Records},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized input format: not a KEV catalog or cache document")
}
