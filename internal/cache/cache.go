// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/bonial-oss/kev-tracker/internal/archive"
	"github.com/bonial-oss/kev-tracker/internal/atomicfile"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

// QuarantineSuffix is appended to a cache file that could not be loaded.
const QuarantineSuffix = ".corrupt"

// Status is the outcome of loading the cache.
type Status int

const (
	StatusAbsent Status = iota
	StatusLoaded
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "absent"
	}
}

// LoadResult is returned by Store.Load. Snapshot is set only for
// StatusLoaded. For StatusCorrupt, Err wraps types.ErrCacheCorrupt and
// QuarantinePath names where the bad file was moved, if the move succeeded.
type LoadResult struct {
	Status         Status
	Snapshot       *types.Snapshot
	Err            error
	QuarantinePath string
}

// Info describes the cache file on disk.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store persists the enriched dataset as a single JSON document.
type Store struct {
	fs   afero.Fs
	path string
	sink archive.Sink
	log  logrus.FieldLogger
}

// New creates a Store for the document at path. sink receives the previous
// document on every save and may be nil.
func New(fs afero.Fs, path string, sink archive.Sink, log logrus.FieldLogger) *Store {
	return &Store{fs: fs, path: path, sink: sink, log: logging.OrDiscard(log)}
}

// Path returns the canonical cache location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cached snapshot. It never fails hard: a missing file is
// StatusAbsent, and an unreadable or malformed file is quarantined and
// reported as StatusCorrupt.
func (s *Store) Load() LoadResult {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadResult{Status: StatusAbsent}
		}
		return s.quarantine(fmt.Errorf("%w: reading %s: %w", types.ErrCacheCorrupt, s.path, err))
	}

	snap, err := decode(data)
	if err != nil {
		return s.quarantine(err)
	}
	return LoadResult{Status: StatusLoaded, Snapshot: snap}
}

func (s *Store) quarantine(cause error) LoadResult {
	res := LoadResult{Status: StatusCorrupt, Err: cause}
	target := s.path + QuarantineSuffix
	log := s.log.WithField("path", s.path).WithError(cause)

	if err := s.fs.Rename(s.path, target); err != nil {
		log.WithField("rename_error", err.Error()).Warn("cache file is corrupt and could not be quarantined")
		return res
	}
	res.QuarantinePath = target
	log.WithField("quarantine", target).Warn("cache file is corrupt, moved aside")
	return res
}

// Save replaces the cached document with snap. The previous document, if
// any, is handed to the archive sink first; archiving problems are logged
// and do not prevent the save. Write failures wrap types.ErrPersistence and
// leave the previous document in place.
func (s *Store) Save(snap *types.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot: %w", types.ErrPersistence, err)
	}

	s.archivePrevious()

	if err := atomicfile.Write(s.fs, s.path, data); err != nil {
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}
	s.log.WithFields(logrus.Fields{
		"path":            s.path,
		"catalog_version": snap.CatalogVersion,
		"records":         len(snap.Records),
	}).Debug("cache saved")
	return nil
}

func (s *Store) archivePrevious() {
	if s.sink == nil {
		return
	}
	prev, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("path", s.path).Warn("could not read previous cache for archiving")
		}
		return
	}

	version, err := peekVersion(prev)
	if err != nil {
		s.log.WithError(err).WithField("path", s.path).Warn("previous cache has no catalog version, not archived")
		return
	}
	if err := s.sink.Archive(version, prev); err != nil {
		s.log.WithError(err).WithField("catalog_version", version).Warn("archiving previous cache failed")
	}
}

// Info returns the size and modification time of the cache file. The error
// satisfies errors.Is(err, os.ErrNotExist) when there is no cache.
func (s *Store) Info() (Info, error) {
	fi, err := s.fs.Stat(s.path)
	if err != nil {
		return Info{}, err
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}
