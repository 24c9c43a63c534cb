// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package archive keeps superseded cache documents, one file per catalog
// version.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/bonial-oss/kev-tracker/internal/atomicfile"
	"github.com/bonial-oss/kev-tracker/internal/logging"
)

const (
	filePrefix = "KEV_"
	fileSuffix = ".json"
)

// Sink receives the previous cache document before it is replaced.
type Sink interface {
	Archive(catalogVersion string, data []byte) error
}

// Entry is one archived document.
type Entry struct {
	Name string
	Path string
	Size int64
}

// DirSink writes archived documents into a directory.
type DirSink struct {
	fs  afero.Fs
	dir string
	log logrus.FieldLogger
}

// NewDirSink creates a sink rooted at dir. The directory is created on the
// first write.
func NewDirSink(fs afero.Fs, dir string, log logrus.FieldLogger) *DirSink {
	return &DirSink{fs: fs, dir: dir, log: logging.OrDiscard(log)}
}

// FileName returns the archive file name for a catalog version, e.g.
// "2024.05.01" becomes "KEV_20240501.json".
func FileName(catalogVersion string) string {
	var b strings.Builder
	for _, r := range catalogVersion {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return filePrefix + b.String() + fileSuffix
}

// Archive stores data under the name derived from catalogVersion. An
// existing archive for the same version is replaced.
func (s *DirSink) Archive(catalogVersion string, data []byte) error {
	path := filepath.Join(s.dir, FileName(catalogVersion))
	if err := atomicfile.Write(s.fs, path, data); err != nil {
		return fmt.Errorf("archiving catalog %s: %w", catalogVersion, err)
	}
	s.log.WithFields(logrus.Fields{"catalog_version": catalogVersion, "path": path}).Info("archived previous cache")
	return nil
}

// List returns the archived documents sorted by name. A missing directory
// yields no entries.
func (s *DirSink) List() ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading archive dir: %w", err)
	}

	var entries []Entry
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		entries = append(entries, Entry{Name: name, Path: filepath.Join(s.dir, name), Size: fi.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
