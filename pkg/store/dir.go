package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/xhad/danfe/internal/models"
)

const DefaultArchiveName = "xmls_meudanfe.zip"

// Dir writes artifacts into one destination directory, named after the key.
type Dir struct {
	Path string
}

func NewDir(path string) *Dir {
	return &Dir{Path: path}
}

// Prepare creates the directory and removes artifacts of a previous run.
func (d *Dir) Prepare() error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, kind := range []models.ArtifactKind{models.ArtifactPrimary, models.ArtifactSecondary} {
		matches, err := filepath.Glob(filepath.Join(d.Path, "*"+kind.Extension()))
		if err != nil {
			return fmt.Errorf("failed to list old artifacts: %w", err)
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return nil
}

// Save implements types.Sink.
func (d *Dir) Save(_ context.Context, _ string, outcome models.Outcome) error {
	_, err := d.Write(outcome)
	return err
}

// Write stores the artifacts present in outcome and returns their paths.
func (d *Dir) Write(outcome models.Outcome) ([]string, error) {
	var written []string
	artifacts := []struct {
		kind models.ArtifactKind
		data []byte
	}{
		{models.ArtifactPrimary, outcome.Primary},
		{models.ArtifactSecondary, outcome.Secondary},
	}

	for _, a := range artifacts {
		if a.data == nil {
			continue
		}
		path := filepath.Join(d.Path, outcome.Key.String()+a.kind.Extension())
		if err := os.WriteFile(path, a.data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
		written = append(written, path)
	}
	return written, nil
}

// Archive bundles every regular file in the directory, except the archive
// itself, into a deflate-compressed zip and returns its path.
func (d *Dir) Archive(name string) (string, error) {
	if name == "" {
		name = DefaultArchiveName
	}
	archivePath := filepath.Join(d.Path, name)

	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return "", fmt.Errorf("failed to list output directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.Path, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == name || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := addFile(zw, filepath.Join(d.Path, entry.Name())); err != nil {
			zw.Close()
			tmp.Close()
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	return archivePath, nil
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", header.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to add %s: %w", header.Name, err)
	}
	return nil
}
