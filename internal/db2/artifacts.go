package db2

import (
	"crypto/sha256"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// Artifact is one file produced by the backup.
type Artifact struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`
	ModTime  time.Time `json:"mod_time"`
}

// ArtifactSet is the outcome of an executor run.
type ArtifactSet struct {
	Session   *Session   `json:"session"`
	Artifacts []Artifact `json:"artifacts"`
	// Relocated is set when the files were found in the parent directory
	// instead of the session directory.
	Relocated bool      `json:"relocated,omitempty"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// TotalSize sums the artifact sizes.
func (s *ArtifactSet) TotalSize() int64 {
	var total int64
	for _, a := range s.Artifacts {
		total += a.Size
	}
	return total
}

func (s *ArtifactSet) warn(kind WarningKind, manual bool, format string, args ...any) {
	s.Warnings = append(s.Warnings, Warning{Kind: kind, Message: fmt.Sprintf(format, args...), Manual: manual})
}

// listArtifacts returns the regular files directly under dir modified at or
// after since and accepted by match (nil accepts all), sized and checksummed.
func listArtifacts(fs afero.Fs, dir string, since time.Time, match func(name string) bool) ([]Artifact, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var artifacts []Artifact
	for _, fi := range entries {
		if !fi.Mode().IsRegular() || fi.ModTime().Before(since) {
			continue
		}
		if match != nil && !match(fi.Name()) {
			continue
		}
		path := filepath.Join(dir, fi.Name())
		sum, err := checksum(fs, path)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{
			Path:     path,
			Name:     fi.Name(),
			Size:     fi.Size(),
			Checksum: sum,
			ModTime:  fi.ModTime(),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func checksum(fs afero.Fs, path string) (string, error) {
	file, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
