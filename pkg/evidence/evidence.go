// Package evidence persists per-run artifacts and their SHA256 digests.
package evidence

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Artifact file names inside a run directory.
const (
	TraceFile      = "trace.jsonl"
	ScreenshotFile = "screenshot.png"
	ResultFile     = "result.json"
	ManifestFile   = "manifest.json"
)

// RunManifest is the content of manifest.json: digests of a run's artifacts
// taken after the run finished.
type RunManifest struct {
	RunID     string     `json:"run_id"`
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact describes one stored file.
type Artifact struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Store writes artifacts under <root>/runs/<run_id>/. It implements
// engine.ArtifactStore.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// RunDir is the directory holding runID's artifacts.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, "runs", runID)
}

func (s *Store) ensureRunDir(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// OpenTrace creates the run's trace file.
func (s *Store) OpenTrace(runID string) (io.WriteCloser, error) {
	dir, err := s.ensureRunDir(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, TraceFile))
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	return f, nil
}

// SaveScreenshot writes png and returns its path.
func (s *Store) SaveScreenshot(runID string, png []byte) (string, error) {
	dir, err := s.ensureRunDir(runID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ScreenshotFile)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// SaveResult writes v as indented JSON and returns its path.
func (s *Store) SaveResult(runID string, v any) (string, error) {
	dir, err := s.ensureRunDir(runID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	path := filepath.Join(dir, ResultFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}

// LoadResult decodes a stored result.json into v.
func (s *Store) LoadResult(runID string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), ResultFile))
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

// Manifest hashes every known artifact present for runID.
func (s *Store) Manifest(runID string) ([]Artifact, error) {
	kinds := map[string]string{
		TraceFile:      "trace",
		ScreenshotFile: "screenshot",
		ResultFile:     "result",
	}
	var out []Artifact
	for name, kind := range kinds {
		path := filepath.Join(s.RunDir(runID), name)
		a, err := NewArtifact(kind, path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no artifacts for run %s", runID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// Seal writes manifest.json for runID and returns its path. It implements
// engine.ArtifactStore and runs once the trace is closed.
func (s *Store) Seal(runID string) (string, error) {
	dir, err := s.ensureRunDir(runID)
	if err != nil {
		return "", err
	}
	artifacts, err := s.Manifest(runID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(RunManifest{RunID: runID, Artifacts: artifacts}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// LoadManifest reads runID's manifest.json.
func (s *Store) LoadManifest(runID string) (*RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Check re-hashes every artifact listed in m and returns the kinds whose
// digest no longer matches, including missing files.
func Check(m *RunManifest) []string {
	var changed []string
	for _, a := range m.Artifacts {
		hash, _, err := HashFile(a.Path)
		if err != nil || hash != a.SHA256 {
			changed = append(changed, a.Kind)
		}
	}
	return changed
}

// NewArtifact describes the file at path with its SHA256 hash.
func NewArtifact(kind, path string) (*Artifact, error) {
	hash, size, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", kind, err)
	}
	return &Artifact{
		Kind:   kind,
		Path:   path,
		SHA256: hash,
		Size:   size,
	}, nil
}

// HashFile computes SHA256 hash and file size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}

	return fmt.Sprintf("%x", h.Sum(nil)), size, nil
}
