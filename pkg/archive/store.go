// Package archive keeps a local, content-addressed record of generated
// answers and the request outcomes that produced them.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Ref points to one stored object.
type Ref struct {
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
	Path   string `json:"path"`
}

// Store manages the archive directory.
type Store struct {
	BasePath string
	now      func() time.Time
}

// NewStore creates the archive layout under basePath, defaulting to
// ~/.medorch/archive.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".medorch", "archive")
	}

	for _, d := range []string{"objects", "records"} {
		if err := os.MkdirAll(filepath.Join(basePath, d), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive dir: %w", err)
		}
	}
	return &Store{BasePath: basePath, now: time.Now}, nil
}

// StoreObject stores a JSON object by its SHA256 content hash in a sharded
// directory. Storing the same object twice yields the same ref.
func (s *Store) StoreObject(obj any, kind string) (Ref, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	dir := filepath.Join(s.BasePath, "objects", hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, err
	}
	path := filepath.Join(dir, hash+".json")
	if _, err := os.Stat(path); err == nil {
		return Ref{Kind: kind, SHA256: hash, Path: path}, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Ref{}, err
	}
	return Ref{Kind: kind, SHA256: hash, Path: path}, nil
}

// StoreRecord writes a human-readable record named timestamp__id.json under
// records/<kind>.
func (s *Store) StoreRecord(kind, id string, obj any) (string, error) {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s record: %w", kind, err)
	}

	dir := filepath.Join(s.BasePath, "records", kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s__%s.json", s.now().UTC().Format("20060102150405"), id)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadObject reads a stored object back by hash.
func (s *Store) LoadObject(hash string, into any) error {
	if len(hash) < 2 {
		return fmt.Errorf("invalid object hash %q", hash)
	}
	data, err := os.ReadFile(filepath.Join(s.BasePath, "objects", hash[:2], hash+".json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}
