// Package fs implements attachment storage on a local directory. Each
// attachment is a data file plus a JSON sidecar holding its metadata.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"govcore/internal/infra/blob/core"
)

const sidecarSuffix = ".meta"

// Store keeps attachments under a root directory. Keys map to relative
// paths; writes stream through a temp file and move into place atomically.
type Store struct {
	root string
}

// New returns a filesystem attachment store rooted at path, creating the
// root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./attachments"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// sanitizeKey rejects traversal and absolute paths so a key can never escape
// the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty attachment key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("attachment key contains traversal")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("attachment key is absolute")
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("attachment key escapes root")
	}
	return clean, nil
}

func (s *Store) paths(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, k)
	metaPath = dataPath + sidecarSuffix
	return dataPath, metaPath, nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Checksum    string            `json:"checksum"`
	Size        int64             `json:"size"`
	UploadedAt  time.Time         `json:"uploaded_at"`
}

// Put stores a new attachment; the key must not already exist.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Attachment, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return core.Attachment{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return core.Attachment{}, fmt.Errorf("attachment %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return core.Attachment{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".upload-*")
	if err != nil {
		return core.Attachment{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		_ = tmp.Close()
		return core.Attachment{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Attachment{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return core.Attachment{}, err
	}
	now := time.Now().UTC()
	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		Size:        size,
		UploadedAt:  now,
	}
	if err := writeSidecar(metaPath, meta); err != nil {
		return core.Attachment{}, err
	}
	return s.attachment(key, meta), nil
}

// Get retrieves an attachment's metadata and content.
func (s *Store) Get(ctx context.Context, key string) (core.Attachment, io.ReadCloser, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return core.Attachment{}, nil, err
	}
	file, err := os.Open(dataPath)
	if err != nil {
		return core.Attachment{}, nil, err
	}
	meta, err := readSidecar(metaPath)
	if err != nil {
		_ = file.Close()
		return core.Attachment{}, nil, err
	}
	return s.attachment(key, meta), file, nil
}

// Head returns attachment metadata only.
func (s *Store) Head(ctx context.Context, key string) (core.Attachment, error) {
	_, metaPath, err := s.paths(key)
	if err != nil {
		return core.Attachment{}, err
	}
	meta, err := readSidecar(metaPath)
	if err != nil {
		return core.Attachment{}, err
	}
	return s.attachment(key, meta), nil
}

// Delete removes an attachment, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List returns attachments whose key carries the prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Attachment, error) {
	var out []core.Attachment
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, sidecarSuffix) {
			return nil
		}
		meta, err := readSidecar(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, sidecarSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			out = append(out, s.attachment(key, meta))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL returns a stable local pseudo URL; only GET is supported.
func (s *Store) PresignURL(ctx context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	return localURL(key), nil
}

func (s *Store) attachment(key string, meta sidecar) core.Attachment {
	return core.Attachment{
		Key:         key,
		Size:        meta.Size,
		ContentType: meta.ContentType,
		Checksum:    meta.Checksum,
		Metadata:    cloneMetadata(meta.Metadata),
		UploadedAt:  meta.UploadedAt,
		URL:         localURL(key),
	}
}

func localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.attachments", Path: "/" + key}).String()
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeSidecar(path string, meta sidecar) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o640)
}

func readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, err
	}
	return meta, nil
}
