// Package memory implements an in-memory attachment store for tests.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"govcore/internal/infra/blob/core"
)

type entry struct {
	info core.Attachment
	data []byte
}

// Store keeps attachments in process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string]entry
}

// New returns an empty in-memory attachment store.
func New() *Store { return &Store{objs: make(map[string]entry)} }

// Driver returns the backend identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a new attachment; the key must not already exist.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return core.Attachment{}, fmt.Errorf("attachment %s already exists", key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Attachment{}, err
	}
	sum := sha256.Sum256(data)
	info := core.Attachment{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Checksum:    hex.EncodeToString(sum[:]),
		Metadata:    cloneMetadata(opts.Metadata),
		UploadedAt:  time.Now().UTC(),
	}
	s.objs[key] = entry{info: info, data: data}
	return info, nil
}

// Get returns attachment metadata and content.
func (s *Store) Get(_ context.Context, key string) (core.Attachment, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Attachment{}, nil, fmt.Errorf("attachment %s not found", key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns attachment metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Attachment, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Attachment{}, fmt.Errorf("attachment %s not found", key)
	}
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

// Delete removes an attachment, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

// List returns attachments whose key carries the prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Attachment, 0, len(s.objs))
	for key, obj := range s.objs {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		info := obj.info
		info.Metadata = cloneMetadata(info.Metadata)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL is unsupported for the memory driver.
func (s *Store) PresignURL(_ context.Context, _ string, _ core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
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
