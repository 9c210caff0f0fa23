// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package storagefile is the default Storage backend for the update
// checker: a single JSON document on an afero.Fs, guarded by a mutex so
// concurrent readers never observe a half-written document.
package storagefile

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/spf13/afero"
)

var log = logger.Logger()

// document is the on-disk shape: two flat maps, one per persisted value
// type (see spec §3's persisted keys).
type document struct {
	Strings map[string]string `json:"strings"`
	Ints    map[string]int64  `json:"ints"`
}

// Storage is a mutex-guarded JSON document on an afero.Fs. Set operations
// only mutate the in-memory document; Commit flushes it to disk.
type Storage struct {
	fs   afero.Fs
	path string

	mu  sync.Mutex
	doc document
}

// New loads (or initializes) the JSON document at path on fs. A missing
// file is treated as an empty document.
func New(fs afero.Fs, path string) (*Storage, error) {
	s := &Storage{fs: fs, path: path, doc: document{Strings: map[string]string{}, Ints: map[string]int64{}}}

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("storage file %s does not exist, starting empty", path)
			return s, nil
		}
		log.Errorf("reading storage file %s failed: %v", path, err)
		return nil, err
	}
	if len(content) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		log.Errorf("unmarshaling storage file %s failed: %v", path, err)
		return nil, err
	}
	if doc.Strings == nil {
		doc.Strings = map[string]string{}
	}
	if doc.Ints == nil {
		doc.Ints = map[string]int64{}
	}
	s.doc = doc
	return s, nil
}

func (s *Storage) GetString(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Strings[key]
	return v, ok, nil
}

func (s *Storage) GetInt(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Ints[key]
	return v, ok, nil
}

func (s *Storage) SetString(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Strings[key] = value
	return nil
}

func (s *Storage) SetInt(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Ints[key] = value
	return nil
}

func (s *Storage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Strings, key)
	delete(s.doc.Ints, key)
	return nil
}

// Commit serializes the in-memory document and writes it to the backing
// afero.Fs. The lock is held only for the marshal+write, never across an
// await, matching §5's "brief commit window" requirement.
func (s *Storage) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := json.Marshal(s.doc)
	if err != nil {
		log.Errorf("marshaling storage document failed: %v", err)
		return err
	}
	if err := afero.WriteFile(s.fs, s.path, content, 0o600); err != nil {
		log.Errorf("writing storage file %s failed: %v", s.path, err)
		return err
	}
	return nil
}
