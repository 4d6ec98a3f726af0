package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tibiabot/pkg/logx"
)

// fileStore keeps the boosted state and dedup marks in one JSON document
// (<name>.json) and appends post records to <name>.posts.jsonl.
//
// Both state and dedup change at most a few times a day, so the document is
// rewritten in full on every write.
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	doc   fileDoc
	docAt string
	posts *os.File
}

type fileDoc struct {
	State *BoostedState    `json:"state,omitempty"`
	Dedup map[string]int64 `json:"dedup,omitempty"` // key -> unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if err := os.MkdirAll(filepath.Dir(stem), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, docAt: stem + ".json"}
	if err := s.readDoc(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.docAt, err)
	}
	if n := s.dropExpired(time.Now()); n > 0 {
		log.Debug("dropped expired dedup marks", logx.Int("count", n))
	}

	f, err := os.OpenFile(stem+".posts.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.posts = f
	return s, nil
}

func (s *fileStore) readDoc() error {
	b, err := os.ReadFile(s.docAt)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case len(strings.TrimSpace(string(b))) == 0:
		return nil
	}
	return json.Unmarshal(b, &s.doc)
}

func (s *fileStore) dropExpired(now time.Time) int {
	cut := now.UnixMilli()
	n := 0
	for k, until := range s.doc.Dedup {
		if until < cut {
			delete(s.doc.Dedup, k)
			n++
		}
	}
	return n
}

// flushLocked replaces the document via a temp file in the same directory.
func (s *fileStore) flushLocked() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.docAt), filepath.Base(s.docAt)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err = tmp.Write(b); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, s.docAt)
	}
	if err != nil {
		_ = os.Remove(name)
	}
	return err
}

func (s *fileStore) LoadState(context.Context) (BoostedState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.State == nil {
		return BoostedState{}, false, nil
	}
	return *s.doc.State, true, nil
}

func (s *fileStore) SaveState(_ context.Context, st BoostedState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.State = &st
	return s.flushLocked()
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Dedup == nil {
		s.doc.Dedup = make(map[string]int64)
	}
	s.dropExpired(time.Now())
	s.doc.Dedup[key] = until.UnixMilli()
	return s.flushLocked()
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.doc.Dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) AppendPost(_ context.Context, r PostRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts == nil {
		return ErrDisabled
	}
	_, err = s.posts.Write(append(line, '\n'))
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts == nil {
		return nil
	}
	err := s.posts.Close()
	s.posts = nil
	return err
}
