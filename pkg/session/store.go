package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skiffbot/skiff/pkg/logger"
)

const maxLineBytes = 4 * 1024 * 1024

// metadataLine is the first line of every session file.
type metadataLine struct {
	Type      string   `json:"_type"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Metadata  Metadata `json:"metadata"`
}

// SessionInfo summarizes a persisted session without loading its messages.
type SessionInfo struct {
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Path      string `json:"path"`
}

// Store persists sessions as JSONL files, one file per origin. A corrupt
// file is treated as absent so a broken session never wedges the agent.
type Store struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Session
}

func NewStore(dir string) *Store {
	if dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	return &Store{
		dir:   dir,
		cache: make(map[string]*Session),
	}
}

// sanitizeFilename converts a session key into a cross-platform safe
// filename. Keys use "channel:chat_id" but ':' is the volume separator on
// Windows, so it becomes '_'.
func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

func (st *Store) sessionPath(key string) (string, error) {
	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return "", os.ErrInvalid
	}
	return filepath.Join(st.dir, filename+".jsonl"), nil
}

func (st *Store) GetOrCreate(key string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.cache[key]; ok {
		return sess
	}

	sess := st.load(key)
	if sess == nil {
		sess = NewSession(key)
	}
	st.cache[key] = sess
	return sess
}

func (st *Store) load(key string) *Session {
	if st.dir == "" {
		return nil
	}

	path, err := st.sessionPath(key)
	if err != nil {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	sess := NewSession(key)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var header struct {
			Type string `json:"_type"`
		}
		if err := json.Unmarshal(line, &header); err != nil {
			logger.WarnCF("session", "Failed to load session, starting fresh", map[string]any{
				"session": key,
				"error":   err.Error(),
			})
			return nil
		}

		if header.Type == "metadata" {
			var meta metadataLine
			if err := json.Unmarshal(line, &meta); err != nil {
				continue
			}
			sess.Metadata = meta.Metadata
			if t, err := time.Parse(time.RFC3339, meta.CreatedAt); err == nil {
				sess.CreatedAt = t
			}
			if t, err := time.Parse(time.RFC3339, meta.UpdatedAt); err == nil {
				sess.UpdatedAt = t
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.WarnCF("session", "Failed to load session, starting fresh", map[string]any{
				"session": key,
				"error":   err.Error(),
			})
			return nil
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		logger.WarnCF("session", "Failed to load session, starting fresh", map[string]any{
			"session": key,
			"error":   err.Error(),
		})
		return nil
	}

	return sess
}

// Save writes the session atomically: content goes to a temp file in the
// same directory, then a rename replaces the previous file.
func (st *Store) Save(sess *Session) error {
	if st.dir == "" {
		return nil
	}

	path, err := st.sessionPath(sess.Key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(metadataLine{
		Type:      "metadata",
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
		Metadata:  sess.Metadata,
	}); err != nil {
		return err
	}
	for _, msg := range sess.Messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}

	tmpFile, err := os.CreateTemp(st.dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false

	st.mu.Lock()
	st.cache[sess.Key] = sess
	st.mu.Unlock()
	return nil
}

// Delete removes a session from cache and disk. It reports whether a file
// was actually removed.
func (st *Store) Delete(key string) (bool, error) {
	st.mu.Lock()
	delete(st.cache, key)
	st.mu.Unlock()

	if st.dir == "" {
		return false, nil
	}

	path, err := st.sessionPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List enumerates persisted sessions by reading only the metadata line of
// each file, newest first.
func (st *Store) List() ([]SessionInfo, error) {
	if st.dir == "" {
		return []SessionInfo{}, nil
	}

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionInfo{}, nil
		}
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}

		path := filepath.Join(st.dir, entry.Name())
		first, err := readFirstLine(path)
		if err != nil || len(first) == 0 {
			continue
		}

		var meta metadataLine
		if err := json.Unmarshal(first, &meta); err != nil || meta.Type != "metadata" {
			continue
		}

		stem := strings.TrimSuffix(entry.Name(), ".jsonl")
		infos = append(infos, SessionInfo{
			Key:       strings.ReplaceAll(stem, "_", ":"),
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
			Path:      path,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})
	return infos, nil
}

// CompactSession loads or creates the session, compacts it, and persists
// the result when anything was folded away.
func (st *Store) CompactSession(key string, keepLast int, instruction string) (int, error) {
	sess := st.GetOrCreate(key)
	compacted := sess.Compact(keepLast, instruction)
	if compacted > 0 {
		if err := st.Save(sess); err != nil {
			return compacted, err
		}
	}
	return compacted, nil
}

func readFirstLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if scanner.Scan() {
		return bytes.TrimSpace(append([]byte(nil), scanner.Bytes()...)), nil
	}
	return nil, scanner.Err()
}
