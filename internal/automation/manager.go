//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Manager owns the scripts directory. Script identity is the filename
// stem; metadata rides in a comment on the first line, so a stored
// script stays a plain .lua file the whole way.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// validScriptID rejects anything that could escape the scripts dir.
func validScriptID(id string) bool {
	switch {
	case id == "" || id == "." || id == "..":
		return false
	case strings.ContainsAny(id, `/\`) || strings.Contains(id, ".."):
		return false
	}
	return true
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+".lua")
}

// List returns every parseable script in the directory. A file that
// does not parse is skipped, not fatal.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	var scripts []*Script
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".lua") {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, name))
		if err != nil {
			slog.Warn("skipping unreadable script", "file", name, "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parseFile(m.path(id))
}

// Save writes the script to disk, minting an ID from the name when the
// script has none yet.
func (m *Manager) Save(s *Script) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)
	if err := os.WriteFile(s.FilePath, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// freeID appends a counter until the slug stops colliding with an
// existing file.
func (m *Manager) freeID(slug string) string {
	if slug == "" {
		slug = "script"
	}
	id := slug
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", slug, i)
	}
}

func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path(id)); err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

// parseFile splits a script file into its metadata header and Lua body.
// The header is one comment line of JSON; a file without one is still a
// valid script with zero metadata.
func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), ".lua"),
		FilePath: path,
	}
	body := string(data)
	if strings.HasPrefix(body, "-- {") {
		head, rest, _ := strings.Cut(body, "\n")
		if err := json.Unmarshal([]byte(strings.TrimPrefix(head, "-- ")), &s.Meta); err != nil {
			slog.Warn("script metadata parse error", "file", path, "err", err)
		}
		body = rest
	}
	for {
		line, rest, found := strings.Cut(body, "\n")
		if !found || strings.TrimSpace(line) != "" {
			break
		}
		body = rest
	}
	s.LuaCode = body
	return s, nil
}

// serializeScript renders the one-line JSON header followed by the body.
func serializeScript(s *Script) string {
	meta, _ := json.Marshal(s.Meta)
	out := "-- " + string(meta) + "\n"
	if s.LuaCode == "" {
		return out
	}
	out += "\n" + s.LuaCode
	if !strings.HasSuffix(s.LuaCode, "\n") {
		out += "\n"
	}
	return out
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 40

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "_")
	}
	return s
}
