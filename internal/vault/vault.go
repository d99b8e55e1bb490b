// Package vault stores attachment bytes by name. The planner only depends
// on the Vault interface; Memory is the in-process implementation used by
// the daemon and the tests.
package vault

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// File is one named attachment. Private files are listed to the planner
// but their content may not be read or forwarded.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Bytes    []byte `json:"-"`
	Private  bool   `json:"private,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Source   string `json:"source,omitempty"` // user | agent | synthetic
}

type Vault interface {
	GetByName(name string) (File, bool)
	AddSynthetic(name, mimeType, text string)
	AddFromAgent(name, mimeType, base64Data string) error
	Put(f File)
	ListForPlanner() []File
}

type Memory struct {
	mu    sync.RWMutex
	files map[string]File
}

func NewMemory() *Memory {
	return &Memory{files: map[string]File{}}
}

func (m *Memory) GetByName(name string) (File, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[strings.TrimSpace(name)]
	return f, ok
}

// AddSynthetic upserts a planner-visible file produced by tool output.
// Upserts are idempotent by name.
func (m *Memory) AddSynthetic(name, mimeType, text string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if mimeType == "" {
		mimeType = "text/markdown"
	}
	m.mu.Lock()
	m.files[name] = File{Name: name, MimeType: mimeType, Bytes: []byte(text), Source: "synthetic"}
	m.mu.Unlock()
}

// AddFromAgent upserts a file received from the remote agent, decoding its
// base64 content.
func (m *Memory) AddFromAgent(name, mimeType, base64Data string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("attachment name is required")
	}
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return fmt.Errorf("decode attachment %q: %w", name, err)
	}
	m.mu.Lock()
	m.files[name] = File{Name: name, MimeType: mimeType, Bytes: data, Source: "agent"}
	m.mu.Unlock()
	return nil
}

// AddPrivate stores a file the user provided for the planner's awareness
// only; readAttachment and remote sends must refuse it.
func (m *Memory) AddPrivate(name, mimeType string, data []byte, summary string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	m.mu.Lock()
	m.files[name] = File{Name: name, MimeType: mimeType, Bytes: data, Private: true, Summary: summary, Source: "user"}
	m.mu.Unlock()
}

// Put upserts a fully specified file. Used for user uploads and when
// restoring persisted attachments.
func (m *Memory) Put(f File) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return
	}
	m.mu.Lock()
	m.files[f.Name] = f
	m.mu.Unlock()
}

func (m *Memory) ListForPlanner() []File {
	m.mu.RLock()
	out := make([]File, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
