// Package history remembers the projects mpy-sync was initialised in.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const HistoryDir = ".mpy-sync"
const HistoryFile = "history.json"

type HistoryEntry struct {
	Path       string    `json:"path"`
	LastAccess time.Time `json:"last_access"`
}

type History struct {
	Entries []HistoryEntry `json:"entries"`
}

// homeDir is replaced in tests.
var homeDir = os.UserHomeDir

func GetHistoryDir() string {
	home, _ := homeDir()
	return filepath.Join(home, HistoryDir)
}

func GetHistoryPath() string {
	return filepath.Join(GetHistoryDir(), HistoryFile)
}

func LoadHistory() (*History, error) {
	data, err := os.ReadFile(GetHistoryPath())
	if os.IsNotExist(err) {
		return &History{Entries: []HistoryEntry{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func SaveHistory(h *History) error {
	if err := os.MkdirAll(GetHistoryDir(), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(GetHistoryPath(), data, 0644)
}

// AddPath records path as accessed now.
func AddPath(path string) error {
	h, err := LoadHistory()
	if err != nil {
		return err
	}
	for i, entry := range h.Entries {
		if entry.Path == path {
			h.Entries[i].LastAccess = time.Now()
			return SaveHistory(h)
		}
	}
	h.Entries = append(h.Entries, HistoryEntry{Path: path, LastAccess: time.Now()})
	return SaveHistory(h)
}

func RemovePath(path string) error {
	h, err := LoadHistory()
	if err != nil {
		return err
	}
	for i, entry := range h.Entries {
		if entry.Path == path {
			h.Entries = append(h.Entries[:i], h.Entries[i+1:]...)
			break
		}
	}
	return SaveHistory(h)
}

// SearchPaths returns recorded paths containing query, case-insensitively.
func SearchPaths(query string) []string {
	h, err := LoadHistory()
	if err != nil {
		return []string{}
	}
	var results []string
	for _, entry := range h.Entries {
		if strings.Contains(strings.ToLower(entry.Path), strings.ToLower(query)) {
			results = append(results, entry.Path)
		}
	}
	sort.Strings(results)
	return results
}

// GetAllPaths returns every recorded path, most recently accessed first.
func GetAllPaths() []string {
	h, err := LoadHistory()
	if err != nil || len(h.Entries) == 0 {
		return []string{}
	}
	sort.Slice(h.Entries, func(i, j int) bool {
		return h.Entries[i].LastAccess.After(h.Entries[j].LastAccess)
	})
	result := make([]string, 0, len(h.Entries))
	for _, entry := range h.Entries {
		result = append(result, entry.Path)
	}
	return result
}
