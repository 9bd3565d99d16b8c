package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadFixtures reads every *.json file in dir into a MemoryStore. A file holds
// either a JSON array of documents or a list response {"documents": [...]},
// each document in the Firestore REST encoding.
func LoadFixtures(dir string) (*MemoryStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	m := NewMemoryStore()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		docs, err := parseFixture(data)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", name, err)
		}
		for _, w := range docs {
			d, err := fromWire(w)
			if err != nil {
				return nil, fmt.Errorf("fixture %s: %w", name, err)
			}
			m.Put(d)
		}
	}
	return m, nil
}

func parseFixture(data []byte) ([]wireDocument, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var docs []wireDocument
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var list struct {
		Documents []wireDocument `json:"documents"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list.Documents, nil
}
