package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// indexFileName is the optional per-project index listing known sessions.
const indexFileName = "sessions.json"

// sessionIndex is the shape of a project's sessions.json.
type sessionIndex struct {
	Sessions []sessionIndexEntry `json:"sessions"`
}

type sessionIndexEntry struct {
	ID   string `json:"id"`
	File string `json:"file"`
}

// Discover walks the projects root and returns every known session,
// ordered by modification time (newest first).
//
// When a project directory carries a sessions.json index, its entries are
// used first; index entries whose log file no longer exists are dropped,
// and logs the index omits are picked up by direct discovery.
func Discover(root string) ([]SessionInfo, error) {
	projects, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading projects root: %w", err)
	}

	var sessions []SessionInfo
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, p.Name())
		found, err := discoverProject(projectDir)
		if err != nil {
			return nil, fmt.Errorf("discovering project %s: %w", p.Name(), err)
		}
		sessions = append(sessions, found...)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ModifiedAt.After(sessions[j].ModifiedAt)
	})
	return sessions, nil
}

// discoverProject enumerates one project directory's session logs.
func discoverProject(dir string) ([]SessionInfo, error) {
	seen := make(map[string]bool)
	var sessions []SessionInfo

	add := func(path string) {
		if seen[path] {
			return
		}
		info, err := Stat(path, dir)
		if err != nil {
			// A phantom index entry or a log deleted mid-walk; drop it.
			return
		}
		seen[path] = true
		sessions = append(sessions, info)
	}

	// Index first, when present.
	if data, err := os.ReadFile(filepath.Join(dir, indexFileName)); err == nil {
		var idx sessionIndex
		if err := json.Unmarshal(data, &idx); err == nil {
			for _, e := range idx.Sessions {
				file := e.File
				if file == "" && e.ID != "" {
					file = e.ID + ".jsonl"
				}
				if file == "" {
					continue
				}
				add(filepath.Join(dir, file))
			}
		}
	}

	// Direct discovery covers logs the index omits.
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("globbing session logs: %w", err)
	}
	for _, m := range matches {
		add(m)
	}

	return sessions, nil
}

// Stat builds a SessionInfo from the log file's metadata.
func Stat(path, projectDir string) (SessionInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{
		ID:          strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		Path:        path,
		ProjectPath: projectDir,
		Signature:   Signature(fi.ModTime().UnixNano(), fi.Size()),
		ModifiedAt:  fi.ModTime(),
		SizeBytes:   fi.Size(),
	}, nil
}

// Signature builds the content-version marker the progress ledger keys on.
func Signature(mtimeUnixNano, size int64) string {
	return fmt.Sprintf("%d-%d", mtimeUnixNano, size)
}
