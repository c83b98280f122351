package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"webforge/internal/models"
)

// SnapshotFileName is where the snapshot is written inside the project's
// working directory.
const SnapshotFileName = "project-metadata.json"

// SnapshotDir is the project-local directory holding engine state; it is
// excluded from indexing.
const SnapshotDir = "memory"

var (
	rePropTypes = regexp.MustCompile(`propTypes\s*=\s*\{([^}]+)\}`)
	reRoutePath = regexp.MustCompile(`path="([^"]+)"`)
	reAPICall   = regexp.MustCompile(`fetch\(|axios\.`)
)

var stylingExts = map[string]struct{}{
	".css": {}, ".scss": {}, ".sass": {}, ".less": {},
}

// BuildSnapshot scans the given files and produces the structural metadata
// snapshot. It is a pattern-match pass, not a parser; a file that cannot be
// read is skipped.
func BuildSnapshot(files []FileRef) (*models.MetadataSnapshot, error) {
	snap := &models.MetadataSnapshot{GeneratedAt: time.Now().UTC()}
	for _, f := range files {
		snap.Tree = append(snap.Tree, f.RelPath)
		ext := strings.ToLower(filepath.Ext(f.RelPath))

		if _, ok := stylingExts[ext]; ok {
			snap.Styling = append(snap.Styling, f.RelPath)
			continue
		}
		if ext == ".json" {
			if filepath.Base(f.RelPath) == "package.json" {
				snap.Manifest = readManifest(f.AbsPath)
			} else {
				snap.ConfigFiles = append(snap.ConfigFiles, f.RelPath)
			}
			continue
		}

		b, err := os.ReadFile(f.AbsPath)
		if err != nil {
			continue
		}
		content := string(b)

		if ext == ".jsx" || ext == ".tsx" {
			name := strings.TrimSuffix(filepath.Base(f.RelPath), ext)
			snap.Components = append(snap.Components, models.Component{
				Name:  name,
				File:  f.RelPath,
				Props: extractProps(content),
			})
		}
		if isRouteFile(f.RelPath) {
			for _, m := range reRoutePath.FindAllStringSubmatch(content, -1) {
				snap.Routes = append(snap.Routes, m[1])
			}
		}
		if reAPICall.MatchString(content) {
			snap.APIs = append(snap.APIs, f.RelPath)
		}
	}
	return snap, nil
}

// WriteSnapshot persists the snapshot to <root>/memory/project-metadata.json.
func WriteSnapshot(root string, snap *models.MetadataSnapshot) error {
	dir := filepath.Join(root, SnapshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SnapshotFileName), b, 0o644)
}

func isRouteFile(rel string) bool {
	base := filepath.Base(rel)
	return base == "App.jsx" || base == "App.tsx" || base == "routes.js" || base == "routes.jsx"
}

func extractProps(content string) []string {
	m := rePropTypes.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	props := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(strings.SplitN(p, ":", 2)[0])
		if name != "" {
			props = append(props, name)
		}
	}
	return props
}

func readManifest(path string) *models.Manifest {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m models.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return &m
}
