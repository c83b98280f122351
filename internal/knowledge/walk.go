package knowledge

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// FileRef is one file discovered by Walk, with both the absolute path for
// reading and the slash-separated path relative to the project root used for
// chunk identity and payloads.
type FileRef struct {
	AbsPath string
	RelPath string
}

// ExcludeFunc reports whether a file or directory should be skipped.
// name is the base name, rel the root-relative path, dir whether it is a
// directory.
type ExcludeFunc func(name, rel string, dir bool) bool

var excludedDirs = map[string]struct{}{
	"node_modules": {}, "memory": {}, "dist": {}, "build": {}, "coverage": {}, ".git": {},
}

var excludedFiles = map[string]struct{}{
	".gitignore": {}, "package-lock.json": {}, "yarn.lock": {},
	".env": {}, ".env.local": {}, ".DS_Store": {},
}

var excludedExts = map[string]struct{}{
	// images
	".svg": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {},
	// non-code
	".log": {}, ".lock": {}, ".zip": {}, ".tar": {}, ".gz": {},
	// documents
	".pdf": {}, ".docx": {}, ".xlsx": {},
}

// DefaultExclude skips build artifacts, lockfiles, binary and document
// extensions, and the knowledge store's own working directory.
func DefaultExclude(name, rel string, dir bool) bool {
	if dir {
		_, skip := excludedDirs[name]
		return skip
	}
	if _, skip := excludedFiles[name]; skip {
		return true
	}
	if _, skip := excludedExts[strings.ToLower(filepath.Ext(name))]; skip {
		return true
	}
	return rel == "public/vite.svg"
}

// Walk lists files under root in deterministic order, applying exclude to
// both directories (pruning) and files.
func Walk(root string, exclude ExcludeFunc) ([]FileRef, error) {
	if exclude == nil {
		exclude = DefaultExclude
	}
	var out []FileRef
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && exclude(d.Name(), rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if exclude(d.Name(), rel, false) {
			return nil
		}
		out = append(out, FileRef{AbsPath: path, RelPath: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
