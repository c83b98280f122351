package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// importSpec matches both ES module imports and CommonJS requires.
var importSpec = regexp.MustCompile(`(?:import\s+.*?\s+from\s+['"]([^'"]+)['"])|(?:require\(['"]([^'"]+)['"]\))`)

// MissingPackages parses package specifiers out of generated code and returns
// the ones absent from the project's package.json, sorted.
func MissingPackages(root, code string) ([]string, error) {
	manifestPath := filepath.Join(root, "package.json")
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read package.json: %w", err)
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(b, &manifest); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}

	seen := map[string]struct{}{}
	var missing []string
	for _, m := range importSpec.FindAllStringSubmatch(code, -1) {
		pkg := m[1]
		if pkg == "" {
			pkg = m[2]
		}
		if pkg == "" || strings.HasPrefix(pkg, ".") || strings.HasPrefix(pkg, "/") {
			continue
		}
		pkg = packageName(pkg)
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		if _, ok := manifest.Dependencies[pkg]; ok {
			continue
		}
		if _, ok := manifest.DevDependencies[pkg]; ok {
			continue
		}
		missing = append(missing, pkg)
	}
	sort.Strings(missing)
	return missing, nil
}

// InstallPackages installs the packages referenced by code but absent from
// package.json. This is an optional capability invoked explicitly, never an
// implicit step of synthesis.
func InstallPackages(ctx context.Context, root, code string) ([]string, error) {
	missing, err := MissingPackages(root, code)
	if err != nil {
		return nil, err
	}
	for _, pkg := range missing {
		cmd := exec.CommandContext(ctx, "npm", "install", pkg, "--save")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("npm install %s: %w: %s", pkg, err, strings.TrimSpace(string(out)))
		}
	}
	return missing, nil
}

// packageName reduces an import specifier to its package name, keeping the
// scope for scoped packages ("@scope/pkg/sub" -> "@scope/pkg").
func packageName(spec string) string {
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
