package lens

import (
	"fmt"
	"os"
	"slices"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

// FindModuleVersionInGoMod parses the given go.mod file to find the version of the specified module.
// Returns empty string if the module is not found in the go.mod file.
func FindModuleVersionInGoMod(goModFile, modName string) (string, bool, error) {
	f, err := parseGoModFile(goModFile)
	if err != nil {
		return "", false, err
	}
	for _, r := range f.Require {
		if r.Mod.Path == modName {
			return r.Mod.Version, r.Indirect, nil
		}
	}
	return "", false, nil
}

// EnsureGoModRequire adds a require of modPath@version to the go.mod file so that injected gates can
// import the lens package. An existing requirement of modPath is left unchanged. When replaceDir is set
// a replace directive pointing modPath at that local directory is added as well. The original file is
// backed up through the injector so Restore reverts it with the gated sources.
func (m *GateInjector) EnsureGoModRequire(goModFile, modPath, version, replaceDir string) error {
	if err := module.CheckPath(modPath); err != nil {
		return fmt.Errorf("invalid module path: %w", err)
	} else if !semver.IsValid(version) {
		return fmt.Errorf("invalid module version: %s", version)
	}

	lock := astFileLock.Lock(goModFile)
	defer lock.Unlock()

	f, err := parseGoModFile(goModFile)
	if err != nil {
		return err
	}
	required := slices.ContainsFunc(f.Require, func(r *modfile.Require) bool {
		return r.Mod.Path == modPath
	})
	replaced := slices.ContainsFunc(f.Replace, func(r *modfile.Replace) bool {
		return r.Old.Path == modPath
	})
	if required && (replaceDir == "" || replaced) {
		return nil
	}
	if !required {
		if err := f.AddRequire(modPath, version); err != nil {
			return fmt.Errorf("add require %s failed: %w", modPath, err)
		}
	}
	if replaceDir != "" && !replaced {
		if err := f.AddReplace(modPath, "", replaceDir, ""); err != nil {
			return fmt.Errorf("add replace %s failed: %w", modPath, err)
		}
	}
	f.Cleanup()
	data, err := f.Format()
	if err != nil {
		return fmt.Errorf("format %s failed: %w", goModFile, err)
	} else if err := m.backupOrigFile(goModFile); err != nil {
		return err
	} else if err := os.WriteFile(goModFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s failed: %w", goModFile, err)
	}
	return nil
}

func parseGoModFile(goModFile string) (*modfile.File, error) {
	data, err := os.ReadFile(goModFile)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", goModFile, err)
	}
	f, err := modfile.Parse(goModFile, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s failed: %w", goModFile, err)
	}
	return f, nil
}

// TrackFile backs up path (if it exists) so that Restore reverts changes made to it by other tools,
// such as go.sum updates from go mod tidy.
func (m *GateInjector) TrackFile(path string) error {
	lock := astFileLock.Lock(path)
	defer lock.Unlock()

	if !FileExists(path) {
		return nil
	}
	return m.backupOrigFile(path)
}
