package lens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"
)

// Config holds the settings of the lensgate and lensreport binaries.
type Config struct {
	// ProjectDir is the module root whose functions are resolved and gated.
	ProjectDir string
	// Patterns are the package patterns to load, "./..." when empty.
	Patterns []string
	// Inject rewrites the resolved functions with gates, Restore reverts a previous injection.
	Inject, Restore bool
	// LensVersion is required in the project go.mod when injecting.
	LensVersion string
	// LensReplaceDir optionally points the lens module at a local checkout.
	LensReplaceDir string
	// Verify builds the project after injection, restoring the sources on failure.
	Verify bool
	// Callers resolves the direct project callers of each function.
	Callers bool
	// DescriptorJsonFile receives the resolved descriptors, skipped when empty.
	DescriptorJsonFile string

	StorageDir           string
	StorageMB            int
	LogName, BaseLogName string
	ListLogs             bool

	ReportJsonFile, ReportChartsFile string
	// Custom flags support - all stored as strings for ease of use
	CustomFlags map[string]string
	// Computed fields
	AbsProjDir string
	// Internal state tracking
	prepared bool
}

// PrepareGate validates the settings used by lensgate and resolves the project directory.
func (c *Config) PrepareGate() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	} else if c.ProjectDir == "" {
		return errors.New("project directory is required")
	} else if c.Inject && c.Restore {
		return errors.New("-inject and -restore are mutually exclusive")
	} else if c.Verify && !c.Inject {
		return errors.New("-verify requires -inject")
	} else if c.Inject && !semver.IsValid(c.LensVersion) {
		return fmt.Errorf("invalid lens module version: %q", c.LensVersion)
	}

	absProjDir, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("error resolving project directory: %w", err)
	} else if info, err := os.Stat(absProjDir); err != nil {
		return fmt.Errorf("project directory is not accessible: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absProjDir)
	}
	c.AbsProjDir = absProjDir

	if c.LensReplaceDir != "" {
		if c.LensReplaceDir, err = filepath.Abs(c.LensReplaceDir); err != nil {
			return fmt.Errorf("error resolving lens replace directory: %w", err)
		} else if !FileExists(filepath.Join(c.LensReplaceDir, "go.mod")) {
			return fmt.Errorf("no go.mod in lens replace directory: %s", c.LensReplaceDir)
		}
	}

	if c.DescriptorJsonFile != "" {
		if err := c.validateOutputPath(c.DescriptorJsonFile); err != nil {
			return fmt.Errorf("invalid descriptor output path: %w", err)
		}
	}
	c.prepared = true
	return nil
}

// PrepareReport validates the settings used by lensreport.
func (c *Config) PrepareReport() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	} else if c.StorageDir == "" {
		return errors.New("storage directory is required")
	} else if !c.ListLogs && c.LogName == "" {
		return errors.New("a call log name is required")
	} else if c.StorageMB <= 0 {
		return errors.New("storage memory must be positive")
	}

	for _, path := range []string{c.ReportJsonFile, c.ReportChartsFile} {
		if path == "" {
			continue
		} else if err := c.validateOutputPath(path); err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
	}
	c.prepared = true
	return nil
}

// validateOutputPath validates that an output file path can be written to
func (c *Config) validateOutputPath(path string) error {
	dir := filepath.Dir(path)

	// Check if directory exists, if not try to create it
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
		}
	}

	// Check if we can write to the directory
	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(testFile)
}
