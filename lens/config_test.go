package lens

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_PrepareGate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		proj := t.TempDir()
		config := &Config{
			ProjectDir:         proj,
			Inject:             true,
			LensVersion:        "v0.1.0",
			Verify:             true,
			DescriptorJsonFile: filepath.Join(t.TempDir(), "out", "descriptors.json"),
		}
		require.NoError(t, config.PrepareGate())
		assert.Equal(t, proj, config.AbsProjDir)

		err := config.PrepareGate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already been prepared")
	})

	t.Run("replace_dir", func(t *testing.T) {
		replaceDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(replaceDir, "go.mod"), []byte("module x\n"), 0644))

		config := &Config{ProjectDir: t.TempDir(), Inject: true, LensVersion: "v0.1.0", LensReplaceDir: replaceDir}
		require.NoError(t, config.PrepareGate())

		config = &Config{ProjectDir: t.TempDir(), Inject: true, LensVersion: "v0.1.0", LensReplaceDir: t.TempDir()}
		err := config.PrepareGate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no go.mod")
	})

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing_project_dir",
			config:  Config{},
			wantErr: "project directory is required",
		},
		{
			name:    "inject_and_restore",
			config:  Config{ProjectDir: ".", Inject: true, Restore: true, LensVersion: "v0.1.0"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "verify_without_inject",
			config:  Config{ProjectDir: ".", Verify: true},
			wantErr: "-verify requires -inject",
		},
		{
			name:    "invalid_version",
			config:  Config{ProjectDir: ".", Inject: true, LensVersion: "1.0"},
			wantErr: "invalid lens module version",
		},
		{
			name:    "missing_dir",
			config:  Config{ProjectDir: filepath.Join(os.TempDir(), "lens-missing-project-dir")},
			wantErr: "not accessible",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.PrepareGate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("not_directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0644))

		config := &Config{ProjectDir: file}
		err := config.PrepareGate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestConfig_PrepareReport(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		out := t.TempDir()
		config := &Config{
			StorageDir:       t.TempDir(),
			StorageMB:        64,
			LogName:          "run1",
			ReportJsonFile:   filepath.Join(out, "report.json"),
			ReportChartsFile: filepath.Join(out, "charts", "calls.png"),
		}
		require.NoError(t, config.PrepareReport())
		assert.DirExists(t, filepath.Join(out, "charts"))
	})

	t.Run("list_without_log", func(t *testing.T) {
		config := &Config{StorageDir: t.TempDir(), StorageMB: 64, ListLogs: true}
		require.NoError(t, config.PrepareReport())
	})

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing_storage",
			config:  Config{LogName: "run1", StorageMB: 64},
			wantErr: "storage directory is required",
		},
		{
			name:    "missing_log",
			config:  Config{StorageDir: ".", StorageMB: 64},
			wantErr: "a call log name is required",
		},
		{
			name:    "storage_mb",
			config:  Config{StorageDir: ".", LogName: "run1"},
			wantErr: "storage memory must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.PrepareReport()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
