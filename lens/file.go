package lens

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

func replaceFile(source, destination string) error {
	if _, err := os.Stat(destination); err == nil {
		if err = os.Remove(destination); err != nil {
			return err
		}
	}

	// Rename the source to the destination (requires same filesystem)
	return os.Rename(source, destination)
}

// CopyFile copies src to dst. If src is a symlink, it recreates the symlink at dst pointing to the same target.
// Otherwise, it copies the file’s contents (using os.Create’s default mode).
func CopyFile(src, dst string) (err error) {
	if info, err := os.Lstat(src); err != nil {
		return err
	} else if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // uses default file mode (0666 & umask)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// RestoreBackups moves every backup file left under root by a GateInjector over its original, reverting
// gates injected by an earlier process. It returns the restored file paths.
func RestoreBackups(ctx context.Context, root string) ([]string, error) {
	var backups []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if !d.IsDir() && d.Type()&fs.ModeSymlink == 0 && strings.HasSuffix(path, backupFileSuffix) {
			backups = append(backups, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU() * 4)
	restored := make([]string, len(backups))
	for i, bkp := range backups {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			orig := strings.TrimSuffix(bkp, backupFileSuffix)
			if err := replaceFile(bkp, orig); err != nil {
				return fmt.Errorf("restore %s failed: %w", orig, err)
			}
			restored[i] = orig
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return restored, nil // WalkDir visits in lexical order
}
