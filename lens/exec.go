package lens

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/go-analyze/bulk"
)

// NewProjectExec creates a command that runs in projectDir with env applied.
func NewProjectExec(projectDir string, env []string, name string, arg ...string) *exec.Cmd {
	cmd := exec.Command(name, arg...)
	cmd.Dir = projectDir
	cmd.Env = mergeSafeEnv(env)

	return cmd
}

func mergeSafeEnv(env []string) []string {
	envKeys := make([]string, len(env)) // check for os values we want to override
	for i, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		envKeys[i] = parts[0]
	}
	safeEnv := bulk.SliceFilterInPlace(func(envVar string) bool {
		if envVar == "" || envVar == "=" || strings.HasPrefix(envVar, "LD_") {
			return false // skip unsafe
		} else if parts := strings.SplitN(envVar, "=", 2); slices.Contains(envKeys, parts[0]) {
			return false // will be overridden by custom value
		}
		return true
	}, os.Environ())
	return append(safeEnv, env...)
}

// RunGo runs the go tool in projectDir, streaming to output (if not nil) and returning the combined
// stdout and stderr.
func RunGo(projectDir string, env []string, output io.Writer, arg ...string) ([]byte, error) {
	cmd := NewProjectExec(projectDir, env, "go", arg...)
	lb := &lockedBuffer{}
	var w io.Writer = lb
	if output != nil {
		w = &teeWriter{one: output, two: lb}
	}
	cmd.Stdout = w
	cmd.Stderr = w
	err := cmd.Run()
	return lb.Bytes(), err
}

// VerifyBuild tidies the module and compiles the packages matching patterns, confirming gated sources
// still build. go.mod and go.sum are expected to already be backed up by the caller.
func VerifyBuild(projectDir string, env []string, output io.Writer, patterns ...string) error {
	if out, err := RunGo(projectDir, env, output, "mod", "tidy"); err != nil {
		return fmt.Errorf("go mod tidy failed: %w\n%s", err, out)
	}
	if out, err := RunGo(projectDir, env, output, append([]string{"build"}, patterns...)...); err != nil {
		return fmt.Errorf("go build failed: %w\n%s", err, out)
	}
	return nil
}

type teeWriter struct {
	one io.Writer
	two io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n1, err1 := w.one.Write(p)
	n2, err2 := w.two.Write(p)
	if err1 == nil && err2 == nil && n1 != n2 {
		return 0, fmt.Errorf("uneven write %d != %d", n1, n2)
	}
	return n1, errors.Join(err1, err2)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.buf.Write(p)
}

func (lb *lockedBuffer) Bytes() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return bytes.Clone(lb.buf.Bytes())
}
