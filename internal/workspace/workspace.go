package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Errors returned by workspace operations.
var (
	ErrPathEscapes    = errors.New("path escapes the workspace")
	ErrFileTooLarge   = errors.New("file exceeds the size limit")
	ErrFileExists     = errors.New("file already exists")
	ErrFileMissing    = errors.New("file does not exist")
	ErrCommandDenied  = errors.New("command matches the deny list")
	ErrCommandTimeout = errors.New("command timed out")
)

// deniedPatterns are substrings that block a command outright. The list
// targets obviously destructive operations, not sandboxing.
var deniedPatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sd",
	"shutdown",
	"reboot",
}

// Workspace confines agent file operations and commands to a single
// directory tree.
type Workspace struct {
	root           string
	maxFileSize    int64
	commandTimeout time.Duration
}

// New creates a workspace rooted at dir, creating the directory if needed.
func New(dir string, maxFileSize int64, commandTimeout time.Duration) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace dir: %w", err)
	}
	return &Workspace{
		root:           abs,
		maxFileSize:    maxFileSize,
		commandTimeout: commandTimeout,
	}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// resolve converts a workspace-relative path to an absolute one, rejecting
// anything that would resolve outside the root.
func (w *Workspace) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
	}
	abs := filepath.Join(w.root, rel)
	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
	}
	return abs, nil
}

// CreateFile writes a new file. It fails if the file already exists or the
// content exceeds the size limit.
func (w *Workspace) CreateFile(rel string, content []byte) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if int64(len(content)) > w.maxFileSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, rel, len(content), w.maxFileSize)
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, rel)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating parent dir for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

// ModifyFile overwrites an existing file. It fails if the file does not
// exist or the content exceeds the size limit.
func (w *Workspace) ModifyFile(rel string, content []byte) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if int64(len(content)) > w.maxFileSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, rel, len(content), w.maxFileSize)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("%w: %s", ErrFileMissing, rel)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

// ReadFile returns the content of a workspace file, refusing files over the
// size limit.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileMissing, rel)
	}
	if info.Size() > w.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, rel, info.Size(), w.maxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return data, nil
}

// RunCommand executes a shell command inside the workspace and returns
// combined stdout/stderr output. Commands matching the deny list are
// rejected before execution.
func (w *Workspace) RunCommand(ctx context.Context, command string) ([]byte, error) {
	for _, pattern := range deniedPatterns {
		if strings.Contains(command, pattern) {
			return nil, fmt.Errorf("%w: %q", ErrCommandDenied, command)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, w.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.root
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%w after %s: %q", ErrCommandTimeout, w.commandTimeout, command)
	}
	if err != nil {
		return out, fmt.Errorf("command %q: %w", command, err)
	}
	return out, nil
}
