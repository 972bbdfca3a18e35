// Package workspace allocates isolated per-job directories and reclaims them.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixSize     = 12
)

// Static errors for workspace operations.
var (
	// ErrReleased is returned when writing into a released workspace.
	ErrReleased = errors.New("workspace already released")
	// ErrInvalidName is returned for file names that would escape the workspace.
	ErrInvalidName = errors.New("invalid workspace file name")
)

// Manager creates workspaces under a root directory.
// It is safe for concurrent use.
type Manager struct {
	root   string
	seq    atomic.Uint64
	active atomic.Int64
}

// NewManager creates a Manager rooted at root, creating the directory if needed.
// If root is empty, a "slideshow" directory under os.TempDir() is used.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "slideshow")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the directory workspaces are created in.
func (m *Manager) Root() string {
	return m.root
}

// Active returns the number of acquired, unreleased workspaces.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Acquire creates a fresh, exclusively owned directory.
// Names combine a process-wide sequence number with a random suffix, and the
// directory is created with os.Mkdir so an existing name is never reused.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	suffix, err := gonanoid.Generate(suffixAlphabet, suffixSize)
	if err != nil {
		return nil, fmt.Errorf("generate workspace name: %w", err)
	}
	name := fmt.Sprintf("ws-%06d-%s", m.seq.Add(1), suffix)
	dir := filepath.Join(m.root, name)

	if err := os.Mkdir(dir, 0750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	m.active.Add(1)
	return &Workspace{name: name, dir: dir, manager: m}, nil
}

// Workspace is a per-job directory plus the files written into it.
type Workspace struct {
	name    string
	dir     string
	manager *Manager

	mu       sync.Mutex
	files    []string
	released bool
}

// Name returns the unique workspace name.
func (w *Workspace) Name() string {
	return w.name
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of name inside the workspace without creating it.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Files returns the paths written through Create, in write order.
func (w *Workspace) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, len(w.files))
	copy(files, w.files)
	return files
}

// Create writes data to a new file called name and returns its path and size.
// Existing files are never overwritten.
func (w *Workspace) Create(name string, data io.Reader) (string, int64, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	w.mu.Lock()
	released := w.released
	w.mu.Unlock()
	if released {
		return "", 0, ErrReleased
	}

	path := w.Path(name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 - name is validated above
	if err != nil {
		return "", 0, fmt.Errorf("create workspace file: %w", err)
	}

	n, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write workspace file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("close workspace file: %w", err)
	}

	w.mu.Lock()
	w.files = append(w.files, path)
	w.mu.Unlock()

	return path, n, nil
}

// Release recursively removes the workspace directory.
// It is idempotent and succeeds if the directory is already gone.
func (w *Workspace) Release() error {
	w.mu.Lock()
	first := !w.released
	w.released = true
	w.mu.Unlock()

	if first && w.manager != nil {
		w.manager.active.Add(-1)
	}

	if err := os.RemoveAll(w.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove workspace %s: %w", w.name, err)
	}
	return nil
}
