package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

var ErrInUse = errors.New("workspace already allocated")

// Arena hands out one directory per task under <root>/<run_id>. A path is derived from
// the task's batch index, position and ID, and created with os.Mkdir so a second
// allocation of the same path fails instead of being shared.
type Arena struct {
	dir    string
	keep   bool
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]uuid.UUID
}

// NewArena creates the run directory. When keep is set, released workspaces stay on disk.
func NewArena(root string, runID uuid.UUID, keep bool, logger *slog.Logger) (*Arena, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runID == uuid.Nil {
		return nil, fmt.Errorf("run_id is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	dir := filepath.Join(abs, runID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir %s: %w", dir, err)
	}
	return &Arena{dir: dir, keep: keep, logger: logger, live: map[string]uuid.UUID{}}, nil
}

// Dir is the run directory holding every workspace of the run.
func (a *Arena) Dir() string { return a.dir }

// PathFor is the workspace path a task gets. It never looks at the filesystem.
func (a *Arena) PathFor(task entity.Task) string {
	return filepath.Join(a.dir, fmt.Sprintf("b%03d-p%05d-%s", task.BatchIndex, task.Position, task.ID.String()))
}

// ArtifactPath is where the tool leaves result.json inside a workspace.
func ArtifactPath(workspace string) string {
	return filepath.Join(workspace, constants.ArtifactDir, constants.ArtifactFile)
}

// Allocate creates the task's workspace and marks it owned by the task.
func (a *Arena) Allocate(task entity.Task) (string, error) {
	path := a.PathFor(task)

	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, ok := a.live[path]; ok {
		return "", fmt.Errorf("%w: %s owned by %s", ErrInUse, path, owner)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrInUse, path)
		}
		return "", fmt.Errorf("create workspace: %w", err)
	}
	a.live[path] = task.ID
	a.logger.Debug("workspace.allocated", "task_id", task.ID, "path", path)
	return path, nil
}

// Release drops ownership and removes the directory unless the arena keeps workspaces.
func (a *Arena) Release(task entity.Task) error {
	path := task.Workspace
	if path == "" {
		path = a.PathFor(task)
	}

	a.mu.Lock()
	owner, ok := a.live[path]
	if ok && owner == task.ID {
		delete(a.live, path)
	}
	a.mu.Unlock()

	if !ok || owner != task.ID {
		return fmt.Errorf("workspace %s not owned by task %s", path, task.ID)
	}
	if a.keep {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		a.logger.Warn("workspace.release_failed", "task_id", task.ID, "path", path, "error", err)
		return err
	}
	return nil
}

// InUse is the number of allocated, not yet released workspaces.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close removes the run directory when nothing was kept in it.
func (a *Arena) Close() error {
	if a.keep {
		return nil
	}
	if n := a.InUse(); n > 0 {
		return fmt.Errorf("%d workspaces still allocated", n)
	}
	if err := os.Remove(a.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
