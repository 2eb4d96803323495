package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brogergvhs/mangabind/internal/util"
)

const (
	lockDirName   = ".mangabind.lock"
	lockOwnerFile = "owner.json"
)

// Lock marks an output root as owned by one running process.
type Lock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Lock acquires the output root. It fails if another run holds it; a lock
// left behind by a crashed run has to be removed by hand.
func (s *Store) Lock() (*Lock, error) {
	if strings.TrimSpace(s.root) == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	dir := filepath.Join(s.root, lockDirName)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner lockOwner
			if data, readErr := os.ReadFile(filepath.Join(dir, lockOwnerFile)); readErr == nil &&
				json.Unmarshal(data, &owner) == nil && owner.PID > 0 {
				return nil, fmt.Errorf("output root %s is locked (pid=%d created_at=%s host=%s)",
					s.root, owner.PID, owner.CreatedAt, owner.Hostname)
			}
			return nil, fmt.Errorf("output root %s is locked (remove %s if no run is active)", s.root, dir)
		}
		return nil, fmt.Errorf("acquire lock on %s: %w", s.root, err)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostname(),
	}
	if err := util.WriteJSONAtomic(filepath.Join(dir, lockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write lock owner: %w", err)
	}
	return &Lock{dir: dir}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	l.dir = ""
	return nil
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
