package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirBackend is a storage volume rooted at a local directory. Content objects
// are regular files below the root.
type DirBackend struct {
	root   string
	groups []string

	// QuotaBytes caps the reported free capacity when positive.
	QuotaBytes int64
}

// NewDirBackend creates a backend rooted at root.
func NewDirBackend(root string, functionGroups ...string) (*DirBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root %s: %w", root, err)
	}
	return &DirBackend{
		root:   abs,
		groups: append([]string(nil), functionGroups...),
	}, nil
}

// Root returns the absolute root directory.
func (d *DirBackend) Root() string {
	return d.root
}

// FunctionGroups implements FunctionGrouper.
func (d *DirBackend) FunctionGroups() []string {
	return d.groups
}

// resolve maps a content path below the root. Paths cannot escape the root.
func (d *DirBackend) resolve(p string) string {
	return filepath.Join(d.root, filepath.Clean("/"+p))
}

// ContentObjectAt implements Backend.
func (d *DirBackend) ContentObjectAt(ctx context.Context, p string) (ContentObject, bool, error) {
	if err := ctx.Err(); err != nil {
		return ContentObject{}, false, err
	}
	info, err := os.Stat(d.resolve(p))
	if os.IsNotExist(err) {
		return ContentObject{}, false, nil
	}
	if err != nil {
		return ContentObject{}, false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return ContentObject{}, false, nil
	}
	return ContentObject{Path: p, Size: info.Size()}, true, nil
}

// FreeCapacity implements Backend.
func (d *DirBackend) FreeCapacity(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, available, err := diskUsage(d.root)
	if err != nil {
		return 0, err
	}
	if d.QuotaBytes > 0 && available > d.QuotaBytes {
		available = d.QuotaBytes
	}
	return available, nil
}

// Reachable implements Backend.
func (d *DirBackend) Reachable(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(d.root)
	return err == nil && info.IsDir()
}
