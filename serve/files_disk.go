package serve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
)

// maxTreeEntries bounds a single tree listing.
const maxTreeEntries = 5000

// DiskFileStore serves workspace files from the per-workspace host
// directories that are bind-mounted into the containers.
type DiskFileStore struct {
	root string
}

var _ FileStore = (*DiskFileStore)(nil)

// NewDiskFileStore serves files from root/<workspace id>.
func NewDiskFileStore(root string) *DiskFileStore {
	return &DiskFileStore{root: root}
}

// resolve maps a workspace-relative path to an absolute host path, rejecting
// paths that escape the workspace directly or through symlinks. For paths
// that do not exist yet the nearest existing ancestor is checked.
func (d *DiskFileStore) resolve(workspaceID, p string) (string, string, error) {
	if err := container.ValidateWorkspaceID(workspaceID); err != nil {
		return "", "", err
	}
	rel, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}

	root, err := filepath.Abs(filepath.Join(d.root, workspaceID))
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", err
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", err
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	existing := abs
	for existing != root {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		existing = filepath.Dir(existing)
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", "", err
	}
	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s escapes the workspace", devspace.ErrInvalidPath, p)
	}
	if existing == abs {
		return resolved, rel, nil
	}
	return abs, rel, nil
}

// ListFiles walks the workspace directory below prefix. Hidden entries are
// skipped.
func (d *DiskFileStore) ListFiles(workspaceID, prefix string) ([]FileEntry, error) {
	start, rel, err := d.resolve(workspaceID, prefix)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(start)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if rel == "" {
				return []FileEntry{}, nil
			}
			return nil, fmt.Errorf("%w: %s", devspace.ErrFileNotFound, prefix)
		}
		return nil, err
	}
	if !info.IsDir() {
		return []FileEntry{fileEntry(rel, info)}, nil
	}

	var files []FileEntry
	err = filepath.WalkDir(start, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == start {
			return nil
		}
		if strings.HasPrefix(e.Name(), ".") {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxTreeEntries {
			return fs.SkipAll
		}
		fi, err := e.Info()
		if err != nil {
			return nil
		}
		sub, _ := filepath.Rel(start, p)
		files = append(files, fileEntry(joinRel(rel, filepath.ToSlash(sub)), fi))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if files == nil {
		files = []FileEntry{}
	}
	return files, nil
}

// ReadFile returns a file from the workspace directory.
func (d *DiskFileStore) ReadFile(workspaceID, p string) (*FileContent, error) {
	abs, rel, err := d.resolve(workspaceID, p)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, fmt.Errorf("%w: path is required", devspace.ErrInvalidPath)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", devspace.ErrFileNotFound, rel)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", devspace.ErrInvalidPath, rel)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("file too large (max %d bytes)", MaxFileSize)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	fc := &FileContent{
		Path:        rel,
		ContentType: detectContentType(info.Name()),
		Size:        info.Size(),
		ModTime:     info.ModTime().UTC(),
	}
	encodeContent(fc, data)
	return fc, nil
}

// WriteFile writes a file atomically, creating parent directories.
func (d *DiskFileStore) WriteFile(workspaceID, p string, data []byte) (FileEntry, error) {
	abs, rel, err := d.resolve(workspaceID, p)
	if err != nil {
		return FileEntry{}, err
	}
	if rel == "" {
		return FileEntry{}, fmt.Errorf("%w: path is required", devspace.ErrInvalidPath)
	}
	if len(data) > MaxFileSize {
		return FileEntry{}, fmt.Errorf("file too large (max %d bytes)", MaxFileSize)
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileEntry{}, err
	}
	tmp, err := os.CreateTemp(dir, ".devspace-*")
	if err != nil {
		return FileEntry{}, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return FileEntry{}, err
	}
	if err := tmp.Close(); err != nil {
		return FileEntry{}, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return FileEntry{}, err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return FileEntry{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return FileEntry{}, err
	}
	return fileEntry(rel, info), nil
}

func fileEntry(rel string, info fs.FileInfo) FileEntry {
	fe := FileEntry{
		Path:    rel,
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}
	if !info.IsDir() {
		fe.ContentType = detectContentType(info.Name())
	}
	return fe
}

func joinRel(prefix, sub string) string {
	if prefix == "" {
		return sub
	}
	return prefix + "/" + sub
}
