package linker

import (
	"io/fs"
	"os"
	"strings"
)

// FileSource provides module source text.
type FileSource interface {
	// ReadFile returns the contents of path.
	ReadFile(path string) (string, error)
	// IsFile reports whether path names an existing regular file.
	IsFile(path string) bool
}

// OSFiles reads modules from the local filesystem.
type OSFiles struct{}

func (OSFiles) ReadFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (OSFiles) IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// FS adapts an fs.FS. Module specifiers are absolute paths; the leading
// slash is dropped before the lookup.
func FS(fsys fs.FS) FileSource {
	return fsFiles{fsys: fsys}
}

type fsFiles struct {
	fsys fs.FS
}

func (f fsFiles) ReadFile(path string) (string, error) {
	b, err := fs.ReadFile(f.fsys, fsName(path))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f fsFiles) IsFile(path string) bool {
	fi, err := fs.Stat(f.fsys, fsName(path))
	return err == nil && fi.Mode().IsRegular()
}

func fsName(path string) string {
	name := strings.TrimPrefix(path, "/")
	if name == "" {
		return "."
	}
	return name
}
