package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot is returned when a target resolves outside the root directory.
	ErrOutsideRoot = errors.New("path escapes the root directory")
	// ErrInvalidTarget is returned for targets that can't be decoded.
	ErrInvalidTarget = errors.New("invalid request target")
	// ErrIsDirectory is returned when a target names a directory.
	ErrIsDirectory = errors.New("is a directory")
)

// Root serves read-only files from below a single directory.
type Root struct {
	dir  string // absolute, cleaned
	real string // dir with symlinks evaluated
}

func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory %s: %w", dir, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("root directory %s is not accessible: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("root directory %s is not accessible: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root directory %s is not a directory", abs)
	}
	return &Root{dir: abs, real: real}, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a request target onto an absolute path below the root.
// The query string is dropped and percent-escapes are decoded before the
// path is cleaned; a cleaned path outside the root is rejected rather than
// clamped.
func (r *Root) Resolve(target string) (string, error) {
	_, full, err := r.resolve(target)
	return full, err
}

// Open resolves target and opens the file read-only. Errors are
// *fs.PathError values naming the request path, never the absolute one.
func (r *Root) Open(target string) (*os.File, fs.FileInfo, error) {
	name, full, err := r.resolve(target)
	if err != nil {
		return nil, nil, err
	}

	// Symlinks may point anywhere; check where they actually land.
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return nil, nil, pathError(name, err)
	}
	if !within(r.real, real) {
		return nil, nil, pathError(name, ErrOutsideRoot)
	}

	f, err := os.Open(real)
	if err != nil {
		return nil, nil, pathError(name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, pathError(name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, pathError(name, ErrIsDirectory)
	}
	return f, info, nil
}

func (r *Root) resolve(target string) (name, full string, err error) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	decoded, err := url.PathUnescape(target)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return "", "", fmt.Errorf("%w: NUL byte in path", ErrInvalidTarget)
	}

	full = filepath.Join(r.dir, filepath.FromSlash(decoded))
	if !within(r.dir, full) {
		return "", "", pathError(decoded, ErrOutsideRoot)
	}

	rel, err := filepath.Rel(r.dir, full)
	if err != nil {
		return "", "", pathError(decoded, ErrOutsideRoot)
	}
	name = "/" + filepath.ToSlash(rel)
	if rel == "." {
		name = "/"
	}
	return name, full, nil
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

func pathError(name string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &fs.PathError{Op: "open", Path: name, Err: err}
}
