package static

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/taziji/ChinaRMBSite/internal/errors"
)

// Resource is a request path resolved to a regular file under the
// document root.
type Resource struct {
	Path string
	Info os.FileInfo
}

// Resolver maps request paths to files under a single document root.
// It is stateless after construction and safe for concurrent use.
type Resolver struct {
	root  string
	index string
}

// NewResolver verifies that root is a readable directory and returns a
// resolver serving it. index is the filename appended when a request
// resolves to a directory.
func NewResolver(root, index string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.ConfigError("resolving document root: " + err.Error())
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperrors.ConfigError("document root is not accessible: " + err.Error())
	}
	if !info.IsDir() {
		return nil, apperrors.ConfigError("document root is not a directory: " + abs)
	}

	return &Resolver{root: abs, index: index}, nil
}

// Root returns the absolute document root path.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps an HTTP request path to a file under the document root.
//
// The path is normalized before any filesystem access; ".." segments
// that climb out of the root are rejected as forbidden. Dotfile
// segments are rejected as not found so the mirror tree never leaks
// VCS or credential droppings. Directories resolve to their index
// file; a directory without one is not found.
func (r *Resolver) Resolve(requestPath string) (*Resource, error) {
	if strings.ContainsRune(requestPath, '\x00') {
		return nil, apperrors.ForbiddenError("Forbidden")
	}

	// Clean the path in relative form: leading ".." segments survive
	// path.Clean there, which is exactly the escape we must detect.
	rel := strings.TrimPrefix(requestPath, "/")
	cleaned := path.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return nil, apperrors.ForbiddenError("Forbidden")
	}

	for _, segment := range strings.Split(cleaned, "/") {
		if segment != "." && strings.HasPrefix(segment, ".") {
			return nil, apperrors.NotFoundError("Not Found")
		}
	}

	full := filepath.Join(r.root, filepath.FromSlash(cleaned))
	info, err := statError(full)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		full = filepath.Join(full, r.index)
		info, err = statError(full)
		if err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, apperrors.NotFoundError("Not Found")
	}

	return &Resource{Path: full, Info: info}, nil
}

func statError(name string) (os.FileInfo, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, fsError(err)
	}
	return info, nil
}

// fsError maps a filesystem error to the request-level taxonomy.
func fsError(err error) error {
	switch {
	case os.IsNotExist(err):
		return apperrors.NotFoundError("Not Found")
	case os.IsPermission(err):
		return apperrors.ForbiddenError("Forbidden")
	default:
		return apperrors.InternalError("filesystem access failed", err)
	}
}
