package archive_service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ResolvePath maps token to a directory directly under root. Tokens that
// would leave root, name root itself or point at anything but an existing
// directory are reported as not found. On the OS filesystem the check is
// repeated on the real paths, so a symlink out of root is not served.
func ResolvePath(fs afero.Fs, root, token string) (string, error) {
	if token == "" || token == "." || token == ".." ||
		strings.ContainsAny(token, `/\`) || strings.ContainsRune(token, 0) {
		return "", fmt.Errorf("%w: %w: %q", ErrArchiveNotFound, ErrInvalidToken, token)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveNotFound, err)
	}

	dir := filepath.Join(absRoot, token)
	if !within(absRoot, dir) {
		return "", fmt.Errorf("%w: %w: %q", ErrArchiveNotFound, ErrInvalidToken, token)
	}

	isDir, err := afero.IsDir(fs, dir)
	if err != nil || !isDir {
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, token)
	}

	if _, ok := fs.(*afero.OsFs); ok {
		realRoot, err := filepath.EvalSymlinks(absRoot)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrArchiveNotFound, err)
		}
		realDir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrArchiveNotFound, err)
		}
		if !within(realRoot, realDir) {
			return "", fmt.Errorf("%w: %w: %q ведет за пределы каталога", ErrArchiveNotFound, ErrInvalidToken, token)
		}
	}

	return dir, nil
}

// within reports whether path lies strictly inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
