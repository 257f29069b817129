package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/docchat/internal/types"
)

// ErrUnsupportedFile is returned for files outside AcceptedExtensions.
var ErrUnsupportedFile = errors.New("unsupported file type")

// AcceptedExtensions lists the document formats the backend processes.
var AcceptedExtensions = []string{".pdf", ".doc", ".docx", ".txt"}

// Supported reports whether name has an accepted extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range AcceptedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// Filter splits files into the accepted ones and an error naming the rest.
func Filter(files []types.File) ([]types.File, error) {
	var (
		accepted []types.File
		errs     []error
	)
	for _, f := range files {
		if Supported(f.Name) {
			accepted = append(accepted, f)
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w (accepted: %s)", f.Name, ErrUnsupportedFile, strings.Join(AcceptedExtensions, " ")))
	}
	return accepted, errors.Join(errs...)
}

// LocalFile describes a file on disk without opening it.
func LocalFile(path string) (types.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return types.File{}, fmt.Errorf("%s is a directory", path)
	}
	return types.File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}
