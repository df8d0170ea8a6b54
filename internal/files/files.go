// Package files prepares local paths for sending and stores received files.
package files

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/BioHazard786/warproom/internal/transfer"
	"github.com/BioHazard786/warproom/internal/utils"
)

var ErrUnsafeName = errors.New("unsafe file name")

// Source is a validated file ready to be streamed.
type Source struct {
	// Path is the absolute path that will be read. For a directory this is
	// the temporary archive.
	Path string

	Meta transfer.FileMeta

	// cleanup removes any temporary archive.
	cleanup func() error
}

// Open returns a reader positioned at the start of the file.
func (s *Source) Open() (io.ReadCloser, error) {
	return os.Open(s.Path)
}

// Close releases temporary files created by Prepare.
func (s *Source) Close() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}

// Prepare validates path. A directory is zipped into a temporary archive
// named after it.
func Prepare(path string) (*Source, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: file does not exist", path)
		}
		return nil, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return prepareDir(absPath)
	}
	if !stat.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot read file: %w", path, err)
	}
	f.Close()

	name := stat.Name()
	return &Source{
		Path: absPath,
		Meta: transfer.FileMeta{Name: name, MIME: DetectMIME(name), Size: stat.Size()},
	}, nil
}

func prepareDir(dir string) (*Source, error) {
	tmp, err := os.MkdirTemp("", "warproom-*")
	if err != nil {
		return nil, err
	}
	name := filepath.Base(dir) + ".zip"
	archive := filepath.Join(tmp, name)

	if err := utils.ZipDirectory(dir, archive); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("%s: failed to archive directory: %w", dir, err)
	}
	stat, err := os.Stat(archive)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	return &Source{
		Path:    archive,
		Meta:    transfer.FileMeta{Name: name, MIME: "application/zip", Size: stat.Size()},
		cleanup: func() error { return os.RemoveAll(tmp) },
	}, nil
}

// DetectMIME guesses a MIME type from the extension.
func DetectMIME(name string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		return transfer.DefaultMIMEType
	}
	return t
}

// Save writes f into dir without overwriting existing files and returns
// the path written. The peer-supplied name is reduced to its base name.
func Save(dir string, f transfer.File) (string, error) {
	name, err := SafeName(f.Name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := utils.GetUniqueFilename(filepath.Join(dir, name))
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := out.Write(f.Data); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, out.Close()
}

// SafeName strips directories from a peer-supplied file name.
func SafeName(name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return base, nil
}
