package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Supported reports whether path has an image extension the loader can decode.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Input is the ordered work list of a batch. The position of a path in Items
// is its enumeration index.
type Input struct {
	Items   []string
	Skipped []string
}

// EnumerateDir lists the supported images under dir in lexical order. Files
// with other extensions are returned in Skipped. An unreadable dir is an error.
func EnumerateDir(dir string, recursive bool) (*Input, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input %s is not a directory", dir)
	}

	in := &Input{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Unreadable subdirectory; its images cannot be enumerated.
			in.Skipped = append(in.Skipped, path)
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if Supported(path) {
			in.Items = append(in.Items, path)
		} else {
			in.Skipped = append(in.Skipped, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", dir, err)
	}
	return in, nil
}

// Enumerate builds an Input from explicit paths, keeping their order.
// Directories are expanded in place with EnumerateDir. Files that do not
// exist are kept so that they are reported as decode errors.
func Enumerate(paths []string, recursive bool) (*Input, error) {
	in := &Input{}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			sub, err := EnumerateDir(p, recursive)
			if err != nil {
				return nil, err
			}
			in.Items = append(in.Items, sub.Items...)
			in.Skipped = append(in.Skipped, sub.Skipped...)
			continue
		}
		if Supported(p) {
			in.Items = append(in.Items, p)
		} else {
			in.Skipped = append(in.Skipped, p)
		}
	}
	return in, nil
}
