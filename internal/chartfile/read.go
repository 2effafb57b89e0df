// Package chartfile loads chart images from disk for the CLI and the MCP
// server.
package chartfile

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/workspace"
)

// Read loads the chart at path. Files over maxBytes are refused without
// being read in full; maxBytes <= 0 means no limit.
func Read(path string, maxBytes int64) (workspace.Image, error) {
	f, err := openNoFollow(filepath.Clean(path))
	if err != nil {
		if _, ok := errors.As(err); ok {
			return workspace.Image{}, err
		}
		return workspace.Image{}, errors.NewInvalidRequest("cannot open chart: " + err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return workspace.Image{}, errors.NewInternal(err)
	}
	if info.IsDir() {
		return workspace.Image{}, errors.NewInvalidRequest("path is a directory")
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return workspace.Image{}, errors.NewFileTooLarge(maxBytes, info.Size())
	}

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return workspace.Image{}, errors.NewInternal(err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return workspace.Image{}, errors.NewFileTooLarge(maxBytes, int64(len(data)))
	}

	return workspace.Image{
		Name:        filepath.Base(path),
		ContentType: Extensions[strings.ToLower(filepath.Ext(path))],
		Data:        data,
	}, nil
}
