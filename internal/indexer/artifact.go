package indexer

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/golang/snappy"
)

// Pack archives the index directory at dir as a snappy-framed tar stream.
func Pack(dir string) ([]byte, error) {
	var buf bytes.Buffer
	sw := snappy.NewBufferedWriter(&buf)
	tw := tar.NewWriter(sw)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("archiving index %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}
	if err := sw.Close(); err != nil {
		return nil, fmt.Errorf("closing snappy stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack extracts an artifact produced by Pack into dir.
func Unpack(data []byte, dir string) error {
	tr := tar.NewReader(snappy.NewReader(bytes.NewReader(data)))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading artifact: %w", err)
		}
		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("artifact entry %q escapes target directory", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// Index is a bleve index opened from an artifact. Closing it removes the
// scratch directory it was unpacked into.
type Index struct {
	bleve.Index
	dir string
}

// Open unpacks data under workDir and opens the index it contains.
func Open(data []byte, workDir string) (*Index, error) {
	if len(data) == 0 {
		return nil, errors.New("empty index artifact")
	}
	dir, err := os.MkdirTemp(workDir, "sitesearch-idx-*")
	if err != nil {
		return nil, fmt.Errorf("creating index dir: %w", err)
	}
	path := filepath.Join(dir, "index")
	if err := Unpack(data, path); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	idx, err := bleve.Open(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("opening index: %w", err)
	}
	return &Index{Index: idx, dir: dir}, nil
}

func (i *Index) Close() error {
	err := i.Index.Close()
	if rmErr := os.RemoveAll(i.dir); err == nil {
		err = rmErr
	}
	return err
}
