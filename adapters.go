package sdl

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const adaptersHashKey = "adapters_hash"

// adaptersHash digests every .risor script the Engine would run, in
// sorted path order, so any edit to extraction or resolution logic
// changes the hash.
func (e *Engine) adaptersHash() (string, error) {
	type script struct {
		path string
		data []byte
	}
	var scripts []script

	if e.scriptsFS != nil {
		err := fs.WalkDir(e.scriptsFS, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".risor") {
				return err
			}
			data, err := fs.ReadFile(e.scriptsFS, path)
			if err != nil {
				return err
			}
			scripts = append(scripts, script{path: path, data: data})
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("hash scripts: %w", err)
		}
	} else if e.scriptsDir != "" {
		err := filepath.WalkDir(e.scriptsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".risor") {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(e.scriptsDir, path)
			scripts = append(scripts, script{path: filepath.ToSlash(rel), data: data})
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("hash scripts: %w", err)
		}
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].path < scripts[j].path })
	h := sha256.New()
	for _, s := range scripts {
		fmt.Fprintf(h, "%s\n", s.path)
		h.Write(s.data)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// AdaptersChanged reports whether the extraction/resolution scripts
// differ from the ones that produced the stored index. A changed
// adapter set means fingerprints may shift without any source edit, so
// callers should prefer a full refresh.
func (e *Engine) AdaptersChanged() (bool, error) {
	current, err := e.adaptersHash()
	if err != nil {
		return false, err
	}
	stored, err := e.store.Metadata(adaptersHashKey)
	if err != nil {
		return false, &StorageError{Op: "Metadata", Err: err}
	}
	return stored != "" && stored != current, nil
}

// recordAdaptersHash persists the current script hash after a refresh.
func (e *Engine) recordAdaptersHash() {
	current, err := e.adaptersHash()
	if err != nil {
		e.logger.Warn("adapters hash failed")
		return
	}
	if err := e.store.SetMetadata(adaptersHashKey, current); err != nil {
		e.logger.Warn("adapters hash persist failed")
	}
}
