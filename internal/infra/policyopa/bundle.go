package policyopa

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"

	"github.com/open-policy-agent/opa/util"
)

// Bundle is a governance bundle read into memory. The bytes that were
// hashed are the bytes that get compiled.
type Bundle struct {
	ID      string
	Hash    string
	Modules map[string]string
	Data    map[string]any
}

type hashedFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ReadBundleDir reads the bundle rooted at dir.
func ReadBundleDir(dir, id string) (*Bundle, error) {
	return ReadBundle(os.DirFS(dir), id)
}

// ReadBundle walks fsys collecting .rego modules and data.json documents.
// A data.json below a subdirectory is mounted at that directory's path.
// manifest.json is hashed but not loaded.
func ReadBundle(fsys fs.FS, id string) (*Bundle, error) {
	b := &Bundle{ID: id, Modules: map[string]string{}, Data: map[string]any{}}
	var files []hashedFile
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if name == "." {
			return nil
		}
		if d.IsDir() {
			if ignoredDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		kind := fileKind(d.Name())
		if kind == "" {
			return nil
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		files = append(files, hashedFile{Path: name, SHA256: cryptoinfra.SHA256Hex(raw)})
		switch kind {
		case "rego":
			b.Modules[name] = string(raw)
		case "data":
			if err := b.mountData(path.Dir(name), raw); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read policy bundle %s: %w", id, err)
	}
	if len(b.Modules) == 0 {
		return nil, fmt.Errorf("policy bundle %s has no rego modules", id)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	b.Hash, err = cryptoinfra.HashCanonical(map[string]any{"files": files})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ComputeBundleHashFromPath returns the policy_version_hash of the bundle
// rooted at dir.
func ComputeBundleHashFromPath(dir string) (string, error) {
	b, err := ReadBundleDir(dir, path.Base(dir))
	if err != nil {
		return "", err
	}
	return b.Hash, nil
}

func (b *Bundle) mountData(dir string, raw []byte) error {
	var doc any
	if err := util.UnmarshalJSON(bytes.TrimSpace(raw), &doc); err != nil {
		return err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return errors.New("data document must be a JSON object")
	}
	target := b.Data
	if dir != "." {
		for _, segment := range strings.Split(dir, "/") {
			existing, present := target[segment]
			if !present {
				existing = map[string]any{}
				target[segment] = existing
			}
			next, ok := existing.(map[string]any)
			if !ok {
				return fmt.Errorf("data conflict at %q", dir)
			}
			target = next
		}
	}
	return mergeData(target, obj)
}

func mergeData(dst, src map[string]any) error {
	for k, v := range src {
		existing, present := dst[k]
		if !present {
			dst[k] = v
			continue
		}
		a, aok := existing.(map[string]any)
		b, bok := v.(map[string]any)
		if !aok || !bok {
			return fmt.Errorf("data conflict at %q", k)
		}
		if err := mergeData(a, b); err != nil {
			return err
		}
	}
	return nil
}

func ignoredDir(base string) bool {
	return base == "vendor" || base == "__MACOSX" || strings.HasPrefix(base, ".")
}

func fileKind(base string) string {
	switch {
	case strings.HasPrefix(base, "."):
		return ""
	case base == "data.json":
		return "data"
	case base == "manifest.json":
		return "manifest"
	case strings.HasSuffix(base, ".rego"):
		return "rego"
	}
	return ""
}
