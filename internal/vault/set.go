package vault

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnknownRoot is returned for keys whose label names no configured root.
var ErrUnknownRoot = errors.New("unknown root")

// Root is a named watched directory.
type Root struct {
	Name    string
	Manager *Manager
}

// Set is the collection of roots one pipeline indexes.
//
// With a single root, document keys are paths relative to it ("reports/q1.pdf").
// With several, keys carry the root name as their first segment
// ("emails/2024/invoice.pdf") so sources from different roots never collide.
type Set struct {
	roots    []Root
	prefixed bool
}

// NewSet validates roots and returns a Set. Names must be unique, non-empty
// and free of slashes; roots must not contain one another.
func NewSet(roots ...Root) (*Set, error) {
	if len(roots) == 0 {
		return nil, errors.New("at least one root is required")
	}
	seen := make(map[string]struct{}, len(roots))
	for i, r := range roots {
		if r.Manager == nil {
			return nil, fmt.Errorf("root %q has no manager", r.Name)
		}
		if r.Name == "" || strings.ContainsAny(r.Name, `/\`) {
			return nil, fmt.Errorf("invalid root name %q", r.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("duplicate root name %q", r.Name)
		}
		seen[r.Name] = struct{}{}

		for _, other := range roots[:i] {
			if within(r.Manager.Root(), other.Manager.Root()) || within(other.Manager.Root(), r.Manager.Root()) {
				return nil, fmt.Errorf("roots %s and %s overlap", other.Manager.Root(), r.Manager.Root())
			}
		}
	}
	return &Set{roots: roots, prefixed: len(roots) > 1}, nil
}

// within reports whether path equals dir or lies beneath it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Managers returns the manager of every root in configuration order.
func (s *Set) Managers() []*Manager {
	out := make([]*Manager, len(s.roots))
	for i, r := range s.roots {
		out[i] = r.Manager
	}
	return out
}

// Roots returns the absolute directories of every root.
func (s *Set) Roots() []string {
	out := make([]string, len(s.roots))
	for i, r := range s.roots {
		out[i] = r.Manager.Root()
	}
	return out
}

// find returns the root containing absPath.
func (s *Set) find(absPath string) (Root, string, bool) {
	for _, r := range s.roots {
		if rel, err := r.Manager.RelPath(absPath); err == nil {
			return r, rel, true
		}
	}
	return Root{}, "", false
}

func (s *Set) key(r Root, rel string) string {
	if !s.prefixed {
		return rel
	}
	return r.Name + "/" + rel
}

// RelPath returns the document key for absPath.
func (s *Set) RelPath(absPath string) (string, error) {
	r, rel, ok := s.find(absPath)
	if !ok {
		return "", fmt.Errorf("path %s is not under any root", absPath)
	}
	return s.key(r, rel), nil
}

// AbsPath resolves a document key back to a file path.
func (s *Set) AbsPath(key string) (string, error) {
	if !s.prefixed {
		return s.roots[0].Manager.AbsPath(key), nil
	}
	name, rel, ok := strings.Cut(key, "/")
	if ok && rel != "" {
		for _, r := range s.roots {
			if r.Name == name {
				return r.Manager.AbsPath(rel), nil
			}
		}
	}
	return "", fmt.Errorf("%w for key %q", ErrUnknownRoot, key)
}

// Accepts reports whether absPath is an indexable file under one of the roots.
func (s *Set) Accepts(absPath string) bool {
	r, _, ok := s.find(absPath)
	return ok && r.Manager.Accepts(absPath)
}

// ScanAll walks every root. Keys in the result are document keys.
func (s *Set) ScanAll(ctx context.Context) ([]ScannedFile, error) {
	var out []ScannedFile
	for _, r := range s.roots {
		files, err := r.Manager.ScanAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning root %s: %w", r.Name, err)
		}
		for _, f := range files {
			f.RelPath = s.key(r, f.RelPath)
			out = append(out, f)
		}
	}
	return out, nil
}

// ScanDir walks a directory inside one of the roots.
func (s *Set) ScanDir(ctx context.Context, dir string) ([]ScannedFile, error) {
	for _, r := range s.roots {
		if !within(dir, r.Manager.Root()) {
			continue
		}
		files, err := r.Manager.ScanDir(ctx, dir)
		for i := range files {
			files[i].RelPath = s.key(r, files[i].RelPath)
		}
		return files, err
	}
	return nil, fmt.Errorf("directory %s is not under any root", dir)
}
