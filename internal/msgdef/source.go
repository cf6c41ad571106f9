package msgdef

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source locates the raw .msg text for a fully-qualified type name.
type Source interface {
	// Find returns the definition body for a type like "geometry_msgs/msg/Pose".
	// A missing type reports TypeNotFoundError.
	Find(typeName string) (string, error)
}

// DirSource resolves definitions from a directory tree laid out the ROS way:
// <anything>/<package>/msg/<Name>.msg. The tree is indexed once on first use.
type DirSource struct {
	root string

	once  sync.Once
	index map[string]string
	err   error
}

// NewDirSource returns a source backed by the given directory tree.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

func (s *DirSource) Find(typeName string) (string, error) {
	s.once.Do(s.scan)
	if s.err != nil {
		return "", s.err
	}
	path, ok := s.index[canonicalKey(typeName)]
	if !ok {
		return "", TypeNotFoundError{Type: typeName}
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *DirSource) scan() {
	index := make(map[string]string)
	s.err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".msg") {
			return nil
		}
		dir := filepath.Dir(path)
		if filepath.Base(dir) != "msg" {
			return nil
		}
		pkg := filepath.Base(filepath.Dir(dir))
		name := strings.TrimSuffix(d.Name(), ".msg")
		key := pkg + "/" + name
		// First hit wins so that earlier directories shadow later ones.
		if _, ok := index[key]; !ok {
			index[key] = path
		}
		return nil
	})
	s.index = index
}

// canonicalKey maps both "pkg/msg/Name" and "pkg/Name" to "pkg/Name".
func canonicalKey(typeName string) string {
	parts := strings.Split(typeName, "/")
	if len(parts) == 3 && parts[1] == "msg" {
		return parts[0] + "/" + parts[2]
	}
	return typeName
}
