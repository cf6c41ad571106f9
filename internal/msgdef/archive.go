package msgdef

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bagtools/remux/internal/logger"
)

// interfaceRepos are the upstream repositories holding the standard
// interface packages. Together they cover the builtin, common and tf types.
var interfaceRepos = []string{
	"rcl_interfaces",
	"common_interfaces",
	"geometry2",
}

const archiveURLFormat = "https://github.com/ros2/%s/archive/refs/heads/%s.zip"

// ArchiveSource resolves standard interface definitions by downloading the
// upstream repositories for a distro into a cache directory. The download
// happens at most once: a non-empty distro directory is taken to mean the
// archives were already extracted on a previous run.
type ArchiveSource struct {
	cacheDir string
	distro   string
	client   *http.Client
	log      zerolog.Logger

	once sync.Once
	dir  *DirSource
	err  error
}

// NewArchiveSource returns a source that caches extracted archives under
// cacheDir/<distro>. A nil client uses a default with a generous timeout.
func NewArchiveSource(cacheDir, distro string, client *http.Client) *ArchiveSource {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &ArchiveSource{
		cacheDir: cacheDir,
		distro:   distro,
		client:   client,
		log:      logger.WithComponent("msgdef"),
	}
}

func (s *ArchiveSource) Find(typeName string) (string, error) {
	s.once.Do(s.ensure)
	if s.err != nil {
		return "", s.err
	}
	return s.dir.Find(typeName)
}

func (s *ArchiveSource) ensure() {
	target := filepath.Join(s.cacheDir, s.distro)
	populated, err := dirNonEmpty(target)
	if err != nil {
		s.err = err
		return
	}
	if populated {
		s.log.Debug().Str("dir", target).Msg("interface archives already extracted")
		s.dir = NewDirSource(target)
		return
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		s.err = err
		return
	}
	for _, repo := range interfaceRepos {
		url := fmt.Sprintf(archiveURLFormat, repo, s.distro)
		s.log.Info().Str("url", url).Msg("fetching interface archive")
		if err := s.fetchAndExtract(url, target); err != nil {
			s.err = err
			return
		}
	}
	s.dir = NewDirSource(target)
}

func (s *ArchiveSource) fetchAndExtract(url, target string) error {
	resp, err := s.client.Get(url)
	if err != nil {
		return FetchError{URL: url, Reason: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FetchError{URL: url, Reason: resp.Status}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchError{URL: url, Reason: err.Error()}
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return FetchError{URL: url, Reason: err.Error()}
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".msg") {
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	dest := filepath.Join(target, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(target)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes extraction root: %s", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func dirNonEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}
