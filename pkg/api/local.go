package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// discoveryRoot is one named local directory containing report runs.
type discoveryRoot struct {
	name string
	dir  string
}

// localFileServer serves report run files directly from the local
// filesystem. Roots are searched in name order so resolution is
// deterministic when a file exists under more than one of them.
type localFileServer struct {
	log   logrus.FieldLogger
	roots []discoveryRoot
}

// newLocalFileServer creates a new local file server from the given config.
func newLocalFileServer(
	log logrus.FieldLogger,
	cfg *config.APILocalStorageConfig,
) *localFileServer {
	roots := make([]discoveryRoot, 0, len(cfg.DiscoveryPaths))
	for name, dir := range cfg.DiscoveryPaths {
		roots = append(roots, discoveryRoot{
			name: name,
			dir:  filepath.Clean(dir),
		})
	}

	sort.Slice(roots, func(i, j int) bool {
		return roots[i].name < roots[j].name
	})

	return &localFileServer{
		log:   log.WithField("component", "local-file-server"),
		roots: roots,
	}
}

// ServeFile locates filePath under one of the discovery roots and serves
// it via http.ServeFile. Returns an error when the path is disallowed or
// not found under any root.
func (l *localFileServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	for _, root := range l.roots {
		full := filepath.Join(root.dir, filePath)

		// Defense-in-depth: ensure the resolved path stays under the root.
		if !strings.HasPrefix(full, root.dir+string(filepath.Separator)) &&
			full != root.dir {
			continue
		}

		if _, err := os.Stat(full); err != nil {
			continue
		}

		l.log.WithFields(logrus.Fields{
			"discovery": root.name,
			"path":      filePath,
		}).Debug("Serving report file")

		http.ServeFile(w, r, full)

		return nil
	}

	return fmt.Errorf("file %q not found in any discovery path", filePath)
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func (l *localFileServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	// Reject paths that start with a slash (absolute paths).
	if filepath.IsAbs(filePath) {
		return false
	}

	// Ensure the path is clean (no double slashes, trailing slashes, etc.).
	return path.Clean(filePath) == filePath
}
