package bundler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Within reports whether path lies inside root. Symlinks are resolved where
// the path exists, so a link inside root pointing out of it is outside.
func Within(root, path string) bool {
	absRoot, err := realPath(root)
	if err != nil {
		return false
	}
	abs, err := realPath(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// realPath makes path absolute and resolves symlinks in it, or in its parent
// when path itself does not exist yet.
func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return abs, nil
}

// rootPlugin fails the build on any file loaded from outside root. Files
// inside root fall through to the next loader.
func rootPlugin(root string) api.Plugin {
	return api.Plugin{
		Name: "root",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					if !Within(root, args.Path) {
						return api.OnLoadResult{}, fmt.Errorf("%s is outside %s", args.Path, root)
					}
					return api.OnLoadResult{}, nil
				})
		},
	}
}
