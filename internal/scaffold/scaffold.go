// File: internal/scaffold/scaffold.go
package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

//go:embed all:template
var templateFS embed.FS

// Template is the app skeleton written by Create.
func Template() fs.FS {
	sub, err := fs.Sub(templateFS, "template")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrMissingName is returned when no app name is given.
var ErrMissingName = errors.New("app name argument is required, such as: afterburner new myApp")

// Create writes a new app named appName under parent and initializes a git
// repository in it. It refuses to touch an existing directory.
func Create(parent, appName string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if appName == "" {
		return "", ErrMissingName
	}

	dest, err := filepath.Abs(filepath.Join(parent, appName))
	if err != nil {
		return "", fmt.Errorf("failed to resolve app path: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("app directory already exists: %s", dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to check app directory: %w", err)
	}

	logger.Info("creating app at: " + dest)
	if err := copyTree(Template(), dest); err != nil {
		return "", err
	}
	if _, err := git.PlainInit(dest, false); err != nil {
		return "", fmt.Errorf("failed to initialize git repository: %w", err)
	}
	logger.Info("successfully created app at: " + dest)
	return dest, nil
}

func copyTree(src fs.FS, dest string) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		return nil
	})
}
