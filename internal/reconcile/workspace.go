package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
)

// WorkDir returns the patched working copy path for an issue.
func WorkDir(outputDir, issueType string, issueNumber int) string {
	return filepath.Join(outputDir, "patches", fmt.Sprintf("%s_%d", issueType, issueNumber))
}

// InitializeRepo copies outputDir/repo into a fresh working copy under
// outputDir/patches, replacing any previous copy, and checks out baseRef
// when it is non-empty. It returns the working copy path.
func InitializeRepo(ctx context.Context, git Git, outputDir string, issueNumber int, issueType, baseRef string) (string, error) {
	src := filepath.Join(outputDir, "repo")
	dst := WorkDir(outputDir, issueType, issueNumber)

	info, err := os.Stat(src)
	if err != nil {
		return "", &RepoInitError{Dir: src, Err: err}
	}
	if !info.IsDir() {
		return "", &RepoInitError{Dir: src, Err: errors.New("source checkout is not a directory")}
	}

	if err := os.RemoveAll(dst); err != nil {
		return "", &RepoInitError{Dir: dst, Err: fmt.Errorf("removing previous copy: %w", err)}
	}
	if err := copyTree(src, dst); err != nil {
		return "", &RepoInitError{Dir: dst, Err: err}
	}
	clog.FromContext(ctx).Infof("copied repository to %s", dst)

	if baseRef != "" {
		if err := git.Checkout(ctx, dst, baseRef); err != nil {
			return "", &RepoInitError{Dir: dst, Err: fmt.Errorf("checking out %s: %w", baseRef, err)}
		}
	}
	return dst, nil
}

// copyTree copies a directory tree, keeping file modes and symlinks.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		}
		return nil
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
