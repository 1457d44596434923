package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mwiater/voxeval/internal/dataset"
)

// Stage copies the profile's user files into its working directory so the
// engine trains from a private copy.
func Stage(p *dataset.Profile, workDir string) error {
	files, err := p.InputFiles()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	for _, src := range files {
		rel, err := filepath.Rel(p.Dir, src)
		if err != nil {
			return err
		}
		if err := copyFile(src, filepath.Join(workDir, rel)); err != nil {
			return fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
