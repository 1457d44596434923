package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/process"
)

// DownloadSpec is one file a profile needs: a URL and a destination path
// relative to the profile working directory.
type DownloadSpec struct {
	URL  string `json:"url"`
	File string `json:"file"`
}

// Downloads lists the files a profile required and which were fetched.
type Downloads struct {
	Specs   []DownloadSpec
	Fetched []string
}

// Manifest renders the sorted "file url" lines written to downloads.txt.
func (d *Downloads) Manifest() []byte {
	specs := append([]DownloadSpec(nil), d.Specs...)
	sort.Slice(specs, func(i, j int) bool { return specs[i].File < specs[j].File })
	var buf bytes.Buffer
	for _, s := range specs {
		fmt.Fprintf(&buf, "%s %s\n", s.File, s.URL)
	}
	return buf.Bytes()
}

// ManifestFiles resolves the files named in a downloads.txt manifest
// against workDir.
func ManifestFiles(workDir string, manifest []byte) []string {
	var files []string
	for _, line := range strings.Split(string(manifest), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		file := line
		if i := strings.LastIndexByte(line, ' '); i > 0 {
			file = line[:i]
		}
		files = append(files, filepath.Join(workDir, filepath.FromSlash(file)))
	}
	return files
}

// ParseDownloadSpecs reads print-downloads output. Each line is either a JSON
// object with "url" and "file", or "URL FILE".
func ParseDownloadSpecs(stdout []byte) ([]DownloadSpec, error) {
	var specs []DownloadSpec
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var spec DownloadSpec
		if strings.HasPrefix(line, "{") {
			if err := json.Unmarshal([]byte(line), &spec); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		} else {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: expected \"URL FILE\"", lineNo)
			}
			spec = DownloadSpec{URL: fields[0], File: fields[1]}
		}
		if spec.URL == "" || spec.File == "" {
			return nil, fmt.Errorf("line %d: url and file are required", lineNo)
		}
		clean := path.Clean(filepath.ToSlash(spec.File))
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, fmt.Errorf("line %d: %s escapes the profile directory", lineNo, spec.File)
		}
		spec.File = clean
		specs = append(specs, spec)
	}
	return specs, scanner.Err()
}

// Download asks the engine which files the profile needs and fetches the
// missing ones into the working directory.
func (e *profileEngine) Download(ctx context.Context) (*Downloads, error) {
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, errs.Config("download", e.profile.Key(), err)
	}
	bin, args := e.Invocation(dataset.OpDownload, nil, nil)
	res, err := e.run(ctx, dataset.OpDownload, e.profile.Key(), process.Command{Binary: bin, Args: args, Dir: e.workDir})
	if err != nil {
		return nil, err
	}
	specs, err := ParseDownloadSpecs(res.Stdout)
	if err != nil {
		return nil, errs.External(string(dataset.OpDownload), e.profile.Key(), err)
	}

	out := &Downloads{Specs: specs}
	for _, spec := range specs {
		dst := filepath.Join(e.workDir, filepath.FromSlash(spec.File))
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Config("download", dst, err)
		}
		if err := fetch(ctx, e.settings.HTTPClient, spec.URL, dst); err != nil {
			if ctx.Err() != nil {
				return nil, errs.Cancelled("download", err)
			}
			return nil, errs.External("download", spec.URL, err)
		}
		out.Fetched = append(out.Fetched, spec.File)
	}
	return out, nil
}

// fetch writes url to dst via a temp file so a partial download never
// appears at dst.
func fetch(ctx context.Context, client *http.Client, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
