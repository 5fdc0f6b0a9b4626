package agent

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// captureBackup archives the descriptor's backup paths and uploads the
// resulting tar.gz to the presigned URL before any command runs.
func (s *Service) captureBackup(ctx context.Context, desc jobDescriptor) error {
	if err := os.MkdirAll(s.config.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	archivePath := filepath.Join(s.config.StateDir, desc.JobID+".tar.gz")
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(archivePath)

	n, err := writeArchive(f, desc.BackupPaths)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no files matched backup paths %v", desc.BackupPaths)
	}

	return s.uploadArchive(ctx, desc.BackupUploadURL, archivePath)
}

// writeArchive tars and gzips every file under the given paths. Glob patterns
// are expanded; entry names are the absolute source paths with the leading
// separator stripped. Returns how many files were archived.
func writeArchive(w io.Writer, paths []string) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	count := 0
	for _, raw := range paths {
		expanded, err := expandHome(raw)
		if err != nil {
			return count, err
		}

		matches := []string{expanded}
		if strings.ContainsAny(expanded, "*?[") {
			matches, err = filepath.Glob(expanded)
			if err != nil {
				return count, fmt.Errorf("expand pattern %q: %w", raw, err)
			}
		}

		for _, match := range matches {
			n, err := archiveTree(tw, match)
			if err != nil {
				return count, err
			}
			count += n
		}
	}

	if err := tw.Close(); err != nil {
		return count, err
	}
	return count, gz.Close()
}

func archiveTree(tw *tar.Writer, root string) (int, error) {
	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Files can vanish between listing and read; skip them.
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = strings.TrimPrefix(filepath.ToSlash(abs), "/")

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return err
		}

		count++
		return nil
	})
	return count, err
}

func (s *Service) uploadArchive(ctx context.Context, uploadURL, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/gzip")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("upload unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// restoreBackup downloads the archive and extracts it under root, restoring
// every file to its original absolute path. Returns the file count.
func (s *Service) restoreBackup(ctx context.Context, downloadURL, root string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("download unexpected status %d", resp.StatusCode)
	}

	return extractArchive(resp.Body, root)
}

func extractArchive(r io.Reader, root string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if strings.Contains(header.Name, "..") {
			return count, fmt.Errorf("refusing archive entry %q", header.Name)
		}

		dest := filepath.Join(root, filepath.FromSlash(header.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return count, fmt.Errorf("create directory for %q: %w", header.Name, err)
		}

		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
		if err != nil {
			return count, fmt.Errorf("create %q: %w", dest, err)
		}
		_, err = io.Copy(f, tr)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return count, fmt.Errorf("write %q: %w", dest, err)
		}
		count++
	}

	return count, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
