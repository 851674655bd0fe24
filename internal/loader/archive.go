package loader

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
)

// extractFirst writes the first regular entry of the zip archive to dest
// and returns the entry name.
func extractFirst(archive, dest string) (string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := copyEntry(f, dest); err != nil {
			return "", err
		}
		return f.Name, nil
	}

	return "", fmt.Errorf("archive %s has no file entry", archive)
}

func copyEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
