package media

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CreateArchive bundles the entire source directory tree into a zip
// archive, flattened at the archive root. The archive file is fully
// flushed to disk before the call returns. The archive file itself is
// skipped if it lives inside the source directory.
func CreateArchive(srcDir, archivePath string) error {
	zipFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	zipWriter := zip.NewWriter(zipFile)

	absArchive, _ := filepath.Abs(archivePath)

	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == absArchive {
			return nil
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		entryPath := filepath.ToSlash(relPath)

		if info.IsDir() {
			_, err := zipWriter.Create(entryPath + "/")
			return err
		}

		writer, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:   entryPath,
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		return err
	})

	if walkErr != nil {
		zipWriter.Close()
		zipFile.Close()
		os.Remove(archivePath)
		return fmt.Errorf("write archive: %w", walkErr)
	}

	if err := zipWriter.Close(); err != nil {
		zipFile.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := zipFile.Sync(); err != nil {
		zipFile.Close()
		return fmt.Errorf("flush archive: %w", err)
	}
	return zipFile.Close()
}
