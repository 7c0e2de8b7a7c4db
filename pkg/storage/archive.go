package storage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tableflow/tableflow/pkg/models"
)

// dumpTimestampLayout matches the timestamped dump archive names.
const dumpTimestampLayout = "20060102_150405"

// maxArchiveEntryBytes bounds a single extracted file to guard against
// decompression bombs in client-supplied archives.
const maxArchiveEntryBytes = 512 << 20

// RestoredFile describes one conversation file recovered from an archive.
type RestoredFile struct {
	Path string
	Role models.FileRole
}

// Dump packs the conversation directory (metadata.json included) into
// <base>/dumps/<chat_id>_<timestamp>.tar.gz and returns the archive path.
// Entry names are relative to the conversation directory so the archive is
// self-contained and relocatable.
func (s *Store) Dump(chatID, partitionKey string) (string, error) {
	convDir := s.ConversationDir(partitionKey, chatID)
	if _, err := os.Stat(convDir); err != nil {
		if os.IsNotExist(err) {
			return "", ErrFileNotFound
		}
		return "", fmt.Errorf("failed to stat conversation directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.tar.gz", chatID, time.Now().Format(dumpTimestampLayout))
	archivePath := filepath.Join(s.baseDir, dumpsDir, name)

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	walkErr := filepath.Walk(convDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(convDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(tw, src)
		return err
	})
	if walkErr != nil {
		return "", fmt.Errorf("failed to pack conversation: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize gzip: %w", err)
	}
	return archivePath, nil
}

// OpenDump returns an open handle on a dump archive by bare name for
// streaming downloads. The name is sanitized and must belong to the given
// conversation.
func (s *Store) OpenDump(chatID, filename string) (*os.File, error) {
	clean, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(clean, chatID+"_") || !strings.HasSuffix(clean, ".tar.gz") {
		return nil, ErrFileNotFound
	}
	f, err := os.Open(filepath.Join(s.baseDir, dumpsDir, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return f, nil
}

// Restore extracts a dump archive into a temp directory, reads metadata.json
// to obtain the partition key, and atomically moves the result into
// <base>/<partition_key>/<chat_id>/, replacing any preexisting directory.
//
// Metadata without a partition_key fails with ErrMalformedArchive — the key
// is never silently regenerated.
func (s *Store) Restore(archive []byte) (*Metadata, []RestoredFile, error) {
	tmpDir, err := os.MkdirTemp(s.baseDir, ".restore-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if err := extractArchive(archive, tmpDir); err != nil {
		return nil, nil, err
	}

	metaData, err := os.ReadFile(filepath.Join(tmpDir, metadataFile))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: missing metadata.json", ErrMalformedArchive)
	}
	meta, err := parseMetadata(metaData)
	if err != nil {
		return nil, nil, err
	}

	destDir := s.ConversationDir(meta.PartitionKey, meta.ChatID)
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create partition directory: %w", err)
	}
	// Replace any preexisting directory atomically: remove, then rename.
	if err := os.RemoveAll(destDir); err != nil {
		return nil, nil, fmt.Errorf("failed to clear restore destination: %w", err)
	}
	if err := os.Rename(tmpDir, destDir); err != nil {
		return nil, nil, fmt.Errorf("failed to move restored conversation: %w", err)
	}

	// Directory skeleton for conversations dumped before any upload/output.
	if err := s.CreateConversationDir(meta.PartitionKey, meta.ChatID); err != nil {
		return nil, nil, err
	}

	files, err := s.scanRestoredFiles(meta)
	if err != nil {
		return nil, nil, err
	}
	return meta, files, nil
}

// parseMetadata validates restored metadata. chat_id and partition_key are
// required; their absence marks the archive malformed.
func parseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid metadata.json", ErrMalformedArchive)
	}
	if meta.ChatID == "" {
		return nil, fmt.Errorf("%w: metadata.json missing chat_id", ErrMalformedArchive)
	}
	if meta.PartitionKey == "" {
		return nil, fmt.Errorf("%w: metadata.json missing partition_key", ErrMalformedArchive)
	}
	return &meta, nil
}

// scanRestoredFiles lists the uploads and outputs present after extraction.
func (s *Store) scanRestoredFiles(meta *Metadata) ([]RestoredFile, error) {
	var files []RestoredFile
	for _, role := range []models.FileRole{models.FileRoleUploaded, models.FileRoleOutput} {
		paths, err := s.ListFiles(meta.ChatID, meta.PartitionKey, role)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			files = append(files, RestoredFile{Path: p, Role: role})
		}
	}
	return files, nil
}

// extractArchive unpacks a tar.gz into destDir, rejecting absolute paths,
// ".." components, and symlinks.
func extractArchive(archive []byte, destDir string) error {
	gr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	defer func() { _ = gr.Close() }()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}

		name := filepath.FromSlash(hdr.Name)
		if filepath.IsAbs(name) || containsDotDot(name) {
			return fmt.Errorf("%w: unsafe entry path %q", ErrMalformedArchive, hdr.Name)
		}
		dest := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			out, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			_, err = io.Copy(out, io.LimitReader(tr, maxArchiveEntryBytes))
			closeErr := out.Close()
			if err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			if closeErr != nil {
				return fmt.Errorf("failed to close extracted file: %w", closeErr)
			}
		default:
			// Symlinks, devices, etc. have no business in a dump archive.
			return fmt.Errorf("%w: unsupported entry type %d for %q", ErrMalformedArchive, hdr.Typeflag, hdr.Name)
		}
	}
}

func containsDotDot(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	return false
}
