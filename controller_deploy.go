package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	sha256 "github.com/minio/sha256-simd"
)

// runDeploy packages the miner code directory, uploads it with its
// checksum, then brings the fleet to the desired size. Worker launch
// scripts pull the blob and verify the recorded checksum before start.
func runDeploy(ctx context.Context, cfg Config, codeDir string) int {
	if codeDir == "" {
		logger.Error("deploy requires -code-dir")
		return exitFatal
	}

	blob, checksum, err := packMinerCode(codeDir)
	if err != nil {
		logger.Error("pack miner code", "dir", codeDir, "error", err)
		return exitFatal
	}

	store, err := newS3ObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("object store init", "error", err)
		return exitFatal
	}

	// Skip the upload when the exact blob is already there.
	if info, err := store.Head(ctx, minerCodeObjectKey); err == nil {
		if info.Metadata["checksum"] == checksum {
			logger.Info("miner code unchanged, skipping upload", "checksum", checksum)
			blob = nil
		}
	}
	if blob != nil {
		err := store.Put(ctx, minerCodeObjectKey, blob, putOptions{
			ContentType: "application/gzip",
			Metadata: map[string]string{
				"checksum":   checksum,
				"uploadedat": time.Now().UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			logger.Error("upload miner code", "error", err)
			return exitFatal
		}
		logger.Info("miner code uploaded", "bytes", len(blob), "checksum", checksum)
	}

	if cfg.DesiredWorkers > 0 {
		return runScale(ctx, cfg, cfg.DesiredWorkers)
	}
	return exitOK
}

// packMinerCode tars and gzips the directory, returning the blob and its
// SHA-256 hex digest.
func packMinerCode(dir string) ([]byte, string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if err := tw.Close(); err != nil {
		return nil, "", err
	}
	if err := gz.Close(); err != nil {
		return nil, "", err
	}
	digest := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(digest[:]), nil
}
