package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"chanmirror/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func archiveCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive run summaries and config into a .tar.gz",
		Long: `Creates a compressed archive with the config file, the JSON run summary
and the summary database. The archive is timestamped by default. The summary
contains webhook URLs; keep the archive private.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Read(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				archiveDir := filepath.Join(config.ExpandPath(cfg.General.DataDir), "archives")
				if err := os.MkdirAll(archiveDir, 0o700); err != nil {
					return fmt.Errorf("cannot create archive directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(archiveDir, fmt.Sprintf("chanmirror-%s.tar.gz", ts))
			}

			files := archiveFiles(cfgPath, cfg)
			if len(files) == 0 {
				return fmt.Errorf("nothing to archive (config: %s, summary: %s)", cfgPath, cfg.Report.JSONPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("archive failed: %w", err)
			}

			fmt.Printf("Archive created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanize.IBytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/archives/chanmirror-<timestamp>.tar.gz)")
	return cmd
}

// archiveFiles lists the existing files worth keeping from a run.
func archiveFiles(cfgPath string, cfg *config.Config) []string {
	var files []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	add(cfgPath)
	add(cfg.Report.JSONPath)
	if db := cfg.Report.SQLitePath; db != "" {
		add(db)
		add(db + "-wal")
		add(db + "-shm")
	}
	return files
}

// createTarGz creates a .tar.gz archive from the given files.
func createTarGz(outputPath string, files []string) error {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}
