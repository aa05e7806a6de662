package main

import (
	"archive/zip"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kycrisk/internal/config"
	"kycrisk/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(os.Getenv("KYCRISK_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	store, err := pipeline.NewFileStore(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	command := os.Args[1]

	switch command {
	case "list":
		err = handleList(os.Stdout, store)
	case "clear":
		err = handleClear(os.Stdout, store)
	case "backup":
		fs := flag.NewFlagSet("backup", flag.ExitOnError)
		output := fs.String("output", "", "Output path for the backup archive")
		fs.Parse(os.Args[2:])
		err = handleBackup(os.Stdout, store, backupPath(cfg, *output, time.Now()))
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func printUsage() {
	fmt.Println("Cache Manager - CLI utility for the processed pipeline artifacts")
	fmt.Println()
	fmt.Println("Usage: cache-manager <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list                    List processed artifacts")
	fmt.Println("  clear                   Delete processed artifacts so the next run recomputes them")
	fmt.Println("  backup [--output=path]  Archive processed artifacts into a zip file")
	fmt.Println()
	fmt.Println("The configuration file is read from KYCRISK_CONFIG when set.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  cache-manager list")
	fmt.Println("  cache-manager clear")
	fmt.Println("  cache-manager backup --output=before_rerun.zip")
}

func handleList(w io.Writer, store *pipeline.FileStore) error {
	found := 0
	for _, path := range store.ProcessedArtifacts() {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(w, "%s [missing]\n", path)
				continue
			}
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
		found++
		fmt.Fprintf(w, "%s\n", path)
		fmt.Fprintf(w, "  Size: %d bytes, Modified: %s\n", info.Size(), info.ModTime().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "\n%d of %d artifacts present\n", found, len(store.ProcessedArtifacts()))
	return nil
}

func handleClear(w io.Writer, store *pipeline.FileStore) error {
	removed, err := store.Clear()
	for _, path := range removed {
		fmt.Fprintf(w, "Deleted: %s\n", path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nCleared %d artifacts.\n", len(removed))
	return nil
}

// backupPath defaults to <processed>/backups/backup_<timestamp>.zip
func backupPath(cfg *config.Config, output string, now time.Time) string {
	if output != "" {
		if !strings.HasSuffix(output, ".zip") {
			output += ".zip"
		}
		return output
	}
	name := fmt.Sprintf("backup_%s.zip", now.Format("20060102_150405"))
	return filepath.Join(cfg.ProcessedDataDir, "backups", name)
}

func handleBackup(w io.Writer, store *pipeline.FileStore, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	zipFile, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() {
		if cerr := zipFile.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zipWriter := zip.NewWriter(zipFile)
	added := 0
	var totalSize int64
	for _, path := range store.ProcessedArtifacts() {
		n, err := addToArchive(zipWriter, path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			zipWriter.Close()
			return err
		}
		added++
		totalSize += n
	}
	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish backup: %w", err)
	}

	fmt.Fprintf(w, "Backup created successfully: %s\n", target)
	fmt.Fprintf(w, "Files: %d, Total size: %d bytes\n", added, totalSize)
	return nil
}

func addToArchive(zw *zip.Writer, path string) (int64, error) {
	source, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return 0, fmt.Errorf("failed to create archive entry for %s: %w", path, err)
	}
	n, err := io.Copy(entry, source)
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s to archive: %w", path, err)
	}
	return n, nil
}
