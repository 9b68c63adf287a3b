package ingestion

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var supportedExtensions = map[string]bool{
	".xlsx": true, ".xlsm": true, ".xltx": true, ".xltm": true,
	".csv": true, ".tsv": true, ".txt": true,
}

// ReadFiles loads uploads from disk. Directories are walked and only files with a known
// spreadsheet or delimited-text extension are picked from them, in lexical order. Files named
// explicitly are always read.
func ReadFiles(paths []string) ([]Upload, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		found, err := scanForFiles(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	uploads := make([]Upload, 0, len(files))
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		uploads = append(uploads, Upload{Name: filepath.Base(path), Content: content})
	}

	log.Printf("Found %d files to process.", len(uploads))
	return uploads, nil
}

func scanForFiles(rootPath string) ([]string, error) {
	var files []string
	log.Printf("Scanning for files in: %s", rootPath)

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			log.Printf("WARN: Skipping unsupported file %s", path)
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", rootPath, err)
	}

	sort.Strings(files)
	return files, nil
}
