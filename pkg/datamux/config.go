package datamux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sourceConfig is one line of a DataMux configuration file: a dataset
// directory, the label offset added to every record pulled from it, and
// how many records per batch are drawn from it.
type sourceConfig struct {
	Path      string
	LabelBase int32
	BatchSize int
}

// parseConfig reads a UTF-8 text configuration of whitespace-delimited
// "path label_base batch_size" lines, one source per line, terminated by
// EOF. Relative paths are resolved against configDir.
func parseConfig(configPath string) ([]sourceConfig, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("striper: opening datamux config: %w", err)
	}
	defer f.Close()

	configDir := filepath.Dir(configPath)
	var sources []sourceConfig
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("striper: datamux config line %d: want 3 fields, got %d", lineNo, len(fields))
		}
		labelBase, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("striper: datamux config line %d: bad label_base: %w", lineNo, err)
		}
		batchSize, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("striper: datamux config line %d: bad batch_size: %w", lineNo, err)
		}
		path := fields[0]
		if !filepath.IsAbs(path) {
			path = filepath.Join(configDir, path)
		}
		sources = append(sources, sourceConfig{
			Path:      path,
			LabelBase: int32(labelBase),
			BatchSize: int(batchSize),
		})
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("striper: reading datamux config: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("striper: datamux config %s has no sources", configPath)
	}
	return sources, nil
}
