package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// maxConfigSize bounds the config file to keep a bad path from OOMing
	// the service at boot
	maxConfigSize = 10 << 20

	// maxJSONDepth bounds nesting so a malformed file cannot exhaust the
	// decoder stack
	maxJSONDepth = 100
)

// safeReadFile reads a config file after sanity-checking the path and size
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("empty config path")
	}
	if !strings.HasSuffix(path, ".json") {
		return nil, fmt.Errorf("only JSON config files allowed: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	return os.ReadFile(path)
}

// validateJSONDepth rejects pathologically nested documents before they
// reach the decoder
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		if b == '\\' && inString {
			escaped = true
			continue
		}
		if b == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return errors.New("malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
