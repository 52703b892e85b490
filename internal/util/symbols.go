package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadSymbolsFile reads a symbol universe file: one symbol per line,
// upper-cased, blank lines and #-comments skipped, duplicates removed
// in first-seen order.
func ReadSymbolsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var symbols []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sym := strings.ToUpper(line)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols in %s", path)
	}
	return symbols, nil
}
