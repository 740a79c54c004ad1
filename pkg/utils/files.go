package utils

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	parentDir = filepath.Dir(fullPath)
	return fullPath, parentDir, nil
}

// OutputPath swaps the extension of in for ext and places the result in
// outDir, or next to the input when outDir is empty.
func OutputPath(in, outDir, ext string) (string, error) {
	fullPath, parentDir, err := GetPathInfo(in)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(fullPath), filepath.Ext(fullPath)) + ext
	if outDir != "" {
		return filepath.Join(outDir, base), nil
	}
	return filepath.Join(parentDir, base), nil
}

// ParseInts parses a comma-separated list of integers. Hex (0x) is
// accepted. An empty string is an empty list.
func ParseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseInt(f, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", f)
		}
		out = append(out, int(n))
	}
	return out, nil
}
