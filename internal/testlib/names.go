package testlib

import "strings"

// normalizeTest terminates a test name with exactly one ';'.
func normalizeTest(name string) string {
	return strings.TrimRight(strings.TrimSpace(name), ";") + ";"
}

// normalizeTestDirectory terminates a directory with '/' and then ';'.
func normalizeTestDirectory(dir string) string {
	dir = strings.TrimRight(strings.TrimSpace(dir), ";")
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir + ";"
}
