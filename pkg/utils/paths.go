// pkg/utils/paths.go - utility functions for working with package source paths.

package utils

import "strings"

// IsUNCPath reports whether path is a UNC path (\\server\share\...).
func IsUNCPath(path string) bool {
	return strings.HasPrefix(path, `\\`)
}

// AdminSharePath converts a drive-rooted local path on a remote server into
// the matching administrative-share UNC path, so the path can be checked from
// the admin workstation. D:\Sources\Updates on cm01 becomes
// \\cm01\d$\Sources\Updates. UNC paths pass through unchanged.
func AdminSharePath(server, path string) string {
	if IsUNCPath(path) || server == "" {
		return path
	}
	if len(path) < 2 || path[1] != ':' {
		return path
	}

	drive := strings.ToLower(path[:1])
	rest := strings.TrimLeft(path[2:], `\`)
	if rest == "" {
		return `\\` + server + `\` + drive + `$`
	}
	return `\\` + server + `\` + drive + `$\` + rest
}

// JoinPackagePath joins a package root and a folder name with a single
// backslash. The root may be a UNC path or a drive-rooted path on the site
// server; filepath.Join is avoided so UNC prefixes survive untouched.
func JoinPackagePath(root, name string) string {
	return strings.TrimRight(root, `\`) + `\` + name
}
