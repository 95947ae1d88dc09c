// pkg/naming/naming.go - package naming and source folder collision rules.
//
// Package names follow the conventions admins already use in the console:
// the rule's own name (or an explicit override) plus a date stamp, with an
// incrementing " (n)" suffix when the source folder is already taken. Date
// stamps are specified with .NET-style format tokens because that is what
// the site's own tooling trains people on.

package naming

import (
	"fmt"
	"strings"
	"time"
)

// maxSuffix bounds the collision search so a weird share can't loop us forever.
const maxSuffix = 1000

// dotnetTokens maps .NET date-format token runs to Go reference-layout parts.
var dotnetTokens = map[string]string{
	"yyyy": "2006",
	"yy":   "06",
	"MM":   "01",
	"M":    "1",
	"dd":   "02",
	"d":    "2",
	"HH":   "15",
	"hh":   "03",
	"h":    "3",
	"mm":   "04",
	"m":    "4",
	"ss":   "05",
	"s":    "5",
	"tt":   "PM",
}

// TranslateDateFormat converts a .NET-style date format string (yyyy-MM-dd)
// into a Go time layout. Letter runs must be known tokens; separators and
// other punctuation pass through unchanged.
func TranslateDateFormat(format string) (string, error) {
	if strings.TrimSpace(format) == "" {
		return "", fmt.Errorf("empty date format")
	}

	var b strings.Builder
	runes := []rune(format)
	for i := 0; i < len(runes); {
		r := runes[i]
		if !isFormatLetter(r) {
			b.WriteRune(r)
			i++
			continue
		}

		j := i
		for j < len(runes) && runes[j] == r {
			j++
		}
		run := string(runes[i:j])
		layout, ok := dotnetTokens[run]
		if !ok {
			return "", fmt.Errorf("unsupported date format token %q in %q", run, format)
		}
		b.WriteString(layout)
		i = j
	}

	return b.String(), nil
}

func isFormatLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Stamp formats t using a .NET-style date format string.
func Stamp(t time.Time, format string) (string, error) {
	layout, err := TranslateDateFormat(format)
	if err != nil {
		return "", err
	}
	return t.Format(layout), nil
}

// PackageName decides the name for a rule's deployment package. The base is
// the explicit override when given, otherwise the rule's own name. The date
// stamp is appended with a separating space unless suppressed.
func PackageName(ruleName, override, stamp string, noDate bool) string {
	base := strings.TrimSpace(ruleName)
	if strings.TrimSpace(override) != "" {
		base = strings.TrimSpace(override)
	}
	if noDate || stamp == "" {
		return base
	}
	return base + " " + stamp
}

// ResolveFolderName returns a folder (and therefore package) name that does
// not collide with an existing folder, appending " (2)", " (3)", ... to the
// candidate until exists reports a free name.
func ResolveFolderName(name string, exists func(string) (bool, error)) (string, error) {
	taken, err := exists(name)
	if err != nil {
		return "", err
	}
	if !taken {
		return name, nil
	}

	for i := 2; i <= maxSuffix; i++ {
		candidate := fmt.Sprintf("%s (%d)", name, i)
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free folder name for %q after %d attempts", name, maxSuffix)
}
