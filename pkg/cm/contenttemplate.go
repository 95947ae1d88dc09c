// pkg/cm/contenttemplate.go - PackageID rewrite inside a rule's content template.

package cm

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RewritePackageID replaces the text of the first PackageID element in a
// rule's content template and returns the updated document. The template is
// owned by the site and treated as opaque: every other token is copied
// through unchanged.
func RewritePackageID(template, packageID string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", errors.New("content template is empty")
	}

	dec := xml.NewDecoder(strings.NewReader(template))
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	inPackageID := false
	wroteNew := false
	replaced := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing content template: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !replaced && t.Name.Local == "PackageID" {
				inPackageID = true
				wroteNew = false
			}
			if err := enc.EncodeToken(t); err != nil {
				return "", fmt.Errorf("rewriting content template: %w", err)
			}

		case xml.CharData:
			if inPackageID {
				if !wroteNew {
					if err := enc.EncodeToken(xml.CharData(packageID)); err != nil {
						return "", fmt.Errorf("rewriting content template: %w", err)
					}
					wroteNew = true
				}
				continue // drop the original text
			}
			if err := enc.EncodeToken(t); err != nil {
				return "", fmt.Errorf("rewriting content template: %w", err)
			}

		case xml.EndElement:
			if inPackageID && t.Name.Local == "PackageID" {
				// Handles an empty <PackageID></PackageID> as well.
				if !wroteNew {
					if err := enc.EncodeToken(xml.CharData(packageID)); err != nil {
						return "", fmt.Errorf("rewriting content template: %w", err)
					}
				}
				inPackageID = false
				replaced = true
			}
			if err := enc.EncodeToken(t); err != nil {
				return "", fmt.Errorf("rewriting content template: %w", err)
			}

		default:
			if err := enc.EncodeToken(tok); err != nil {
				return "", fmt.Errorf("rewriting content template: %w", err)
			}
		}
	}

	if !replaced {
		return "", errors.New("content template has no PackageID element")
	}

	if err := enc.Flush(); err != nil {
		return "", fmt.Errorf("rewriting content template: %w", err)
	}

	return buf.String(), nil
}

// PackageIDOf extracts the current PackageID from a content template. Used
// for plan output and for skipping rules that already point at the target.
func PackageIDOf(template string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(template))

	inPackageID := false
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing content template: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "PackageID" {
				inPackageID = true
			}
		case xml.CharData:
			if inPackageID {
				text.Write(t)
			}
		case xml.EndElement:
			if inPackageID && t.Name.Local == "PackageID" {
				return strings.TrimSpace(text.String()), nil
			}
		}
	}

	return "", errors.New("content template has no PackageID element")
}
