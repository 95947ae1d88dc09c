// pkg/cm/provider.go - site provider contract and WQL helpers.

package cm

import (
	"errors"
	"strings"
)

// Sentinel errors for objects the site does not have. Callers decide whether
// a miss is fatal (no rules at all) or a per-item warning (one rule of many).
var (
	ErrRuleNotFound    = errors.New("automatic deployment rule not found")
	ErrPackageNotFound = errors.New("software updates package not found")
	ErrGroupNotFound   = errors.New("distribution point group not found")
)

// Provider is the surface of the site's SMS provider this tool needs.
// The production implementation talks WMI to the site server; tests
// substitute a fake.
type Provider interface {
	// SiteVersion returns the version string of the site identified by the
	// configured site code.
	SiteVersion() (string, error)

	// RuleByName returns the automatic deployment rule with the given name,
	// or an error wrapping ErrRuleNotFound.
	RuleByName(name string) (*AutoDeploymentRule, error)

	// PackageByName returns the software updates package with the given
	// name, or an error wrapping ErrPackageNotFound.
	PackageByName(name string) (*UpdatesPackage, error)

	// CreatePackage creates a software updates package backed by the given
	// source folder and returns it with the site-assigned PackageID.
	CreatePackage(name, sourcePath, description string) (*UpdatesPackage, error)

	// DistributeToGroup registers the package with the named distribution
	// point group so its content replicates to the group's members.
	DistributeToGroup(packageID, groupName string) error

	// SaveRuleContentTemplate writes the rule's (modified) content template
	// back to the site.
	SaveRuleContentTemplate(rule *AutoDeploymentRule) error
}

// EscapeWQL escapes a string value for interpolation into a WQL query.
// Backslashes and quotes are the only characters WQL treats specially.
func EscapeWQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}
