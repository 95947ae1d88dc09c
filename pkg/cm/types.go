// pkg/cm/types.go - site provider object model for cmrotate.

package cm

// AutoDeploymentRule is a named rule on the site that periodically downloads
// matching updates into its deployment package. The content template is an
// opaque XML document owned by the site; this tool only ever touches the
// PackageID it carries.
type AutoDeploymentRule struct {
	AutoDeploymentID uint32
	Name             string
	ContentTemplate  string
	LastErrorCode    uint32
	LastRunTime      string
}

// UpdatesPackage is a software-updates deployment package: a named content
// container backed by a source folder on the site server or a share.
type UpdatesPackage struct {
	PackageID     string
	Name          string
	Description   string
	PkgSourcePath string
}

// DistributionPointGroup is a named grouping of distribution points that a
// package can be registered into for content replication.
type DistributionPointGroup struct {
	GroupID string
	Name    string
}
