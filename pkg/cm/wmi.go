// pkg/cm/wmi.go - WMI-backed implementation of the site provider contract.
//
// Reads go through WQL queries against the SMS provider namespace on the
// site server. Writes (object mutation, instance creation, method calls)
// need OLE automation because the query interface is read-only.

package cm

import (
	"fmt"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/yusufpapurcu/wmi"

	"github.com/windowsadmins/cmrotate/pkg/logging"
)

// S_FALSE means COM was already initialized on this thread; not a failure.
const sFalse = 0x00000001

// WMI result structs mirror the provider classes, field names matching the
// class properties the way the wmi package expects.

type SMS_AutoDeploymentRule struct {
	AutoDeploymentID uint32 `wmi:"AutoDeploymentID"`
	Name             string `wmi:"Name"`
	ContentTemplate  string `wmi:"ContentTemplate"`
	LastErrorCode    uint32 `wmi:"LastErrorCode"`
}

type SMS_SoftwareUpdatesPackage struct {
	PackageID     string `wmi:"PackageID"`
	Name          string `wmi:"Name"`
	Description   string `wmi:"Description"`
	PkgSourcePath string `wmi:"PkgSourcePath"`
}

type SMS_DistributionPointGroup struct {
	GroupID string `wmi:"GroupID"`
	Name    string `wmi:"Name"`
}

type SMS_Site struct {
	SiteCode string `wmi:"SiteCode"`
	Version  string `wmi:"Version"`
}

// PkgSourceFlag value for packages that serve content straight from their
// source folder.
const pkgSourceFlagStorageDirect = 2

// WMIProvider talks to the SMS provider on the site server.
type WMIProvider struct {
	Server   string
	SiteCode string

	namespace string
	service   *ole.IDispatch
	locator   *ole.IDispatch
	unknown   *ole.IUnknown
	comReady  bool
}

var _ Provider = (*WMIProvider)(nil)

// NewWMIProvider returns an unconnected provider client for the given site.
func NewWMIProvider(server, siteCode string) *WMIProvider {
	return &WMIProvider{
		Server:    server,
		SiteCode:  strings.ToUpper(siteCode),
		namespace: fmt.Sprintf(`root\SMS\site_%s`, strings.ToUpper(siteCode)),
	}
}

// Connect opens the OLE automation channel used for writes. Queries connect
// on demand and do not require Connect to have been called.
func (p *WMIProvider) Connect() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oleCode := err.(*ole.OleError).Code()
		if oleCode != ole.S_OK && oleCode != sFalse {
			return fmt.Errorf("initializing COM: %w", err)
		}
	}
	p.comReady = true

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return fmt.Errorf("creating WbemScripting.SWbemLocator: %w", err)
	}
	p.unknown = unknown

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("querying IDispatch on locator: %w", err)
	}
	p.locator = locator

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", p.Server, p.namespace)
	if err != nil {
		return fmt.Errorf("connecting to %s on %s: %w", p.namespace, p.Server, err)
	}
	p.service = serviceRaw.ToIDispatch()

	logging.Debug("Connected to site provider", "server", p.Server, "namespace", p.namespace)
	return nil
}

// Close releases the OLE channel.
func (p *WMIProvider) Close() {
	if p.service != nil {
		p.service.Release()
		p.service = nil
	}
	if p.locator != nil {
		p.locator.Release()
		p.locator = nil
	}
	if p.unknown != nil {
		p.unknown.Release()
		p.unknown = nil
	}
	if p.comReady {
		ole.CoUninitialize()
		p.comReady = false
	}
}

// query runs a WQL query against the site namespace on the site server.
func (p *WMIProvider) query(q string, dst interface{}) error {
	return wmi.Query(q, dst, p.Server, p.namespace)
}

// SiteVersion returns the version string reported for the configured site.
func (p *WMIProvider) SiteVersion() (string, error) {
	var sites []SMS_Site
	q := fmt.Sprintf(`SELECT SiteCode, Version FROM SMS_Site WHERE SiteCode = "%s"`,
		EscapeWQL(p.SiteCode))
	if err := p.query(q, &sites); err != nil {
		return "", fmt.Errorf("querying SMS_Site: %w", err)
	}
	if len(sites) == 0 {
		return "", fmt.Errorf("site %s not found on %s", p.SiteCode, p.Server)
	}
	return sites[0].Version, nil
}

// RuleByName returns the automatic deployment rule with the given name.
func (p *WMIProvider) RuleByName(name string) (*AutoDeploymentRule, error) {
	var rules []SMS_AutoDeploymentRule
	q := fmt.Sprintf(
		`SELECT AutoDeploymentID, Name, ContentTemplate, LastErrorCode FROM SMS_AutoDeploymentRule WHERE Name = "%s"`,
		EscapeWQL(name))
	if err := p.query(q, &rules); err != nil {
		return nil, fmt.Errorf("querying SMS_AutoDeploymentRule: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrRuleNotFound)
	}

	r := rules[0]
	return &AutoDeploymentRule{
		AutoDeploymentID: r.AutoDeploymentID,
		Name:             r.Name,
		ContentTemplate:  r.ContentTemplate,
		LastErrorCode:    r.LastErrorCode,
	}, nil
}

// PackageByName returns the software updates package with the given name.
func (p *WMIProvider) PackageByName(name string) (*UpdatesPackage, error) {
	var pkgs []SMS_SoftwareUpdatesPackage
	q := fmt.Sprintf(
		`SELECT PackageID, Name, Description, PkgSourcePath FROM SMS_SoftwareUpdatesPackage WHERE Name = "%s"`,
		EscapeWQL(name))
	if err := p.query(q, &pkgs); err != nil {
		return nil, fmt.Errorf("querying SMS_SoftwareUpdatesPackage: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrPackageNotFound)
	}

	pkg := pkgs[0]
	return &UpdatesPackage{
		PackageID:     pkg.PackageID,
		Name:          pkg.Name,
		Description:   pkg.Description,
		PkgSourcePath: pkg.PkgSourcePath,
	}, nil
}

// CreatePackage creates a software updates package and returns it with the
// PackageID the site assigned.
func (p *WMIProvider) CreatePackage(name, sourcePath, description string) (*UpdatesPackage, error) {
	if p.service == nil {
		return nil, fmt.Errorf("provider not connected")
	}

	classRaw, err := oleutil.CallMethod(p.service, "Get", "SMS_SoftwareUpdatesPackage")
	if err != nil {
		return nil, fmt.Errorf("getting SMS_SoftwareUpdatesPackage class: %w", err)
	}
	class := classRaw.ToIDispatch()
	defer class.Release()

	instRaw, err := oleutil.CallMethod(class, "SpawnInstance_")
	if err != nil {
		return nil, fmt.Errorf("spawning package instance: %w", err)
	}
	inst := instRaw.ToIDispatch()
	defer inst.Release()

	if _, err := oleutil.PutProperty(inst, "Name", name); err != nil {
		return nil, fmt.Errorf("setting package Name: %w", err)
	}
	if _, err := oleutil.PutProperty(inst, "Description", description); err != nil {
		return nil, fmt.Errorf("setting package Description: %w", err)
	}
	if _, err := oleutil.PutProperty(inst, "PkgSourcePath", sourcePath); err != nil {
		return nil, fmt.Errorf("setting package PkgSourcePath: %w", err)
	}
	if _, err := oleutil.PutProperty(inst, "PkgSourceFlag", pkgSourceFlagStorageDirect); err != nil {
		return nil, fmt.Errorf("setting package PkgSourceFlag: %w", err)
	}

	if _, err := oleutil.CallMethod(inst, "Put_"); err != nil {
		return nil, fmt.Errorf("saving package %q: %w", name, err)
	}

	// The PackageID is assigned by the site on save; read the object back.
	pkg, err := p.PackageByName(name)
	if err != nil {
		return nil, fmt.Errorf("reading back created package %q: %w", name, err)
	}

	logging.Info("Created software updates package",
		"package", name, "package_id", pkg.PackageID, "source", sourcePath)
	return pkg, nil
}

// DistributeToGroup registers the package with the named distribution point
// group via the group's AddPackages method.
func (p *WMIProvider) DistributeToGroup(packageID, groupName string) error {
	if p.service == nil {
		return fmt.Errorf("provider not connected")
	}

	var groups []SMS_DistributionPointGroup
	q := fmt.Sprintf(
		`SELECT GroupID, Name FROM SMS_DistributionPointGroup WHERE Name = "%s"`,
		EscapeWQL(groupName))
	if err := p.query(q, &groups); err != nil {
		return fmt.Errorf("querying SMS_DistributionPointGroup: %w", err)
	}
	if len(groups) == 0 {
		return fmt.Errorf("%q: %w", groupName, ErrGroupNotFound)
	}

	objPath := fmt.Sprintf(`SMS_DistributionPointGroup.GroupID="%s"`, groups[0].GroupID)
	objRaw, err := oleutil.CallMethod(p.service, "Get", objPath)
	if err != nil {
		return fmt.Errorf("getting distribution point group %q: %w", groupName, err)
	}
	obj := objRaw.ToIDispatch()
	defer obj.Release()

	if _, err := oleutil.CallMethod(obj, "AddPackages", []string{packageID}); err != nil {
		return fmt.Errorf("adding package %s to group %q: %w", packageID, groupName, err)
	}

	logging.Info("Registered package with distribution point group",
		"package_id", packageID, "dp_group", groupName)
	return nil
}

// SaveRuleContentTemplate writes the rule's content template back to the site.
func (p *WMIProvider) SaveRuleContentTemplate(rule *AutoDeploymentRule) error {
	if p.service == nil {
		return fmt.Errorf("provider not connected")
	}

	objPath := fmt.Sprintf("SMS_AutoDeploymentRule.AutoDeploymentID=%d", rule.AutoDeploymentID)
	objRaw, err := oleutil.CallMethod(p.service, "Get", objPath)
	if err != nil {
		return fmt.Errorf("getting rule %q: %w", rule.Name, err)
	}
	obj := objRaw.ToIDispatch()
	defer obj.Release()

	if _, err := oleutil.PutProperty(obj, "ContentTemplate", rule.ContentTemplate); err != nil {
		return fmt.Errorf("setting ContentTemplate on rule %q: %w", rule.Name, err)
	}
	if _, err := oleutil.CallMethod(obj, "Put_"); err != nil {
		return fmt.Errorf("saving rule %q: %w", rule.Name, err)
	}

	logging.Debug("Saved rule content template", "rule", rule.Name)
	return nil
}
