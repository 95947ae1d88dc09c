package rotate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/cmrotate/pkg/cm"
	"github.com/windowsadmins/cmrotate/pkg/config"
	"github.com/windowsadmins/cmrotate/pkg/logging"
	"github.com/windowsadmins/cmrotate/pkg/retry"
)

const testRoot = `\\cm01\Sources\Updates`

func testTemplate(packageID string) string {
	return `<ContentTemplate><PackageID>` + packageID + `</PackageID>` +
		`<ContentLocales><Locale>Locale:9</Locale></ContentLocales></ContentTemplate>`
}

// fakeProvider implements cm.Provider in memory.
type fakeProvider struct {
	siteVersion string
	rules       map[string]*cm.AutoDeploymentRule
	packages    map[string]*cm.UpdatesPackage

	nextID      int
	created     []string
	distributed []string
	saved       map[string]string // rule name -> saved content template

	ruleErr error // forced error for rule lookups
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		siteVersion: "5.00.9068.1000",
		rules:       make(map[string]*cm.AutoDeploymentRule),
		packages:    make(map[string]*cm.UpdatesPackage),
		saved:       make(map[string]string),
	}
}

func (f *fakeProvider) addRule(id uint32, name, packageID string) {
	f.rules[name] = &cm.AutoDeploymentRule{
		AutoDeploymentID: id,
		Name:             name,
		ContentTemplate:  testTemplate(packageID),
	}
}

func (f *fakeProvider) SiteVersion() (string, error) {
	return f.siteVersion, nil
}

func (f *fakeProvider) RuleByName(name string) (*cm.AutoDeploymentRule, error) {
	if f.ruleErr != nil {
		return nil, f.ruleErr
	}
	rule, ok := f.rules[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, cm.ErrRuleNotFound)
	}
	copied := *rule
	return &copied, nil
}

func (f *fakeProvider) PackageByName(name string) (*cm.UpdatesPackage, error) {
	pkg, ok := f.packages[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, cm.ErrPackageNotFound)
	}
	copied := *pkg
	return &copied, nil
}

func (f *fakeProvider) CreatePackage(name, sourcePath, description string) (*cm.UpdatesPackage, error) {
	f.nextID++
	pkg := &cm.UpdatesPackage{
		PackageID:     fmt.Sprintf("PRI%05d", f.nextID),
		Name:          name,
		Description:   description,
		PkgSourcePath: sourcePath,
	}
	f.packages[name] = pkg
	f.created = append(f.created, name)
	copied := *pkg
	return &copied, nil
}

func (f *fakeProvider) DistributeToGroup(packageID, groupName string) error {
	f.distributed = append(f.distributed, packageID+"->"+groupName)
	return nil
}

func (f *fakeProvider) SaveRuleContentTemplate(rule *cm.AutoDeploymentRule) error {
	f.saved[rule.Name] = rule.ContentTemplate
	return nil
}

// fakeFS tracks folders by exact path.
type fakeFS struct {
	folders map[string]bool
	made    []string
}

func newFakeFS(paths ...string) *fakeFS {
	fs := &fakeFS{folders: make(map[string]bool)}
	for _, p := range paths {
		fs.folders[p] = true
	}
	return fs
}

func (fs *fakeFS) exists(path string) (bool, error) {
	return fs.folders[path], nil
}

func (fs *fakeFS) mkdir(path string) error {
	fs.folders[path] = true
	fs.made = append(fs.made, path)
	return nil
}

func newTestEngine(p cm.Provider, fs *fakeFS) *Engine {
	cfg := config.GetDefaultConfig()
	cfg.SiteServer = "cm01.corp.example.com"
	cfg.SiteCode = "PRI"
	cfg.MinFreeSpaceGB = 0

	e := New(p, cfg, logging.New(false))
	e.Retry = retry.RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, Multiplier: 1.0}
	e.FolderExists = fs.exists
	e.MakeFolder = fs.mkdir
	e.FreeSpace = func(string) (uint64, error) { return 1 << 40, nil }
	return e
}

func baseOptions(rules ...string) Options {
	return Options{
		Rules:       rules,
		DateFormat:  "yyyy-MM",
		PackageRoot: testRoot,
		Now:         time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC),
	}
}

func TestRunPerRulePackages(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	p.addRule(2, "Patch Tuesday - Servers", "OLD00002")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	summary, err := e.Run(baseOptions("Patch Tuesday - Workstations", "Patch Tuesday - Servers"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RulesUpdated)
	assert.Equal(t, 0, summary.RulesSkipped)
	assert.Equal(t, 2, summary.PackagesCreated)
	assert.Equal(t, 0, summary.PackagesReused)

	assert.ElementsMatch(t, []string{
		"Patch Tuesday - Workstations 2026-08",
		"Patch Tuesday - Servers 2026-08",
	}, p.created)

	// Each rule now points at its own package.
	wsID, err := cm.PackageIDOf(p.saved["Patch Tuesday - Workstations"])
	require.NoError(t, err)
	srvID, err := cm.PackageIDOf(p.saved["Patch Tuesday - Servers"])
	require.NoError(t, err)
	assert.NotEqual(t, wsID, srvID)

	// Source folders were created under the package root.
	assert.Contains(t, fs.made, testRoot+`\Patch Tuesday - Workstations 2026-08`)
	assert.Contains(t, fs.made, testRoot+`\Patch Tuesday - Servers 2026-08`)
}

func TestRunSinglePackageSharedAcrossRules(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	p.addRule(2, "Patch Tuesday - Servers", "OLD00002")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	opts := baseOptions("Patch Tuesday - Workstations", "Patch Tuesday - Servers")
	opts.SinglePackage = true

	summary, err := e.Run(opts)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RulesUpdated)
	assert.Equal(t, 1, summary.PackagesCreated)
	// Shared package is named after the first rule.
	assert.Equal(t, []string{"Patch Tuesday - Workstations 2026-08"}, p.created)

	wsID, err := cm.PackageIDOf(p.saved["Patch Tuesday - Workstations"])
	require.NoError(t, err)
	srvID, err := cm.PackageIDOf(p.saved["Patch Tuesday - Servers"])
	require.NoError(t, err)
	assert.Equal(t, wsID, srvID)
}

func TestRunSinglePackageWithOverrideName(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	opts := baseOptions("Patch Tuesday - Workstations")
	opts.SinglePackage = true
	opts.PackageName = "Monthly Updates"

	_, err := e.Run(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Monthly Updates 2026-08"}, p.created)
}

func TestRunNoDateOmitsStamp(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	opts := baseOptions("Patch Tuesday - Workstations")
	opts.NoDate = true

	_, err := e.Run(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Patch Tuesday - Workstations"}, p.created)
}

func TestRunMissingRuleWarnsAndContinues(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	summary, err := e.Run(baseOptions("Patch Tuesday - Workstations", "No Such Rule"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RulesUpdated)
	assert.Equal(t, 1, summary.RulesSkipped)
	assert.Len(t, p.created, 1)
}

func TestRunAllRulesMissingFails(t *testing.T) {
	p := newFakeProvider()
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	_, err := e.Run(baseOptions("No Such Rule", "Also Missing"))
	assert.Error(t, err)
	assert.Empty(t, p.created)
	assert.Empty(t, p.saved)
}

func TestRunReusesExistingPackage(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	p.packages["Patch Tuesday - Workstations 2026-08"] = &cm.UpdatesPackage{
		PackageID:     "PRI00777",
		Name:          "Patch Tuesday - Workstations 2026-08",
		PkgSourcePath: testRoot + `\Patch Tuesday - Workstations 2026-08`,
	}
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	summary, err := e.Run(baseOptions("Patch Tuesday - Workstations"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.PackagesCreated)
	assert.Equal(t, 1, summary.PackagesReused)
	assert.Empty(t, p.created)
	assert.Empty(t, fs.made, "no folder is created when the package is reused")

	id, err := cm.PackageIDOf(p.saved["Patch Tuesday - Workstations"])
	require.NoError(t, err)
	assert.Equal(t, "PRI00777", id)
}

func TestRunFolderCollisionGetsSuffix(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot,
		testRoot+`\Patch Tuesday - Workstations 2026-08`)

	e := newTestEngine(p, fs)
	_, err := e.Run(baseOptions("Patch Tuesday - Workstations"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Patch Tuesday - Workstations 2026-08 (2)"}, p.created)
	assert.Contains(t, fs.made, testRoot+`\Patch Tuesday - Workstations 2026-08 (2)`)
}

func TestRunDistributesToGroup(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	opts := baseOptions("Patch Tuesday - Workstations")
	opts.DPGroup = "All Distribution Points"

	_, err := e.Run(opts)
	require.NoError(t, err)
	require.Len(t, p.distributed, 1)
	assert.Equal(t, "PRI00001->All Distribution Points", p.distributed[0])
}

func TestRunCheckOnlyMakesNoChanges(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	opts := baseOptions("Patch Tuesday - Workstations")
	opts.CheckOnly = true

	summary, err := e.Run(opts)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RulesUpdated)
	assert.Empty(t, p.created)
	assert.Empty(t, p.saved)
	assert.Empty(t, fs.made)
}

func TestRunPackageRootUnreachable(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS() // root missing

	e := newTestEngine(p, fs)
	_, err := e.Run(baseOptions("Patch Tuesday - Workstations"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestRunSiteVersionTooOld(t *testing.T) {
	p := newFakeProvider()
	p.siteVersion = "4.00.6487.2000"
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	_, err := e.Run(baseOptions("Patch Tuesday - Workstations"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "older than required")
}

func TestRunProviderErrorAborts(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "OLD00001")
	p.ruleErr = errors.New("RPC server unavailable")
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	_, err := e.Run(baseOptions("Patch Tuesday - Workstations"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC server unavailable")
	assert.Empty(t, p.saved)
}

func TestRunRuleAlreadyPointingAtPackage(t *testing.T) {
	p := newFakeProvider()
	p.addRule(1, "Patch Tuesday - Workstations", "PRI00777")
	p.packages["Patch Tuesday - Workstations 2026-08"] = &cm.UpdatesPackage{
		PackageID: "PRI00777",
		Name:      "Patch Tuesday - Workstations 2026-08",
	}
	fs := newFakeFS(testRoot)

	e := newTestEngine(p, fs)
	summary, err := e.Run(baseOptions("Patch Tuesday - Workstations"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RulesUpdated)
	assert.Empty(t, p.saved, "no write when the rule already points at the target")
}
