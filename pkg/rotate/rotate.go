// pkg/rotate/rotate.go - the deployment package rotation engine.
//
// The engine is a single linear procedure: resolve the named rules, decide
// package names, reuse or create the backing packages, then repoint each
// rule's content template at its package. Failures on a single rule are
// warnings; the run keeps going with the rest.

package rotate

import (
	"errors"
	"fmt"
	"os"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/windowsadmins/cmrotate/pkg/cm"
	"github.com/windowsadmins/cmrotate/pkg/config"
	"github.com/windowsadmins/cmrotate/pkg/logging"
	"github.com/windowsadmins/cmrotate/pkg/naming"
	"github.com/windowsadmins/cmrotate/pkg/retry"
	"github.com/windowsadmins/cmrotate/pkg/utils"
)

// Options are the per-run parameters, merged from flags and configuration.
type Options struct {
	Rules         []string
	SinglePackage bool
	PackageName   string
	NoDate        bool
	DateFormat    string
	PackageRoot   string
	DPGroup       string
	CheckOnly     bool
	Now           time.Time
}

// Assignment is one planned package and the rules that will point at it.
type Assignment struct {
	Rules        []*cm.AutoDeploymentRule
	PackageName  string
	SourceFolder string             // source path as the site will record it
	Existing     *cm.UpdatesPackage // set when the site already has the package
}

// Summary is what a run did.
type Summary struct {
	RulesRequested  int
	RulesUpdated    int
	RulesSkipped    int
	PackagesCreated int
	PackagesReused  int
}

// Engine drives a rotation run against a site provider.
type Engine struct {
	Provider cm.Provider
	Config   *config.Configuration
	Log      *logging.Logger
	Retry    retry.RetryConfig

	// Filesystem hooks, overridable in tests. Paths handed to these are
	// already translated to a form reachable from this machine.
	FolderExists func(path string) (bool, error)
	MakeFolder   func(path string) error
	FreeSpace    func(path string) (uint64, error)
}

// New returns an engine wired to the real filesystem.
func New(provider cm.Provider, cfg *config.Configuration, log *logging.Logger) *Engine {
	return &Engine{
		Provider: provider,
		Config:   cfg,
		Log:      log,
		Retry:    retry.DefaultConfig(),
		FolderExists: func(path string) (bool, error) {
			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					return false, nil
				}
				return false, err
			}
			return info.IsDir(), nil
		},
		MakeFolder: func(path string) error {
			return os.MkdirAll(path, 0755)
		},
		FreeSpace: func(path string) (uint64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
	}
}

// Run executes a rotation. It returns a summary even when some rules were
// skipped; it returns an error only for the short-circuit conditions: site
// unreachable or too old, package root unreachable, or no rules found.
func (e *Engine) Run(opts Options) (*Summary, error) {
	if len(opts.Rules) == 0 {
		return nil, errors.New("at least one rule name is required")
	}
	if opts.PackageRoot == "" {
		return nil, errors.New("package root is not set")
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	summary := &Summary{RulesRequested: len(opts.Rules)}

	if err := e.checkSiteVersion(); err != nil {
		return nil, err
	}

	rules, err := e.resolveRules(opts.Rules)
	if err != nil {
		return nil, err
	}
	summary.RulesSkipped = len(opts.Rules) - len(rules)
	if len(rules) == 0 {
		return nil, fmt.Errorf("none of the %d named rules were found", len(opts.Rules))
	}

	if err := e.checkPackageRoot(opts.PackageRoot); err != nil {
		return nil, err
	}

	plan, err := e.Plan(rules, opts)
	if err != nil {
		return nil, err
	}

	if opts.CheckOnly {
		e.printPlan(plan)
		return summary, nil
	}

	for _, a := range plan {
		pkg, created, err := e.ensurePackage(a, opts)
		if err != nil {
			// Package-level failure skips every rule assigned to it.
			logging.Error("Package could not be prepared; skipping its rules",
				"package", a.PackageName, "rules", len(a.Rules), "error", err)
			e.Log.Error("Package %q could not be prepared: %v", a.PackageName, err)
			summary.RulesSkipped += len(a.Rules)
			continue
		}
		if created {
			summary.PackagesCreated++
		} else {
			summary.PackagesReused++
		}

		for _, rule := range a.Rules {
			if e.repointRule(rule, pkg.PackageID) {
				summary.RulesUpdated++
			} else {
				summary.RulesSkipped++
			}
		}
	}

	e.Log.Success("Rotation complete: %d rule(s) updated, %d skipped, %d package(s) created, %d reused",
		summary.RulesUpdated, summary.RulesSkipped, summary.PackagesCreated, summary.PackagesReused)
	logging.Info("Rotation complete",
		"rules_updated", summary.RulesUpdated,
		"rules_skipped", summary.RulesSkipped,
		"packages_created", summary.PackagesCreated,
		"packages_reused", summary.PackagesReused)

	return summary, nil
}

// Plan decides package names and source folders for the resolved rules
// without touching the site. Collision suffixes come from folder existence
// checks; reuse comes from a package lookup on the final name.
func (e *Engine) Plan(rules []*cm.AutoDeploymentRule, opts Options) ([]*Assignment, error) {
	stamp := ""
	if !opts.NoDate {
		var err error
		stamp, err = naming.Stamp(opts.Now, opts.DateFormat)
		if err != nil {
			return nil, err
		}
	}

	var plan []*Assignment
	if opts.SinglePackage {
		name := naming.PackageName(rules[0].Name, opts.PackageName, stamp, opts.NoDate)
		a, err := e.planAssignment(name, rules, opts)
		if err != nil {
			return nil, err
		}
		plan = append(plan, a)
	} else {
		for _, rule := range rules {
			name := naming.PackageName(rule.Name, "", stamp, opts.NoDate)
			a, err := e.planAssignment(name, []*cm.AutoDeploymentRule{rule}, opts)
			if err != nil {
				return nil, err
			}
			plan = append(plan, a)
		}
	}
	return plan, nil
}

// planAssignment resolves the folder collision suffix and the reuse decision
// for one candidate package name.
func (e *Engine) planAssignment(candidate string, rules []*cm.AutoDeploymentRule, opts Options) (*Assignment, error) {
	final, err := naming.ResolveFolderName(candidate, func(name string) (bool, error) {
		return e.FolderExists(e.probePath(utils.JoinPackagePath(opts.PackageRoot, name)))
	})
	if err != nil {
		return nil, fmt.Errorf("resolving folder for package %q: %w", candidate, err)
	}
	if final != candidate {
		logging.Info("Source folder name already taken; using suffixed name",
			"candidate", candidate, "final", final)
	}

	a := &Assignment{
		Rules:        rules,
		PackageName:  final,
		SourceFolder: utils.JoinPackagePath(opts.PackageRoot, final),
	}

	// A package with the final name wins over folder creation: reuse it.
	var existing *cm.UpdatesPackage
	err = retry.Retry(e.Retry, "package lookup", func() error {
		pkg, err := e.Provider.PackageByName(final)
		if err != nil {
			if errors.Is(err, cm.ErrPackageNotFound) {
				return nil
			}
			return err
		}
		existing = pkg
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.Existing = existing
	return a, nil
}

// ensurePackage reuses the planned package when the site already has it,
// otherwise creates the source folder and the package, then registers it
// with the distribution point group when one is named.
func (e *Engine) ensurePackage(a *Assignment, opts Options) (*cm.UpdatesPackage, bool, error) {
	if a.Existing != nil {
		logging.Info("Reusing existing package",
			"package", a.Existing.Name, "package_id", a.Existing.PackageID)
		e.Log.Info("Reusing existing package %q (%s)", a.Existing.Name, a.Existing.PackageID)
		return a.Existing, false, nil
	}

	if err := e.MakeFolder(e.probePath(a.SourceFolder)); err != nil {
		return nil, false, fmt.Errorf("creating source folder %q: %w", a.SourceFolder, err)
	}

	var pkg *cm.UpdatesPackage
	err := retry.Retry(e.Retry, "package creation", func() error {
		created, err := e.Provider.CreatePackage(a.PackageName, a.SourceFolder, e.Config.PackageDescription)
		if err != nil {
			return err
		}
		pkg = created
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	e.Log.Success("Created package %q (%s) at %s", pkg.Name, pkg.PackageID, a.SourceFolder)

	if opts.DPGroup != "" {
		err := retry.Retry(e.Retry, "content distribution", func() error {
			return e.Provider.DistributeToGroup(pkg.PackageID, opts.DPGroup)
		})
		if err != nil {
			// Distribution is best effort; the package is still usable.
			logging.Warn("Failed to register package with distribution point group",
				"package_id", pkg.PackageID, "dp_group", opts.DPGroup, "error", err)
			e.Log.Warning("Package %s was not registered with group %q: %v", pkg.PackageID, opts.DPGroup, err)
		}
	}

	return pkg, true, nil
}

// repointRule rewrites the rule's content template at the package and saves
// it back. Returns false when the rule had to be skipped.
func (e *Engine) repointRule(rule *cm.AutoDeploymentRule, packageID string) bool {
	current, err := cm.PackageIDOf(rule.ContentTemplate)
	if err == nil && current == packageID {
		logging.Info("Rule already points at package; nothing to do",
			"rule", rule.Name, "package_id", packageID)
		return true
	}

	updated, err := cm.RewritePackageID(rule.ContentTemplate, packageID)
	if err != nil {
		logging.Warn("Skipping rule with unusable content template",
			"rule", rule.Name, "error", err)
		e.Log.Warning("Skipping rule %q: %v", rule.Name, err)
		return false
	}

	rule.ContentTemplate = updated
	err = retry.Retry(e.Retry, "rule update", func() error {
		return e.Provider.SaveRuleContentTemplate(rule)
	})
	if err != nil {
		logging.Warn("Failed to save rule; skipping", "rule", rule.Name, "error", err)
		e.Log.Warning("Skipping rule %q: %v", rule.Name, err)
		return false
	}

	logging.Info("Repointed rule at package", "rule", rule.Name, "package_id", packageID)
	e.Log.Info("Rule %q now uses package %s", rule.Name, packageID)
	return true
}

// resolveRules looks up every named rule, warning per miss. Provider errors
// other than a miss abort the run.
func (e *Engine) resolveRules(names []string) ([]*cm.AutoDeploymentRule, error) {
	var rules []*cm.AutoDeploymentRule
	for _, name := range names {
		var rule *cm.AutoDeploymentRule
		err := retry.Retry(e.Retry, "rule lookup", func() error {
			found, err := e.Provider.RuleByName(name)
			if err != nil {
				if errors.Is(err, cm.ErrRuleNotFound) {
					return retry.NonRetryable(err)
				}
				return err
			}
			rule = found
			return nil
		})
		if err != nil {
			if errors.Is(err, cm.ErrRuleNotFound) {
				logging.Warn("Rule not found; skipping", "rule", name)
				e.Log.Warning("Rule %q not found; skipping", name)
				continue
			}
			return nil, fmt.Errorf("looking up rule %q: %w", name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// checkSiteVersion refuses to run against a site older than the configured
// minimum. An unparsable version is a warning, not a stop.
func (e *Engine) checkSiteVersion() error {
	minStr := e.Config.MinimumSiteVersion
	if minStr == "" {
		return nil
	}

	var raw string
	err := retry.Retry(e.Retry, "site version query", func() error {
		v, err := e.Provider.SiteVersion()
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading site version: %w", err)
	}

	have, err := goversion.NewVersion(raw)
	if err != nil {
		logging.Warn("Site version not parseable; continuing", "version", raw, "error", err)
		return nil
	}
	want, err := goversion.NewVersion(minStr)
	if err != nil {
		logging.Warn("Configured minimum site version not parseable; continuing",
			"minimum", minStr, "error", err)
		return nil
	}
	if have.LessThan(want) {
		return fmt.Errorf("site version %s is older than required %s", raw, minStr)
	}

	logging.Debug("Site version check passed", "version", raw, "minimum", minStr)
	return nil
}

// checkPackageRoot verifies the package parent folder is reachable from this
// machine and warns when the volume is low on space.
func (e *Engine) checkPackageRoot(root string) error {
	probe := e.probePath(root)
	ok, err := e.FolderExists(probe)
	if err != nil {
		return fmt.Errorf("checking package root %q: %w", root, err)
	}
	if !ok {
		return fmt.Errorf("package root %q is unreachable (checked %q)", root, probe)
	}

	free, err := e.FreeSpace(probe)
	if err != nil {
		logging.Debug("Free space check unavailable", "path", probe, "error", err)
		return nil
	}
	floor := uint64(e.Config.MinFreeSpaceGB) * 1024 * 1024 * 1024
	if floor > 0 && free < floor {
		logging.Warn("Package root volume is low on space",
			"path", root, "free_bytes", free, "floor_gb", e.Config.MinFreeSpaceGB)
		e.Log.Warning("Package root %q has only %.1f GB free", root, float64(free)/(1024*1024*1024))
	}
	return nil
}

// probePath translates a drive-rooted path on the site server into its
// administrative share so it can be checked from the admin workstation.
func (e *Engine) probePath(path string) string {
	if utils.IsUNCPath(path) {
		return path
	}
	return utils.AdminSharePath(e.Config.SiteServer, path)
}

// printPlan reports what a run would have done.
func (e *Engine) printPlan(plan []*Assignment) {
	for _, a := range plan {
		action := "create"
		id := "new"
		if a.Existing != nil {
			action = "reuse"
			id = a.Existing.PackageID
		}
		e.Log.Info("Would %s package %q (%s) at %s", action, a.PackageName, id, a.SourceFolder)
		for _, rule := range a.Rules {
			e.Log.Info("  rule %q -> package %q", rule.Name, a.PackageName)
		}
	}
}
