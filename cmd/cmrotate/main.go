// cmd/cmrotate/main.go

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/cmrotate/pkg/cm"
	"github.com/windowsadmins/cmrotate/pkg/config"
	"github.com/windowsadmins/cmrotate/pkg/logging"
	"github.com/windowsadmins/cmrotate/pkg/rotate"
	"github.com/windowsadmins/cmrotate/pkg/utils"
	"github.com/windowsadmins/cmrotate/pkg/version"
)

var logger *logging.Logger

func main() {
	// Rule names and share paths contain spaces; repair os.Args first.
	utils.PatchWindowsArgs()

	// Define command-line flags.
	rules := pflag.StringArrayP("rule", "r", nil, "Name of an automatic deployment rule to repoint. Repeatable.")
	siteServer := pflag.String("site-server", "", "Site server hosting the SMS provider.")
	siteCode := pflag.String("site-code", "", "Three-character site code.")
	packageRoot := pflag.String("package-root", "", "Parent folder for package source folders (UNC or a path on the site server).")
	packageName := pflag.String("package-name", "", "Explicit package name (only with --single-package).")
	dateFormat := pflag.String("date-format", "", "Date stamp format in .NET tokens, e.g. \"yyyy-MM\".")
	singlePackage := pflag.Bool("single-package", false, "Point every named rule at one shared package.")
	noDate := pflag.Bool("no-date", false, "Omit the date stamp from package names.")
	dpGroup := pflag.String("dp-group", "", "Distribution point group to register new packages with.")
	checkOnly := pflag.Bool("check-only", false, "Print the rotation plan without changing the site.")
	showConfig := pflag.Bool("show-config", false, "Display the current configuration and exit.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")

	// Count the number of -v flags.
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv, -vvv)")
	pflag.Parse()

	// Load configuration (only once)
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override configuration.
	if *siteServer != "" {
		cfg.SiteServer = *siteServer
	}
	if *siteCode != "" {
		cfg.SiteCode = *siteCode
	}
	if *packageRoot != "" {
		cfg.PackageRoot = *packageRoot
	}
	if *dateFormat != "" {
		cfg.DateFormat = *dateFormat
	}
	if *dpGroup != "" {
		cfg.DistributionPointGroup = *dpGroup
	}
	if *checkOnly {
		cfg.CheckOnly = true
	}

	// Dynamically override LogLevel based on the number of -v flags.
	// 0 => ERROR, 1 => WARN, 2 => INFO, 3+ => DEBUG
	switch verbosity {
	case 0:
		cfg.LogLevel = "ERROR"
	case 1:
		cfg.LogLevel = "WARN"
	case 2:
		cfg.LogLevel = "INFO"
	default:
		cfg.LogLevel = "DEBUG"
	}
	cfg.Verbose = verbosity > 0

	// Initialize logger.
	logger = logging.New(verbosity > 0)
	if err := logging.Init(cfg); err != nil {
		logger.Fatal("Error initializing logger: %v", err)
	}
	defer logging.CloseLogger()

	// Handle --version flag.
	if *versionFlag {
		version.Print()
		os.Exit(0)
	}

	if *showConfig {
		if cfgYaml, err := yaml.Marshal(cfg); err == nil {
			logger.Printf("Current configuration:\n%s", string(cfgYaml))
		}
		os.Exit(0)
	}

	if len(*rules) == 0 {
		logger.Error("At least one --rule is required")
		pflag.Usage()
		os.Exit(1)
	}
	if cfg.SiteServer == "" || cfg.SiteCode == "" {
		logger.Error("Site server and site code must be set (flags or configuration)")
		pflag.Usage()
		os.Exit(1)
	}
	if cfg.PackageRoot == "" {
		logger.Error("Package root must be set (flags or configuration)")
		pflag.Usage()
		os.Exit(1)
	}
	if *packageName != "" && !*singlePackage {
		logger.Warning("Conflicting flags: --package-name only applies with --single-package")
		pflag.Usage()
		os.Exit(1)
	}

	logging.Info("Starting package rotation",
		"site_server", cfg.SiteServer,
		"site_code", cfg.SiteCode,
		"rules", strings.Join(*rules, ", "),
		"single_package", *singlePackage,
		"check_only", cfg.CheckOnly)

	provider := cm.NewWMIProvider(cfg.SiteServer, cfg.SiteCode)
	if !cfg.CheckOnly {
		if err := provider.Connect(); err != nil {
			logging.Error("Cannot reach the site provider", "error", err)
			logger.Fatal("Cannot reach the site provider on %s: %v", cfg.SiteServer, err)
		}
		defer provider.Close()
	}

	engine := rotate.New(provider, cfg, logger)
	summary, err := engine.Run(rotate.Options{
		Rules:         *rules,
		SinglePackage: *singlePackage,
		PackageName:   *packageName,
		NoDate:        *noDate,
		DateFormat:    cfg.DateFormat,
		PackageRoot:   cfg.PackageRoot,
		DPGroup:       cfg.DistributionPointGroup,
		CheckOnly:     cfg.CheckOnly,
	})
	if err != nil {
		logging.Error("Rotation failed", "error", err)
		logger.Fatal("Rotation failed: %v", err)
	}

	if summary.RulesSkipped > 0 {
		logger.Warning("%d rule(s) were skipped; see the session log at %s",
			summary.RulesSkipped, logging.GetCurrentLogDir())
	}
}
