// pkg/config/config.go - configuration settings for cmrotate.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/windows/registry"
	"gopkg.in/yaml.v3"
)

const ConfigPath = `C:\ProgramData\CMRotate\Config.yaml`

// CSP OMA-URI registry path for enterprise policy configuration
const CSPRegistryPath = `SOFTWARE\CMRotate\Config`

// Configuration holds the configurable options for cmrotate in YAML format
type Configuration struct {
	SiteServer             string `yaml:"SiteServer"`
	SiteCode               string `yaml:"SiteCode"`
	PackageRoot            string `yaml:"PackageRoot"`
	DateFormat             string `yaml:"DateFormat"`
	DistributionPointGroup string `yaml:"DistributionPointGroup"`
	PackageDescription     string `yaml:"PackageDescription"`
	MinimumSiteVersion     string `yaml:"MinimumSiteVersion"`
	MinFreeSpaceGB         int    `yaml:"MinFreeSpaceGB"`
	LogLevel               string `yaml:"LogLevel"`
	Debug                  bool   `yaml:"Debug"`
	Verbose                bool   `yaml:"Verbose"`
	CheckOnly              bool   `yaml:"CheckOnly"`
}

// LoadConfig loads the configuration from a YAML file.
// If the YAML file doesn't exist, it falls back to CSP OMA-URI registry settings.
func LoadConfig() (*Configuration, error) {
	if _, err := os.Stat(ConfigPath); os.IsNotExist(err) {
		log.Printf("Configuration file does not exist: %s", ConfigPath)
		log.Printf("Attempting to load configuration from CSP OMA-URI registry settings...")

		// Try CSP fallback
		config, cspErr := LoadConfigFromCSP()
		if cspErr == nil {
			log.Printf("Successfully loaded configuration from CSP OMA-URI registry settings")
			return config, nil
		}

		log.Printf("Failed to load from CSP registry: %v", cspErr)

		// Neither source exists; run on defaults so flags alone can drive the tool.
		return GetDefaultConfig(), nil
	}

	return LoadConfigFile(ConfigPath)
}

// LoadConfigFile loads the configuration from an explicit YAML file path.
func LoadConfigFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Failed to read configuration file: %v", err)
		return nil, err
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		log.Printf("Failed to parse configuration file: %v", err)
		return nil, err
	}

	applyFallbackDefaults(config)
	return config, nil
}

// SaveConfig saves the current configuration to a YAML file.
func SaveConfig(config *Configuration) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		log.Printf("Failed to serialize configuration: %v", err)
		return err
	}

	err = os.MkdirAll(filepath.Dir(ConfigPath), 0755)
	if err != nil {
		log.Printf("Failed to create configuration directory: %v", err)
		return err
	}

	err = os.WriteFile(ConfigPath, data, 0644)
	if err != nil {
		log.Printf("Failed to write configuration file: %v", err)
		return err
	}

	return nil
}

// GetDefaultConfig provides default configuration values in YAML format.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		SiteServer:         "",
		SiteCode:           "",
		PackageRoot:        "",
		DateFormat:         "yyyy-MM-dd",
		PackageDescription: "Software update package created by cmrotate",
		MinimumSiteVersion: "5.0",
		MinFreeSpaceGB:     10,
		LogLevel:           "INFO",
		Debug:              false,
		Verbose:            false,
		CheckOnly:          false,
	}
}

// applyFallbackDefaults fills in fields a partial YAML or CSP source left empty.
func applyFallbackDefaults(config *Configuration) {
	if config.DateFormat == "" {
		config.DateFormat = "yyyy-MM-dd"
	}
	if config.PackageDescription == "" {
		config.PackageDescription = "Software update package created by cmrotate"
	}
	if config.MinimumSiteVersion == "" {
		config.MinimumSiteVersion = "5.0"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
}

// LoadConfigFromCSP loads configuration from Windows CSP OMA-URI registry settings.
// This serves as a fallback when the Config.yaml file doesn't exist.
func LoadConfigFromCSP() (*Configuration, error) {
	// Start with default configuration
	config := GetDefaultConfig()

	// Load from CSP registry path
	err := loadCSPFromRegistryPath(CSPRegistryPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to load from CSP registry path: %v", err)
	}

	log.Printf("Loaded CSP configuration from registry path: %s", CSPRegistryPath)

	// Validate that we have at least some essential configuration
	if config.SiteServer == "" || config.SiteCode == "" {
		return nil, fmt.Errorf("essential CSP configuration missing: SiteServer or SiteCode not set")
	}

	applyFallbackDefaults(config)
	return config, nil
}

// loadCSPFromRegistryPath loads configuration values from a specific registry path.
func loadCSPFromRegistryPath(registryPath string, config *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, registryPath, registry.READ)
	if err != nil {
		return fmt.Errorf("failed to open CSP registry key %s: %v", registryPath, err)
	}
	defer key.Close()

	// Load string configuration values
	loadStringFromRegistry(key, "SiteServer", &config.SiteServer)
	loadStringFromRegistry(key, "SiteCode", &config.SiteCode)
	loadStringFromRegistry(key, "PackageRoot", &config.PackageRoot)
	loadStringFromRegistry(key, "DateFormat", &config.DateFormat)
	loadStringFromRegistry(key, "DistributionPointGroup", &config.DistributionPointGroup)
	loadStringFromRegistry(key, "PackageDescription", &config.PackageDescription)
	loadStringFromRegistry(key, "MinimumSiteVersion", &config.MinimumSiteVersion)
	loadStringFromRegistry(key, "LogLevel", &config.LogLevel)

	// Load integer configuration values
	loadIntFromRegistry(key, "MinFreeSpaceGB", &config.MinFreeSpaceGB)

	// Load boolean configuration values
	loadBoolFromRegistry(key, "Debug", &config.Debug)
	loadBoolFromRegistry(key, "Verbose", &config.Verbose)
	loadBoolFromRegistry(key, "CheckOnly", &config.CheckOnly)

	return nil
}

// loadStringFromRegistry loads a string value from registry if it exists.
func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("CSP: Loaded %s = %s", valueName, val)
	}
}

// loadBoolFromRegistry loads a boolean value from registry if it exists.
// Accepts various formats: "true"/"false", "1"/"0", DWORD 1/0
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	// Try string value first
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			log.Printf("CSP: Loaded %s = %t", valueName, parsed)
			return
		}
	}

	// Try DWORD value
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
		log.Printf("CSP: Loaded %s = %t", valueName, val != 0)
	}
}

// loadIntFromRegistry loads an integer value from registry if it exists.
func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	// Try string value first
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			log.Printf("CSP: Loaded %s = %d", valueName, parsed)
			return
		}
	}

	// Try DWORD value
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
		log.Printf("CSP: Loaded %s = %d", valueName, int(val))
	}
}
