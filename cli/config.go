package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/BertoldVdb/patchcoord/memhal"
	"github.com/BertoldVdb/patchcoord/patch"
)

// SegmentConfig maps a memory dump into the simulated address space.
type SegmentConfig struct {
	Name string `mapstructure:"name"`
	// Path of the dump, relative to the configuration file.
	File string `mapstructure:"file"`
	Base int    `mapstructure:"base"`
	// Protection in r/w/x notation, e.g. "r-x".
	Prot string `mapstructure:"prot"`
}

// SymbolConfig names an address for plan entry targets. Symbols are a list
// because viper folds map keys to lower case.
type SymbolConfig struct {
	Name    string `mapstructure:"name"`
	Address uint32 `mapstructure:"address"`
}

type Config struct {
	// Selects the per variant addresses of plan entries.
	Variant  string `mapstructure:"variant"`
	PageSize int    `mapstructure:"page_size"`
	// Directory searched for plugins and plan files.
	PluginDir string `mapstructure:"plugin_dir"`
	// Modules in load order. Empty loads everything in plugin_dir.
	Modules []string `mapstructure:"modules"`
	// Addresses available to plan entries by name.
	Symbols  []SymbolConfig  `mapstructure:"symbols"`
	Segments []SegmentConfig `mapstructure:"segments"`

	dir string
}

const envVarPrefix = "PATCHCTL"

// LoadConfig reads the configuration at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("page_size", memhal.DefaultPageSize)
	v.SetDefault("variant", "")
	v.SetDefault("plugin_dir", "")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Nested options can be set through the environment, e.g. PATCHCTL_PLUGIN_DIR.
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s: %w", k, err)
		}
	}

	config := &Config{
		dir: filepath.Dir(path),
	}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyFlags() {
	if CLI.Image != "" {
		c.Segments = []SegmentConfig{{
			Name: "IMAGE",
			File: CLI.Image,
			Base: CLI.Base,
			Prot: CLI.Prot,
		}}
	}
	if CLI.Variant != "" {
		c.Variant = CLI.Variant
	}
}

func (c *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

func (c *Config) SymbolTable() patch.SymbolTable {
	table := make(patch.SymbolTable, len(c.Symbols))
	for _, m := range c.Symbols {
		table[m.Name] = m.Address
	}
	return table
}

func (c *Config) ModuleDir() string {
	return c.path(c.PluginDir)
}

// BuildSpace maps every configured segment.
func (c *Config) BuildSpace() (*memhal.Simulated, error) {
	space := memhal.NewSimulated(c.PageSize)

	for _, m := range c.Segments {
		data, err := os.ReadFile(c.path(m.File))
		if err != nil {
			return nil, err
		}

		prot, err := memhal.ParseProtection(m.Prot)
		if err != nil {
			return nil, fmt.Errorf("segment %s: protection %q: %w", m.Name, m.Prot, err)
		}

		if err := space.Map(memhal.MemoryRegionNameType(m.Name), m.Base, data, prot); err != nil {
			return nil, fmt.Errorf("segment %s: %w", m.Name, err)
		}
	}
	return space, nil
}
