package ratecontrol

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Per-category submission limits live in a standalone yaml file so operators
// can retune them without touching the main service config. A missing file
// falls back to the built-in limits.

type config struct {
	RateLimits struct {
		DefaultPerMinute  int `yaml:"default_per_minute"`
		DefaultPerDay     int `yaml:"default_per_day"`
		CategoryOverrides map[string]struct {
			PerMinute int `yaml:"per_minute"`
			PerDay    int `yaml:"per_day"`
		} `yaml:"category_overrides"`
	} `yaml:"rate_limits"`
}

// Limit caps writing submissions for one category. Zero fields mean
// unlimited in that window.
type Limit struct {
	PerMinute int
	PerDay    int
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
	configPath  string
)

var defaultPaths = []string{
	os.Getenv("RATE_LIMITS_CONFIG_PATH"),
	"/app/config/rate_limits.yaml",
	"./config/rate_limits.yaml",
	"../../config/rate_limits.yaml",
	"../../../config/rate_limits.yaml",
}

// SetConfigPath points the package at an explicit limits file, normally the
// rate_limit.categories_path value from the service config. It takes effect
// immediately.
func SetConfigPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	configPath = path
	initialized = false
	loadLocked()
}

func loadLocked() {
	var cfg config
	paths := defaultPaths
	if configPath != "" {
		paths = append([]string{configPath}, defaultPaths...)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal rate limit config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		log.Printf("Loaded rate limit configuration from %s", p)
		break
	}
	if cfg.RateLimits.DefaultPerMinute == 0 && cfg.RateLimits.DefaultPerDay == 0 && len(cfg.RateLimits.CategoryOverrides) == 0 {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var tmp config
				if err := yaml.Unmarshal(data, &tmp); err == nil {
					cfg = tmp
					log.Printf("Loaded rate limit configuration from %s", path)
				}
			}
		}
	}
	loaded = &cfg
	initialized = true
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "rate_limits.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// LimitForCategory returns the submission limit for a writing category.
// Overrides from the limits file win; fields an override leaves at zero
// inherit from the configured default, then from the built-in table.
func LimitForCategory(category string) Limit {
	cfg := get()

	def := Limit{}
	if cfg != nil {
		def = Limit{PerMinute: cfg.RateLimits.DefaultPerMinute, PerDay: cfg.RateLimits.DefaultPerDay}
	}
	if def.PerMinute == 0 && def.PerDay == 0 {
		def = builtInDefaultLimit
	}

	key := strings.ToLower(strings.TrimSpace(category))
	if cfg != nil && cfg.RateLimits.CategoryOverrides != nil {
		if override, ok := cfg.RateLimits.CategoryOverrides[key]; ok {
			return Limit{PerMinute: override.PerMinute, PerDay: override.PerDay}.withDefaults(def)
		}
	}
	if limit, ok := builtInCategoryLimits[key]; ok {
		return limit.withDefaults(def)
	}
	return def
}

func (l Limit) withDefaults(def Limit) Limit {
	if l.PerMinute == 0 {
		l.PerMinute = def.PerMinute
	}
	if l.PerDay == 0 {
		l.PerDay = def.PerDay
	}
	return l
}

// The built-in table tracks pipeline cost: long-form letters burn several
// drafting and review stages per run, short-form categories are cheap.
var builtInDefaultLimit = Limit{PerMinute: 30, PerDay: 500}

var builtInCategoryLimits = map[string]Limit{
	"cover_letter":        {PerMinute: 10, PerDay: 100},
	"motivational_letter": {PerMinute: 6, PerDay: 60},
	"email":               {PerMinute: 30, PerDay: 500},
	"social_response":     {PerMinute: 30, PerDay: 500},
}

// Reload rereads the limits file. Wired to the config watcher so edits take
// effect without a restart.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}
