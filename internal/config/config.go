package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cyclone/internal/domain"
)

// Config models cyclone.yml.
type Config struct {
	Floor struct {
		Name string `yaml:"name"`
	} `yaml:"floor"`
	Hold struct {
		AgingThresholdHours int `yaml:"aging_threshold_hours"`
	} `yaml:"hold"`
	Roles map[string]Role `yaml:"roles"`
	Users []User          `yaml:"users"`
}

// Role maps a user role to the stations it may act at. This mapping is
// enforced at the boundary; the engine itself only checks the station gate.
type Role struct {
	Stations []string `yaml:"stations"`
}

// User is one roster entry for badge quick-select.
type User struct {
	ID         string `yaml:"id"`
	BadgeID    string `yaml:"badge_id"`
	Name       string `yaml:"name"`
	Role       string `yaml:"role"`
	Department string `yaml:"department,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run cyc init to generate it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cyclone.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Floor.Name == "" {
		return fmt.Errorf("config.floor.name is required")
	}
	if c.Hold.AgingThresholdHours < 0 {
		return fmt.Errorf("config.hold.aging_threshold_hours must not be negative")
	}
	for roleID, role := range c.Roles {
		if roleID == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		for _, st := range role.Stations {
			if _, ok := domain.ParseStep(st); !ok {
				return fmt.Errorf("role %s lists unknown station %s", roleID, st)
			}
		}
	}
	seen := map[string]bool{}
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("config.users contains entry without id")
		}
		if seen[u.ID] {
			return fmt.Errorf("config.users contains duplicate id %s", u.ID)
		}
		seen[u.ID] = true
		if u.Role != "" && len(c.Roles) > 0 {
			if _, ok := c.Roles[u.Role]; !ok {
				return fmt.Errorf("user %s references unknown role %s", u.ID, u.Role)
			}
		}
	}
	return nil
}

// AgingThreshold returns the hold escalation threshold.
func (c *Config) AgingThreshold() time.Duration {
	if c == nil || c.Hold.AgingThresholdHours == 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Hold.AgingThresholdHours) * time.Hour
}

// UserByID finds a roster user.
func (c *Config) UserByID(id string) (User, bool) {
	if c == nil {
		return User{}, false
	}
	for _, u := range c.Users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// UserByBadge finds a roster user by badge number.
func (c *Config) UserByBadge(badge string) (User, bool) {
	if c == nil {
		return User{}, false
	}
	for _, u := range c.Users {
		if u.BadgeID == badge {
			return u, true
		}
	}
	return User{}, false
}

// UserName resolves a display name for an actor id, falling back to the id
// when the actor is not on the roster.
func (c *Config) UserName(id string) string {
	if u, ok := c.UserByID(id); ok {
		return u.Name
	}
	return id
}

// RoleAllows reports whether a role may act at the given station. Unknown
// roles are denied; an empty role set allows everything (single-user floor).
func (c *Config) RoleAllows(role string, station domain.WorkflowStep) bool {
	if c == nil || len(c.Roles) == 0 {
		return true
	}
	r, ok := c.Roles[role]
	if !ok {
		return false
	}
	for _, st := range r.Stations {
		if s, ok := domain.ParseStep(st); ok && s == station {
			return true
		}
	}
	return false
}

// GenerateDefault returns default config YAML.
func GenerateDefault(floorName string) string {
	return fmt.Sprintf(defaultTemplate, floorName)
}

// Default returns the default Config struct for a floor.
func Default(floorName string) *Config {
	if strings.TrimSpace(floorName) == "" {
		floorName = "Cyclone Manufacturing"
	}
	cfg, err := FromYAML([]byte(GenerateDefault(floorName)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

const defaultTemplate = `floor:
  name: %s

hold:
  aging_threshold_hours: 24

roles:
  Operator:
    stations: [Saw, Thread, CNC]
  QC:
    stations: [QC]
  Shipping:
    stations: [Ship]
  Supervisor:
    stations: [Saw, Thread, CNC, QC, Ship]

users:
  - id: OP-101
    badge_id: "101"
    name: Mike Johnson
    role: Operator
    department: Saw Station
  - id: OP-102
    badge_id: "102"
    name: Sarah Chen
    role: Operator
    department: Thread Station
  - id: OP-103
    badge_id: "103"
    name: Carlos Rivera
    role: Operator
    department: CNC Station
  - id: QC-201
    badge_id: "201"
    name: Emily Watson
    role: QC
    department: Quality Control
  - id: QC-202
    badge_id: "202"
    name: James Park
    role: QC
    department: Quality Control
  - id: SH-301
    badge_id: "301"
    name: David Miller
    role: Shipping
    department: Warehouse
  - id: SH-302
    badge_id: "302"
    name: Lisa Thompson
    role: Shipping
    department: Warehouse
  - id: SUP-401
    badge_id: "401"
    name: Robert Kim
    role: Supervisor
    department: Floor Manager
  - id: SUP-402
    badge_id: "402"
    name: Angela Martinez
    role: Supervisor
    department: Operations Manager
`
