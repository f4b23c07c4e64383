// Package persona loads named style/tone bundles from a directory of
// PERSONA.md files (one subdirectory per persona), each with a YAML
// frontmatter header and a Markdown body used as the extended
// description. The scan/frontmatter/duplicate-detection shape is
// grounded on the teacher's internal/skills.LoadSkills.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const personaFileName = "PERSONA.md"

// Profile is one persona's style parameters, consumed by the prompt
// builder's system message and dynamic-style blending.
type Profile struct {
	Name        string
	Description string
	Tone        string
	SlangLevel  float64
	Intimacy    float64
	Constraints []string
}

// Default is used when no persona directory is configured or none of
// its entries parse.
var Default = Profile{
	Name:        "助手",
	Description: "一个话不多但很real的群友",
	Tone:        "随性、简短、偶尔毒舌",
	SlangLevel:  0.4,
	Constraints: []string{"禁止AI腔", "禁止讲大道理", "禁止格式化输出", "禁止分点", "禁止括号动作描写"},
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tone        string   `yaml:"tone"`
	SlangLevel  float64  `yaml:"slangLevel"`
	Intimacy    float64  `yaml:"intimacy"`
	Constraints []string `yaml:"constraints"`
}

// Load scans dir for <name>/PERSONA.md files and returns the parsed
// profiles, sorted by directory name. A missing dir is not an error —
// it simply yields no profiles, same as LoadSkills on a missing dir.
func Load(dir string) ([]Profile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat persona dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	profiles := make([]Profile, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), personaFileName)
		profile, skip, parseErr := parseFile(path)
		if parseErr != nil {
			return nil, parseErr
		}
		if skip {
			continue
		}
		if prev, exists := seen[profile.Name]; exists {
			return nil, fmt.Errorf("duplicate persona name %q in %s (already in %s)", profile.Name, path, prev)
		}
		seen[profile.Name] = path
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func parseFile(path string) (Profile, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, true, nil
		}
		return Profile{}, false, fmt.Errorf("read persona %q: %w", path, err)
	}

	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return Profile{}, false, fmt.Errorf("parse persona %q: %w", path, err)
	}

	var fm frontmatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return Profile{}, false, fmt.Errorf("parse persona yaml %q: %w", path, err)
	}
	if strings.TrimSpace(fm.Name) == "" {
		return Profile{}, false, fmt.Errorf("persona %q missing name", path)
	}

	desc := strings.TrimSpace(fm.Description)
	if body := strings.TrimSpace(string(body)); body != "" {
		if desc != "" {
			desc += "\n"
		}
		desc += body
	}

	return Profile{
		Name:        strings.TrimSpace(fm.Name),
		Description: desc,
		Tone:        strings.TrimSpace(fm.Tone),
		SlangLevel:  fm.SlangLevel,
		Intimacy:    fm.Intimacy,
		Constraints: fm.Constraints,
	}, false, nil
}

func splitFrontmatter(content []byte) (meta, body []byte, err error) {
	trimmed := strings.TrimLeft(string(content), "\n\r\t ")
	if !strings.HasPrefix(trimmed, "---") {
		return nil, nil, errors.New("missing YAML frontmatter")
	}
	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, nil, errors.New("unterminated YAML frontmatter")
	}
	metaStr := rest[:idx]
	afterClose := rest[idx+len("\n---"):]
	if nl := strings.Index(afterClose, "\n"); nl >= 0 {
		afterClose = afterClose[nl+1:]
	} else {
		afterClose = ""
	}
	return []byte(metaStr), []byte(afterClose), nil
}

// Find returns the profile with the given name, or Default if name is
// empty or not found.
func Find(profiles []Profile, name string) Profile {
	if name == "" {
		return Default
	}
	for _, p := range profiles {
		if p.Name == name {
			return p
		}
	}
	return Default
}

// Registry tracks the loaded profiles plus each session's active
// choice, backing the /persona command and the prompt builder's
// per-session lookup.
type Registry struct {
	mu       sync.Mutex
	profiles []Profile
	active   map[string]string
}

// NewRegistry builds a Registry around a loaded profile set.
func NewRegistry(profiles []Profile) *Registry {
	return &Registry{profiles: profiles, active: make(map[string]string)}
}

// Active returns sessionKey's current profile, or Default if unset or
// the previously chosen name no longer exists.
func (r *Registry) Active(sessionKey string) Profile {
	r.mu.Lock()
	name := r.active[sessionKey]
	r.mu.Unlock()
	return Find(r.profiles, name)
}

// SetActive switches sessionKey's profile to name, reporting whether it
// was found.
func (r *Registry) SetActive(sessionKey, name string) (Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.Name == name {
			r.active[sessionKey] = name
			return p, true
		}
	}
	return Profile{}, false
}
