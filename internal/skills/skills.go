// Package skills loads the skill catalog and the permanent rules document.
//
// A skill is a named, independently documented behavior the assistant may
// invoke. Each definition is a markdown document with a small YAML
// frontmatter header (name, description) followed by a free-text body.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSkill indicates a definition failed validation.
var ErrInvalidSkill = errors.New("invalid skill")

// Skill is one catalog entry.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Path        string `json:"path"`
}

// Validate checks required fields.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSkill)
	}
	if s.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidSkill)
	}
	return nil
}

// Catalog is the immutable set of skills loaded once per run.
type Catalog struct {
	Skills []Skill
}

// Names returns all skill names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Skills))
	for _, s := range c.Skills {
		names = append(names, s.Name)
	}
	return names
}

// Subset returns only the skills whose names appear in the given list,
// preserving catalog order. Unknown names are ignored.
func (c *Catalog) Subset(names []string) *Catalog {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	sub := &Catalog{}
	for _, s := range c.Skills {
		if want[s.Name] {
			sub.Skills = append(sub.Skills, s)
		}
	}
	return sub
}

// frontmatter is the parsed YAML header of a skill document.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoadCatalog walks the skills directory and parses every markdown
// definition. Malformed documents are logged and skipped; an unreadable
// directory is a setup failure. A missing directory yields an empty catalog.
func LoadCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	catalog := &Catalog{}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return catalog, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		skill, err := parseSkillFile(path)
		if err != nil {
			logger.Warn("skipping malformed skill definition",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		catalog.Skills = append(catalog.Skills, *skill)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking skills directory: %w", err)
	}

	sort.Slice(catalog.Skills, func(i, j int) bool {
		return catalog.Skills[i].Name < catalog.Skills[j].Name
	})
	return catalog, nil
}

// parseSkillFile splits a document into frontmatter and body.
func parseSkillFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading skill file: %w", err)
	}

	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, fmt.Errorf("%w: missing frontmatter", ErrInvalidSkill)
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated frontmatter", ErrInvalidSkill)
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}

	body := rest[end+len("\n---"):]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}

	skill := &Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Content:     strings.TrimSpace(body),
		Path:        path,
	}
	if err := skill.Validate(); err != nil {
		return nil, err
	}
	return skill, nil
}

// LoadRules reads the permanent rules document. Absence is normal and
// yields an empty string.
func LoadRules(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading rules file: %w", err)
	}
	return string(data), nil
}
