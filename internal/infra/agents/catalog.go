package agents

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EntryType distinguishes sub-agent definitions from skills
type EntryType string

const (
	TypeAgent EntryType = "agent"
	TypeSkill EntryType = "skill"
)

// Entry is one discovered agent or skill. The file body is never read past the front matter.
type Entry struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Path        string    `json:"path"`
	Type        EntryType `json:"type"`
}

// Issue represents a file that could not be cataloged
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Catalog lists the agents and skills of a .claude directory
type Catalog struct {
	Agents []Entry `json:"agents"`
	Skills []Entry `json:"skills"`
	Issues []Issue `json:"issues,omitempty"`
}

// FrontMatter is the subset of keys the catalog reads; other keys are ignored
type FrontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Load scans {claudeDir}/agents/*.md and {claudeDir}/skills/*/SKILL.md
func Load(fs afero.Fs, claudeDir string) (*Catalog, error) {
	c := &Catalog{Agents: []Entry{}, Skills: []Entry{}}

	agentFiles, err := afero.Glob(fs, filepath.Join(claudeDir, "agents", "*.md"))
	if err != nil {
		return nil, fmt.Errorf("scan agents: %w", err)
	}
	for _, p := range agentFiles {
		fallback := strings.TrimSuffix(filepath.Base(p), ".md")
		c.add(fs, p, path.Join(".claude", "agents", filepath.Base(p)), fallback, TypeAgent)
	}

	skillDirs, err := afero.ReadDir(fs, filepath.Join(claudeDir, "skills"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan skills: %w", err)
	}
	for _, d := range skillDirs {
		if !d.IsDir() {
			continue
		}
		p := filepath.Join(claudeDir, "skills", d.Name(), "SKILL.md")
		if ok, _ := afero.Exists(fs, p); !ok {
			continue
		}
		c.add(fs, p, path.Join(".claude", "skills", d.Name(), "SKILL.md"), d.Name(), TypeSkill)
	}

	sort.Slice(c.Agents, func(i, j int) bool { return c.Agents[i].Name < c.Agents[j].Name })
	sort.Slice(c.Skills, func(i, j int) bool { return c.Skills[i].Name < c.Skills[j].Name })
	return c, nil
}

func (c *Catalog) add(fs afero.Fs, file, rel, fallback string, typ EntryType) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		c.Issues = append(c.Issues, Issue{Path: rel, Message: err.Error()})
		return
	}
	fm, err := ParseFrontMatter(data)
	if err != nil {
		c.Issues = append(c.Issues, Issue{Path: rel, Message: err.Error()})
		return
	}
	if fm.Name == "" {
		fm.Name = fallback
	}
	if fm.Description == "" {
		c.Issues = append(c.Issues, Issue{Path: rel, Message: "missing description"})
		return
	}

	e := Entry{Name: fm.Name, Description: strings.TrimSpace(fm.Description), Path: rel, Type: typ}
	if typ == TypeAgent {
		c.Agents = append(c.Agents, e)
	} else {
		c.Skills = append(c.Skills, e)
	}
}

// HasAgent reports whether a sub-agent named name is defined
func (c *Catalog) HasAgent(name string) bool {
	for _, a := range c.Agents {
		if a.Name == name {
			return true
		}
	}
	return false
}

// ParseFrontMatter decodes the YAML block between the leading --- delimiters
func ParseFrontMatter(data []byte) (*FrontMatter, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return nil, fmt.Errorf("no front matter")
	}
	rest := data[len("---\n"):]

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		if bytes.HasPrefix(rest, []byte("---")) {
			return &FrontMatter{}, nil
		}
		return nil, fmt.Errorf("unterminated front matter")
	}

	var fm FrontMatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}
	return &fm, nil
}
