package agents

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		".claude/agents/researcher.md":       "---\nname: researcher\ndescription: Gathers context\ntools: Read, Grep\n---\nBody is opaque.\n",
		".claude/agents/planner.md":          "---\ndescription: >\n  Writes plans\n  in detail\n---\n",
		".claude/agents/broken.md":           "---\nname: [unclosed\n---\n",
		".claude/agents/plain.md":            "no front matter here",
		".claude/skills/testing/SKILL.md":    "---\nname: testing\ndescription: Test helpers\n---\n",
		".claude/skills/debugging/SKILL.md":  "---\nname: debugging\ndescription: Debug helpers\n---\n",
		".claude/skills/nodesc/SKILL.md":     "---\nname: nodesc\n---\n",
		".claude/skills/empty-dir/README.md": "ignored",
	}
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0o644))
	}

	c, err := Load(fs, ".claude")
	require.NoError(t, err)

	require.Len(t, c.Agents, 2)
	assert.Equal(t, "planner", c.Agents[0].Name, "name falls back to file name")
	assert.Equal(t, "Writes plans in detail", c.Agents[0].Description)
	assert.Equal(t, "researcher", c.Agents[1].Name)
	assert.Equal(t, ".claude/agents/researcher.md", c.Agents[1].Path)

	require.Len(t, c.Skills, 2)
	assert.Equal(t, "debugging", c.Skills[0].Name)
	assert.Equal(t, "testing", c.Skills[1].Name)

	assert.Len(t, c.Issues, 3)
	assert.True(t, c.HasAgent("researcher"))
	assert.False(t, c.HasAgent("tester"))
}

func TestLoad_MissingDirectory(t *testing.T) {
	c, err := Load(afero.NewMemMapFs(), ".claude")
	require.NoError(t, err)
	assert.Empty(t, c.Agents)
	assert.Empty(t, c.Skills)
}

func TestParseFrontMatter(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "basic", input: "---\nname: a\n---\nbody", want: "a"},
		{name: "crlf", input: "---\r\nname: b\r\n---\r\n", want: "b"},
		{name: "bom", input: "\ufeff---\nname: c\n---\n", want: "c"},
		{name: "empty block", input: "---\n---\n", want: ""},
		{name: "missing", input: "# title", wantErr: true},
		{name: "unterminated", input: "---\nname: d\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, err := ParseFrontMatter([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, fm.Name)
		})
	}
}
