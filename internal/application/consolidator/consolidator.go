package consolidator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deerun/internal/application/dispatcher"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
)

// Request describes one phase to consolidate
type Request struct {
	Run       *run.WorkflowRun
	Phase     string
	Results   []dispatcher.WorkerResult
	Order     workflow.SectionOrder
	Category  repository.Category
	Kind      string
	Timestamp time.Time
}

// Header is the YAML front matter of a merged artifact
type Header struct {
	Run      string   `yaml:"run"`
	Workflow string   `yaml:"workflow"`
	Phase    string   `yaml:"phase"`
	Sections []string `yaml:"sections"`
	Sources  []string `yaml:"sources"`
}

// Consolidator merges the artifacts of a phase's workers into one
type Consolidator struct {
	store repository.ArtifactStore
}

// New creates a consolidator on top of an artifact store
func New(store repository.ArtifactStore) *Consolidator {
	return &Consolidator{store: store}
}

// Consolidate produces the output artifact of a phase.
// Sections are emitted strictly in req.Order, so any permutation of req.Results
// yields the same bytes. With an empty order the single unsectioned result is adopted as is.
func (c *Consolidator) Consolidate(ctx context.Context, req Request) (*repository.Artifact, error) {
	if req.Run == nil {
		return nil, fmt.Errorf("consolidate: run is required")
	}

	if len(req.Order) == 0 {
		return c.adopt(req)
	}

	bySection := make(map[string]dispatcher.WorkerResult, len(req.Results))
	for _, res := range req.Results {
		if res.Err != nil {
			continue
		}
		if !req.Order.Contains(res.Section) {
			return nil, run.ErrUnexpectedSection.
				WithMessage("phase %s: section %q is not in the section order", req.Phase, res.Section).
				WithDetail("section", res.Section)
		}
		if _, dup := bySection[res.Section]; dup {
			return nil, run.ErrUnexpectedSection.
				WithMessage("phase %s: section %q produced more than once", req.Phase, res.Section).
				WithDetail("section", res.Section)
		}
		bySection[res.Section] = res
	}
	for _, section := range req.Order {
		if _, ok := bySection[section]; !ok {
			return nil, run.ErrMissingSection.
				WithMessage("phase %s: section %q has no result", req.Phase, section).
				WithDetail("section", section)
		}
	}

	header := Header{
		Run:      req.Run.ID,
		Workflow: req.Run.WorkflowType,
		Phase:    req.Phase,
		Sections: append([]string(nil), req.Order...),
	}
	var body bytes.Buffer
	for _, section := range req.Order {
		res := bySection[section]
		content, err := c.store.Read(ctx, res.Locator)
		if err != nil {
			return nil, run.ErrMissingSection.
				WithMessage("phase %s: cannot read section %q", req.Phase, section).
				WithDetail("locator", res.Locator).
				Wrap(err)
		}
		header.Sources = append(header.Sources, res.Locator)
		fmt.Fprintf(&body, "\n## %s\n\n%s\n", section, strings.TrimSpace(string(content)))
	}

	doc, err := render(header, req, body.Bytes())
	if err != nil {
		return nil, err
	}

	return c.write(ctx, req, doc)
}

func (c *Consolidator) adopt(req Request) (*repository.Artifact, error) {
	var adopted *dispatcher.WorkerResult
	for i := range req.Results {
		res := req.Results[i]
		if res.Err != nil {
			continue
		}
		if res.Section != "" {
			return nil, run.ErrUnexpectedSection.
				WithMessage("phase %s has no sections but a result names %q", req.Phase, res.Section).
				WithDetail("section", res.Section)
		}
		if adopted != nil {
			return nil, run.ErrUnexpectedSection.
				WithMessage("phase %s has no sections but produced %d results", req.Phase, len(req.Results))
		}
		adopted = &res
	}
	if adopted == nil {
		return nil, run.ErrMissingSection.WithMessage("phase %s produced no result", req.Phase)
	}
	category := req.Category
	if category == "" {
		category = repository.CategoryReports
	}
	return &repository.Artifact{Locator: adopted.Locator, Category: category, CreatedAt: req.Timestamp}, nil
}

// Marker writes the output of a phase that has no workers.
// The artifact carries only the header and a line naming the phase.
func (c *Consolidator) Marker(ctx context.Context, req Request) (*repository.Artifact, error) {
	if req.Run == nil {
		return nil, fmt.Errorf("consolidate: run is required")
	}
	header := Header{
		Run:      req.Run.ID,
		Workflow: req.Run.WorkflowType,
		Phase:    req.Phase,
		Sections: []string{},
		Sources:  []string{},
	}
	body := fmt.Sprintf("\nPhase %s has no workers; its outcome is the checkpoint decision.\n", req.Phase)
	doc, err := render(header, req, []byte(body))
	if err != nil {
		return nil, err
	}
	return c.write(ctx, req, doc)
}

func (c *Consolidator) write(ctx context.Context, req Request, doc []byte) (*repository.Artifact, error) {
	category := req.Category
	if category == "" {
		category = repository.CategoryReports
	}
	kind := req.Kind
	if kind == "" {
		kind = req.Phase
	}
	return c.store.Write(ctx, repository.WriteRequest{
		Category:  category,
		Slug:      req.Run.Slug,
		Kind:      kind,
		Content:   doc,
		Timestamp: req.Timestamp,
	})
}

func render(header Header, req Request, body []byte) ([]byte, error) {
	meta, err := yaml.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("consolidate: marshal header: %w", err)
	}
	var doc bytes.Buffer
	doc.WriteString("---\n")
	doc.Write(meta)
	doc.WriteString("---\n\n")
	fmt.Fprintf(&doc, "# %s: %s\n", req.Phase, req.Run.Name)
	doc.Write(body)
	return doc.Bytes(), nil
}
