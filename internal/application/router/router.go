package router

import (
	"context"
	"strings"
	"unicode"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// Router classifies a request. It never creates or mutates runs.
type Router struct {
	lookup repository.RunLookup
}

// New creates a router that checks run names against lookup
func New(lookup repository.RunLookup) *Router {
	return &Router{lookup: lookup}
}

// Route resolves input to a decision.
// Literal verbs win over an explicit workflow type, which wins over keywords.
func (r *Router) Route(ctx context.Context, input string) (Decision, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return reject(run.ErrUnknownWorkflow.WithMessage("empty request"))
	}

	verb := strings.ToLower(fields[0])
	switch verb {
	case "resume", "status", "abort":
		if len(fields) < 2 {
			return reject(run.ErrRunNotFound.WithMessage("%s requires a run name", verb))
		}
		name := strings.Join(fields[1:], " ")
		if err := r.mustExist(ctx, name); err != nil {
			return reject(err)
		}
		switch verb {
		case "resume":
			return ResumeWorkflow{Name: name}, nil
		case "status":
			return ShowStatus{Name: name}, nil
		default:
			return AbortWorkflow{Name: name}, nil
		}
	case "decide":
		if len(fields) < 3 {
			return reject(run.ErrInvalidDecision.WithMessage("usage: decide <name> <option> [note]"))
		}
		if err := r.mustExist(ctx, fields[1]); err != nil {
			return reject(err)
		}
		return DecideCheckpoint{
			Name:   fields[1],
			Option: strings.ToLower(fields[2]),
			Note:   strings.Join(fields[3:], " "),
		}, nil
	}

	if t, ok := workflow.ParseType(fields[0]); ok {
		if len(fields) < 2 {
			return reject(run.ErrUnknownWorkflow.WithMessage("%s requires a run name", t))
		}
		return StartWorkflow{Type: t, Name: specpath.Slugify(fields[1]), Prompt: strings.Join(fields[2:], " ")}, nil
	}

	if t, ok := Classify(input); ok {
		return StartWorkflow{Type: t, Name: specpath.Slugify(input), Prompt: strings.TrimSpace(input)}, nil
	}
	return reject(run.ErrUnknownWorkflow.WithMessage("no workflow matches %q", input))
}

// Classify matches free text against the keyword table
func Classify(input string) (workflow.Type, bool) {
	norm := normalize(input)
	for _, rl := range rules {
		for _, kw := range rl.Keywords {
			if strings.Contains(norm, " "+kw+" ") {
				return rl.Type, true
			}
		}
	}
	return "", false
}

func (r *Router) mustExist(ctx context.Context, name string) error {
	ok, err := r.lookup.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return run.ErrRunNotFound.WithMessage("no run named %q", name).WithDetail("name", name)
	}
	return nil
}

// normalize lowercases and pads word boundaries with single spaces
func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

func reject(err error) (Decision, error) {
	return Reject{Reason: err.Error()}, err
}
