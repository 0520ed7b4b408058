package router

import "github.com/YoshitsuguKoike/deerun/internal/domain/workflow"

type rule struct {
	Type     workflow.Type
	Keywords []string
}

// rules is matched top to bottom; urgency outranks novelty
var rules = []rule{
	{workflow.TypeHotfix, []string{"urgent", "p0", "hotfix", "prod down", "production down", "critical", "outage"}},
	{workflow.TypeBugfix, []string{"fix", "bug", "broken", "error", "crash", "regression", "failing"}},
	{workflow.TypeReview, []string{"review", "audit"}},
	{workflow.TypeRefactor, []string{"refactor", "cleanup", "clean up", "restructure", "simplify"}},
	{workflow.TypeDocs, []string{"docs", "document", "documentation", "readme"}},
	{workflow.TypeResearch, []string{"research", "investigate", "explore", "compare", "evaluate"}},
	{workflow.TypeFeature, []string{"add", "implement", "build", "feature", "new", "create", "support"}},
}
