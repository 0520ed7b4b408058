package workflow

import "github.com/YoshitsuguKoike/deerun/internal/domain/run"

// Worker kinds used by the built-in workflows
const (
	KindScout       = "scout"
	KindResearcher  = "researcher"
	KindPlanner     = "planner"
	KindDebugger    = "debugger"
	KindImplementer = "implementer"
	KindTester      = "tester"
	KindReviewer    = "reviewer"
	KindCommitter   = "committer"
	KindWriter      = "writer"
	KindReporter    = "reporter"
)

// Checkpoint option values
const (
	OptionApprove   = "approve"
	OptionRevise    = "revise"
	OptionAbort     = "abort"
	OptionRetry     = "retry"
	OptionRunTests  = "run-tests"
	OptionSkipTests = "skip-tests"
)

var (
	optApprove   = run.Option{Value: OptionApprove, Label: "Approve and continue", Effect: run.EffectContinue}
	optRevise    = run.Option{Value: OptionRevise, Label: "Revise this phase", Effect: run.EffectRetry}
	optAbort     = run.Option{Value: OptionAbort, Label: "Abort the run", Effect: run.EffectAbort}
	optRunTests  = run.Option{Value: OptionRunTests, Label: "Run the test phase", Effect: run.EffectContinue}
	optSkipTests = run.Option{Value: OptionSkipTests, Label: "Skip the test phase", Effect: run.EffectContinue}
)

func approval(name, prompt string) *CheckpointDef {
	return &CheckpointDef{
		Name:    name,
		Prompt:  prompt,
		Options: []run.Option{optApprove, optRevise, optAbort},
	}
}

func single(name, kind, prompt string) PhaseDef {
	return PhaseDef{
		Name:           name,
		Workers:        []WorkerDef{{Kind: kind, Prompt: prompt}},
		OutputCategory: CategoryReports,
	}
}

func fanOut(name, kind, prompt string, sections ...string) PhaseDef {
	workers := make([]WorkerDef, len(sections))
	for i, s := range sections {
		workers[i] = WorkerDef{Kind: kind, Prompt: prompt, Section: s}
	}
	return PhaseDef{
		Name:           name,
		Workers:        workers,
		Sections:       append(SectionOrder(nil), sections...),
		OutputCategory: CategoryReports,
	}
}

func planPhase(name, kind, prompt string, cp *CheckpointDef) PhaseDef {
	p := single(name, kind, prompt)
	p.OutputCategory = CategoryPlans
	p.Checkpoint = cp
	return p
}

func withCheckpoint(p PhaseDef, cp *CheckpointDef) PhaseDef {
	p.Checkpoint = cp
	return p
}

func optional(p PhaseDef, skip SkipPredicate) PhaseDef {
	p.Optional = true
	p.Skip = skip
	return p
}

const (
	promptScout     = "Survey the code relevant to {{name}}: {{prompt}}"
	promptResearch  = "Research {{section}} context for {{name}}: {{prompt}}"
	promptPlan      = "Write an implementation plan for {{name}}: {{prompt}}"
	promptDebug     = "Find the root cause of {{name}}: {{prompt}}"
	promptImplement = "Implement the approved plan for {{name}}"
	promptFix       = "Fix {{name}}: {{prompt}}"
	promptTest      = "Run and extend the tests covering {{name}}"
	promptReview    = "Review the changes made for {{name}}"
	promptReviewOf  = "Review {{name}} for {{section}} issues: {{prompt}}"
	promptCommit    = "Commit the changes for {{name}} with a descriptive message"
	promptReport    = "Summarize the findings for {{name}}"
	promptWrite     = "Write the documentation for {{name}}: {{prompt}}"
)

func builtin() map[Type][]PhaseDef {
	testsGate := &CheckpointDef{
		Name:    "implement-review",
		Prompt:  "Implementation finished. Run the test phase?",
		Options: []run.Option{optRunTests, optSkipTests, optAbort},
	}
	return map[Type][]PhaseDef{
		TypeFeature: {
			fanOut("research", KindResearcher, promptResearch, "codebase", "external"),
			planPhase("plan", KindPlanner, promptPlan, approval("plan-approval", "Approve the plan?")),
			withCheckpoint(single("implement", KindImplementer, promptImplement), testsGate),
			optional(single("test", KindTester, promptTest), SkipWhen(OptionSkipTests)),
			single("review", KindReviewer, promptReview),
			single("commit", KindCommitter, promptCommit),
		},
		TypeBugfix: {
			single("scout", KindScout, promptScout),
			withCheckpoint(single("debug", KindDebugger, promptDebug), approval("root-cause", "Is the root cause correct?")),
			single("fix", KindImplementer, promptFix),
			single("test", KindTester, promptTest),
			single("review", KindReviewer, promptReview),
			single("commit", KindCommitter, promptCommit),
		},
		TypeHotfix: {
			single("scout", KindScout, promptScout),
			withCheckpoint(single("fix", KindImplementer, promptFix), &CheckpointDef{
				Name:    "hotfix-approval",
				Prompt:  "Fix applied. Run the test phase?",
				Options: []run.Option{optRunTests, optSkipTests, optAbort},
			}),
			optional(single("test", KindTester, promptTest), SkipWhen(OptionSkipTests)),
			single("commit", KindCommitter, promptCommit),
		},
		TypeRefactor: {
			single("scout", KindScout, promptScout),
			planPhase("plan", KindPlanner, promptPlan, approval("plan-approval", "Approve the refactoring plan?")),
			single("implement", KindImplementer, promptImplement),
			single("test", KindTester, promptTest),
			single("review", KindReviewer, promptReview),
			single("commit", KindCommitter, promptCommit),
		},
		TypeResearch: {
			fanOut("research", KindResearcher, promptResearch, "codebase", "external", "prior-art"),
			single("report", KindReporter, promptReport),
		},
		TypeReview: {
			single("scout", KindScout, promptScout),
			fanOut("review", KindReviewer, promptReviewOf, "security", "performance", "quality"),
			single("report", KindReporter, promptReport),
		},
		TypeDocs: {
			single("scout", KindScout, promptScout),
			withCheckpoint(single("write", KindWriter, promptWrite), approval("draft-approval", "Approve the draft?")),
			single("review", KindReviewer, promptReview),
		},
	}
}
