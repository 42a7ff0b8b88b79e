package demo

// CatalogEntry binds one responder action to its conversation
// category. The gateway call for each kind lives in the engine's
// exhaustive dispatch; the catalog itself is pure data.
type CatalogEntry struct {
	Kind     ActionKind
	Weight   int
	Category Category
}

// Catalog is the weighted table of responder actions.
type Catalog []CatalogEntry

// DefaultCatalog mirrors the activity mix of a plausible response
// team: mostly notes and status updates, occasional escalations and
// priority churn.
func DefaultCatalog() Catalog {
	return Catalog{
		{Kind: ActionAddNote, Weight: 30, Category: CategoryFoundIssue},
		{Kind: ActionStatusUpdate, Weight: 15, Category: CategoryWorkingFix},
		{Kind: ActionRunAutomation, Weight: 10, Category: CategoryInvestigating},
		{Kind: ActionTriggerFlow, Weight: 5, Category: CategoryInvestigating},
		{Kind: ActionChangePriority, Weight: 8, Category: CategoryInvestigating},
		{Kind: ActionChangeUrgency, Weight: 4, Category: CategoryInvestigating},
		{Kind: ActionAddResponder, Weight: 5, Category: CategoryInvestigating},
		{Kind: ActionEscalate, Weight: 4, Category: CategoryInvestigating},
		{Kind: ActionSnooze, Weight: 2, Category: CategoryInvestigating},
		{Kind: ActionReassign, Weight: 4, Category: CategoryInvestigating},
		{Kind: ActionAddTask, Weight: 8, Category: CategoryInvestigating},
	}
}

// Pick selects an entry by weight. An empty catalog yields the
// zero entry; callers treat ActionKind("") as add_note.
func (c Catalog) Pick(r Rand) CatalogEntry {
	if len(c) == 0 {
		return CatalogEntry{Kind: ActionAddNote, Category: CategoryFoundIssue}
	}
	weights := make([]int, len(c))
	for i, e := range c {
		weights[i] = e.Weight
	}
	return c[weightedIndex(r, weights)]
}
