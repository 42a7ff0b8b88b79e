package demo

// Category groups canned responder chatter by the phase of the
// investigation it narrates. Content lives here, away from the state
// machine, so engine tests never depend on message text.
type Category string

const (
	CategoryInvestigating Category = "investigating"
	CategoryFoundIssue    Category = "found_issue"
	CategoryWorkingFix    Category = "working_fix"
	CategoryResolved      Category = "resolved"
)

// Library maps a category to its candidate messages.
type Library map[Category][]string

// DefaultLibrary is the built-in conversation content.
func DefaultLibrary() Library {
	return Library{
		CategoryInvestigating: {
			"Looking into this now, checking the logs...",
			"I'm on it. Pulling up the monitoring dashboards.",
			"Investigating the root cause, one moment.",
			"Checking the recent deployments to see if anything changed.",
		},
		CategoryFoundIssue: {
			"Found something - there's a spike in the error logs around the time this started.",
			"I think I see the issue. The connection pool is exhausted.",
			"Looks like a memory leak is causing the degradation.",
			"Found it - there's a deadlock in the database queries.",
		},
		CategoryWorkingFix: {
			"Working on a fix now, should have something shortly.",
			"Deploying a hotfix to address this.",
			"Running the remediation playbook.",
			"Scaling up the instances to handle the load.",
		},
		CategoryResolved: {
			"Fix deployed, monitoring for stability. Looks good so far.",
			"Issue resolved. Root cause was identified and addressed.",
			"All systems back to normal. Will follow up with a post-incident review.",
			"Resolved! The automated remediation worked. Incident closed.",
		},
	}
}

// Message picks one message from the category, falling back to the
// investigating pool for unknown categories.
func (l Library) Message(r Rand, cat Category) string {
	msgs := l[cat]
	if len(msgs) == 0 {
		msgs = l[CategoryInvestigating]
	}
	if len(msgs) == 0 {
		return ""
	}
	return msgs[r.Intn(len(msgs))]
}
