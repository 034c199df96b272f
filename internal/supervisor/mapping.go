package supervisor

import "strings"

// The task-description heuristics below are ordered keyword-substring
// checks; the first match wins and the order is load-bearing (a
// description like "Plan analysis approach" must route to planning, not
// analysis).

// InferTaskType maps a task description to a semantic task type.
func InferTaskType(description string) string {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "analy"):
		return TaskTimeSeriesAnalysis
	case strings.Contains(desc, "compliance"),
		strings.Contains(desc, "risk"),
		strings.Contains(desc, "regulat"):
		return TaskClassification
	case strings.Contains(desc, "sentiment"):
		return TaskSentimentAnalysis
	case strings.Contains(desc, "extract"), strings.Contains(desc, "entity"):
		return TaskEntityExtraction
	default:
		return TaskTextGeneration
	}
}

// InferAgentRole maps a task description to the role that should own it.
func InferAgentRole(description string) Role {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "plan"),
		strings.Contains(desc, "objective"),
		strings.Contains(desc, "scope"):
		return RolePlanning
	case strings.Contains(desc, "research"),
		strings.Contains(desc, "gather"),
		strings.Contains(desc, "data"):
		return RoleResearch
	case strings.Contains(desc, "analy"):
		return RoleAnalysis
	case strings.Contains(desc, "compliance"),
		strings.Contains(desc, "regulat"),
		strings.Contains(desc, "risk"):
		return RoleCompliance
	case strings.Contains(desc, "synthes"),
		strings.Contains(desc, "present"),
		strings.Contains(desc, "report"):
		return RoleSynthesis
	default:
		return RoleSupervisor
	}
}

// InferDomain maps a task description to a domain.
func InferDomain(description string) string {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "regulat"), strings.Contains(desc, "compliance"):
		return DomainRegulatory
	case strings.Contains(desc, "market"):
		return DomainMarket
	case strings.Contains(desc, "portfolio"),
		strings.Contains(desc, "fundamental"),
		strings.Contains(desc, "financial"),
		strings.Contains(desc, "risk"):
		return DomainFinancial
	default:
		return DomainGeneral
	}
}
