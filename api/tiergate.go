package api

import "signal-scout/database"

// Consumer tiers for the brief read surface.
const (
	TierFree = "free"
	TierPro  = "pro"
)

const freeTierEvidenceLimit = 2

// GateBrief applies the tier gate to one brief and returns the
// projection to serve. Pro consumers get the brief unchanged. Free
// consumers get the free fields plus evidence truncated to a teaser;
// the remaining pro fields are zeroed. The stored brief is never
// mutated.
func GateBrief(brief database.OpportunityBrief, tier string) database.OpportunityBrief {
	if tier == TierPro {
		return brief
	}

	gated := database.OpportunityBrief{
		ID:       brief.ID,
		SignalID: brief.SignalID,

		Title:        brief.Title,
		Category:     brief.Category,
		Entities:     brief.Entities,
		Strength:     brief.Strength,
		Direction:    brief.Direction,
		MentionCount: brief.MentionCount,
		Thesis:       brief.Thesis,

		Status:         brief.Status,
		FreshnessScore: brief.FreshnessScore,
		CreatedAt:      brief.CreatedAt,
		UpdatedAt:      brief.UpdatedAt,
	}
	if len(brief.Evidence) > 0 {
		teaser := brief.Evidence
		if len(teaser) > freeTierEvidenceLimit {
			teaser = teaser[:freeTierEvidenceLimit]
		}
		gated.Evidence = append(database.StringList{}, teaser...)
	}
	return gated
}

// GateBriefs gates a page of briefs.
func GateBriefs(briefs []database.OpportunityBrief, tier string) []database.OpportunityBrief {
	if tier == TierPro {
		return briefs
	}
	gated := make([]database.OpportunityBrief, len(briefs))
	for i := range briefs {
		gated[i] = GateBrief(briefs[i], tier)
	}
	return gated
}

// normalizeTier maps the query parameter onto a known tier, defaulting
// to free.
func normalizeTier(tier string) string {
	if tier == TierPro {
		return TierPro
	}
	return TierFree
}
