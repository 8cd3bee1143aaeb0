package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"signal-scout/database"
)

// System instructions for the two generative steps. Extraction pulls
// structured entities out of raw community chatter; synthesis turns a
// qualified signal's evidence package into an opportunity brief.
const (
	extractionSystemMessage = "You are a precise technical-signal analyst. You read raw developer and community chatter and extract structured entities and friction points. You must respond with valid JSON matching the requested schema exactly. Never invent entities that are not present in the input. Never add commentary outside the JSON."

	synthesisSystemMessage = "You are a product strategist who turns community signal evidence into concise, actionable opportunity briefs for builders. Ground every claim in the supplied evidence. Respond with valid JSON matching the requested schema exactly, with no commentary outside the JSON."
)

// ExtractionResult is the schema contract for one extraction batch.
type ExtractionResult struct {
	Entities       []database.EntityMention `json:"entities"`
	FrictionPoints []database.FrictionPoint `json:"friction_points"`
	NotableItems   []database.NotableItem   `json:"notable_items"`
}

// BriefFields is the schema contract for the synthesis step. The
// strategist combines these with the generated id, timestamps, and the
// triggering signal reference.
type BriefFields struct {
	Title                string   `json:"title"`
	Category             string   `json:"category"`
	Thesis               string   `json:"thesis"`
	FrictionDetail       string   `json:"friction_detail"`
	GapAnalysis          string   `json:"gap_analysis"`
	TimingSignal         string   `json:"timing_signal"`
	RiskFactors          []string `json:"risk_factors"`
	CompetitiveLandscape string   `json:"competitive_landscape"`
	OpportunityType      string   `json:"opportunity_type"`
	BlueprintTargetUser  string   `json:"blueprint_target_user"`
	BlueprintWedge       string   `json:"blueprint_wedge"`
	BlueprintMoat        string   `json:"blueprint_moat"`
	BlueprintMilestone   string   `json:"blueprint_milestone"`
}

// FormatExtractionPrompt builds the extraction prompt for one batch of
// signal items, including the strict output schema.
func FormatExtractionPrompt(items []database.SignalItem) string {
	var sb strings.Builder
	sb.Grow(1024 + len(items)*200)

	sb.WriteString("Extract structured intelligence from the following community signal items.\n\n")

	for i, item := range items {
		sb.WriteString(fmt.Sprintf("%d. [id=%s] [platform=%s] [author=%s] [engagement=%d]\n",
			i+1, item.ID, item.Platform, item.Author(), item.Engagement()))
		sb.WriteString(fmt.Sprintf("   %s\n\n", strings.ReplaceAll(item.Content, "\n", " ")))
	}

	sb.WriteString("Respond with JSON only, using this exact schema:\n")
	sb.WriteString(`{
  "entities": [
    {
      "name": "tool/library/platform name",
      "category": "devtool|framework|platform|service|language|other",
      "sentiment": 0.0,
      "mention_context": "complaint|praise|question|comparison|migration|announcement",
      "friction_signal": false,
      "mention_count": 1
    }
  ],
  "friction_points": [
    {
      "entity": "entity name",
      "signal": "one-sentence description of the pain point",
      "source_ids": ["item ids where this appears"],
      "severity": 0.0
    }
  ],
  "notable_items": [
    {
      "item_id": "item id",
      "relevance": 0.0,
      "insight": "what makes this item notable"
    }
  ]
}`)
	sb.WriteString("\n\nRules: sentiment, severity, and relevance are 0.0-1.0. ")
	sb.WriteString("Only include technical entities (tools, libraries, platforms, services). ")
	sb.WriteString("Set friction_signal true only when the mention describes a real pain point.")

	return sb.String()
}

// FormatSynthesisPrompt builds the synthesis prompt from the evidence
// package the strategist assembled.
func FormatSynthesisPrompt(evidencePackage string) string {
	var sb strings.Builder
	sb.Grow(2048 + len(evidencePackage))

	sb.WriteString("A statistically significant signal was detected in developer community chatter. ")
	sb.WriteString("Synthesize an opportunity brief from the evidence package below.\n\n")
	sb.WriteString(evidencePackage)
	sb.WriteString("\n\nRespond with JSON only, using this exact schema:\n")
	sb.WriteString(`{
  "title": "short, specific opportunity title",
  "category": "devtool|framework|platform|service|language|other",
  "thesis": "2-3 sentence core thesis of the opportunity",
  "friction_detail": "what exactly is painful today, grounded in the evidence",
  "gap_analysis": "what is missing in the current landscape",
  "timing_signal": "why now - what changed",
  "risk_factors": ["2-4 concrete risks"],
  "competitive_landscape": "who plays in this space and where they fall short",
  "opportunity_type": "new_product|feature|integration|content|service",
  "blueprint_target_user": "who to build for first",
  "blueprint_wedge": "the narrow entry point to win",
  "blueprint_moat": "what compounds into defensibility",
  "blueprint_milestone": "the first shippable milestone"
}`)

	return sb.String()
}

// ExtractionSystem returns the extraction system instruction
func ExtractionSystem() string { return extractionSystemMessage }

// SynthesisSystem returns the synthesis system instruction
func SynthesisSystem() string { return synthesisSystemMessage }

// ParseExtraction decodes an extraction response, tolerating fenced or
// prefixed JSON.
func ParseExtraction(content string) (*ExtractionResult, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var result ExtractionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("extraction response did not match schema: %w", err)
	}
	return &result, nil
}

// ParseBriefFields decodes a synthesis response, tolerating fenced or
// prefixed JSON.
func ParseBriefFields(content string) (*BriefFields, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var fields BriefFields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("synthesis response did not match schema: %w", err)
	}
	if fields.Title == "" || fields.Thesis == "" {
		return nil, fmt.Errorf("synthesis response missing required fields")
	}
	return &fields, nil
}

// extractJSON pulls the first JSON object out of a model response.
// Models occasionally wrap output in markdown fences or add a preamble
// despite instructions.
func extractJSON(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object in model response")
	}
	return content[start : end+1], nil
}
