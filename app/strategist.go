package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"signal-scout/database"
	"signal-scout/llm"
)

// BriefStore is the persistence surface the strategist needs.
type BriefStore interface {
	SaveBrief(brief *database.OpportunityBrief) error
}

// SynthesisModel is the LLM surface the strategist calls. Satisfied by
// *llm.Client.
type SynthesisModel interface {
	Generate(ctx context.Context, system, prompt string) (string, llm.Usage, error)
}

// Strategist turns one qualifying signal into an opportunity brief: it
// assembles an evidence package from the signal, baselines, friction
// points, and source items, asks the model for the brief fields, and
// persists the result as a fresh brief.
type Strategist struct {
	model SynthesisModel
	store BriefStore
	now   func() time.Time
}

func NewStrategist(model SynthesisModel, store BriefStore) *Strategist {
	return &Strategist{model: model, store: store, now: time.Now}
}

// Synthesize produces and persists the brief for one signal. The model
// call is never retried; a failed signal is simply skipped this run and
// becomes eligible again on the next.
func (s *Strategist) Synthesize(ctx context.Context, signal *database.Signal, baselines map[string]*database.EntityBaseline, outputs []database.ScrubberOutput, items map[string]database.SignalItem, stats map[string]*EntityToday) (*database.OpportunityBrief, llm.Usage, error) {
	if s.model == nil {
		return nil, llm.Usage{}, fmt.Errorf("synthesis model not configured")
	}

	evidencePackage := s.buildEvidencePackage(signal, baselines, outputs, items)

	content, usage, err := s.model.Generate(ctx, llm.SynthesisSystem(), llm.FormatSynthesisPrompt(evidencePackage))
	if err != nil {
		return nil, usage, fmt.Errorf("synthesis call for signal %s: %w", signal.ID, err)
	}
	fields, err := llm.ParseBriefFields(content)
	if err != nil {
		return nil, usage, fmt.Errorf("synthesis response for signal %s: %w", signal.ID, err)
	}

	brief := s.buildBrief(signal, fields, outputs, items, stats)
	if err := s.store.SaveBrief(brief); err != nil {
		return nil, usage, fmt.Errorf("save brief for signal %s: %w", signal.ID, err)
	}
	log.Printf("💡 Brief created: %q (signal %s, strength %.2f)", brief.Title, signal.ID, signal.Strength)
	return brief, usage, nil
}

// buildEvidencePackage renders everything the model needs as plain text:
// signal metadata, per-entity baseline summaries (or a cold-start note),
// friction descriptions, and source evidence snippets.
func (s *Strategist) buildEvidencePackage(signal *database.Signal, baselines map[string]*database.EntityBaseline, outputs []database.ScrubberOutput, items map[string]database.SignalItem) string {
	var sb strings.Builder

	sb.WriteString("SIGNAL\n")
	fmt.Fprintf(&sb, "- type: %s\n", signal.Type)
	fmt.Fprintf(&sb, "- entities: %s\n", strings.Join(signal.Entities, ", "))
	fmt.Fprintf(&sb, "- strength: %.2f\n", signal.Strength)
	fmt.Fprintf(&sb, "- direction: %s\n", signal.Direction)
	fmt.Fprintf(&sb, "- mention velocity: %.2f\n", signal.MentionVelocity)
	fmt.Fprintf(&sb, "- sentiment delta: %.2f\n", signal.SentimentDelta)
	fmt.Fprintf(&sb, "- friction spike: %.2f\n", signal.FrictionSpike)
	if signal.FrictionTheme != nil {
		fmt.Fprintf(&sb, "- friction theme: %s\n", *signal.FrictionTheme)
	}
	fmt.Fprintf(&sb, "- evidence items: %d\n", len(signal.EvidenceIDs))
	fmt.Fprintf(&sb, "- window: %dh\n", signal.WindowHours)

	sb.WriteString("\nBASELINES\n")
	for _, name := range signal.Entities {
		baseline := baselines[EntityKey(name)]
		if baseline == nil || len(baseline.Snapshots) == 0 {
			fmt.Fprintf(&sb, "- %s: cold start, no established baseline yet\n", name)
			continue
		}
		fmt.Fprintf(&sb, "- %s: %.1f mentions/day, sentiment %.2f, friction rate %.2f over %d days\n",
			name, baseline.AvgMentions, baseline.AvgSentiment, baseline.AvgFriction, len(baseline.Snapshots))
	}

	frictions := s.frictionsFor(signal, outputs)
	if len(frictions) > 0 {
		sb.WriteString("\nFRICTION POINTS\n")
		for _, fp := range frictions {
			fmt.Fprintf(&sb, "- [%s, severity %.2f] %s\n", fp.Entity, fp.Severity, fp.Signal)
		}
	}

	snippets := s.evidenceSnippets(signal, outputs, items)
	if len(snippets) > 0 {
		sb.WriteString("\nEVIDENCE\n")
		for _, snippet := range snippets {
			sb.WriteString("- " + snippet + "\n")
		}
	}

	return sb.String()
}

func (s *Strategist) frictionsFor(signal *database.Signal, outputs []database.ScrubberOutput) []database.FrictionPoint {
	var frictions []database.FrictionPoint
	for i := range outputs {
		for _, fp := range outputs[i].FrictionPoints {
			for _, name := range signal.Entities {
				if strings.EqualFold(fp.Entity, name) {
					frictions = append(frictions, fp)
					break
				}
			}
		}
	}
	return frictions
}

const maxEvidenceSnippets = 8

// evidenceSnippets resolves the signal's evidence ids back to source
// items, quoting author and content. Ids whose items are no longer
// resolvable fall back to the notable-item insight when one exists.
func (s *Strategist) evidenceSnippets(signal *database.Signal, outputs []database.ScrubberOutput, items map[string]database.SignalItem) []string {
	insights := make(map[string]string)
	for i := range outputs {
		for _, ni := range outputs[i].NotableItems {
			insights[ni.ItemID] = ni.Insight
		}
	}

	var snippets []string
	for _, id := range signal.EvidenceIDs {
		if len(snippets) >= maxEvidenceSnippets {
			break
		}
		if item, ok := items[id]; ok {
			snippets = append(snippets, fmt.Sprintf("%s (%s): %s", item.Author(), item.Platform, truncate(item.Content, 280)))
			continue
		}
		if insight := insights[id]; insight != "" {
			snippets = append(snippets, "analyst note: "+truncate(insight, 280))
		}
	}
	return snippets
}

func (s *Strategist) buildBrief(signal *database.Signal, fields *llm.BriefFields, outputs []database.ScrubberOutput, items map[string]database.SignalItem, stats map[string]*EntityToday) *database.OpportunityBrief {
	mentions := 0
	for _, name := range signal.Entities {
		if st := stats[EntityKey(name)]; st != nil {
			mentions += st.Mentions
		}
	}

	now := s.now().UTC()
	return &database.OpportunityBrief{
		ID:       uuid.New().String(),
		SignalID: signal.ID,

		Title:        fields.Title,
		Category:     fields.Category,
		Entities:     signal.Entities,
		Strength:     signal.Strength,
		Direction:    signal.Direction,
		MentionCount: mentions,
		Thesis:       fields.Thesis,

		FrictionDetail:       fields.FrictionDetail,
		GapAnalysis:          fields.GapAnalysis,
		TimingSignal:         fields.TimingSignal,
		RiskFactors:          database.StringList(fields.RiskFactors),
		Evidence:             database.StringList(s.evidenceSnippets(signal, outputs, items)),
		CompetitiveLandscape: fields.CompetitiveLandscape,
		OpportunityType:      fields.OpportunityType,
		BlueprintTargetUser:  fields.BlueprintTargetUser,
		BlueprintWedge:       fields.BlueprintWedge,
		BlueprintMoat:        fields.BlueprintMoat,
		BlueprintMilestone:   fields.BlueprintMilestone,

		Status:         database.BriefStatusFresh,
		FreshnessScore: 1.0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
