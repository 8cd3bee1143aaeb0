package app

import (
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"signal-scout/config"
	"signal-scout/database"
)

// frictionThemes is the fixed vocabulary scanned, in order, when naming
// a pass-two friction cluster from its friction point descriptions.
var frictionThemes = []string{
	"migration", "performance", "complexity", "pricing", "reliability",
	"documentation", "security", "compatibility", "scaling", "debugging",
}

var themeStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "in": true,
	"on": true, "for": true, "with": true, "and": true, "or": true,
	"it": true, "its": true, "this": true, "that": true, "be": true,
	"has": true, "have": true, "not": true, "too": true, "very": true,
	"i": true, "my": true, "we": true, "our": true, "you": true,
	"your": true, "so": true, "but": true, "just": true,
}

const clusterFrictionSeverity = 0.7

// DeltaEngine compares a window's aggregated entity activity against
// rolling baselines and emits anomaly signals. Entities with a mature
// baseline are judged by deviation thresholds; entities without one fall
// back to cold-start rules. Friction-flagged anomalies sharing a context
// or theme are folded into cluster signals instead of individual ones.
type DeltaEngine struct {
	cfg config.PipelineConfig
	now func() time.Time
}

func NewDeltaEngine(cfg config.PipelineConfig) *DeltaEngine {
	return &DeltaEngine{cfg: cfg, now: time.Now}
}

// Detection is the outcome of one delta engine pass.
type Detection struct {
	Signals    []database.Signal // everything detected
	Qualifying []database.Signal // strength at or above the qualifying cutoff
}

// entityEval is one entity's deviation measurement.
type entityEval struct {
	stats     *EntityToday
	signaling bool
	coldStart bool

	velocity       float64 // raw mention count under cold start
	sentimentDelta float64
	frictionSpike  float64

	evidenceIDs []string
	severitySum float64
	severityN   int
}

func (e *entityEval) avgSeverity() float64 {
	if e.severityN == 0 {
		return 0
	}
	return e.severitySum / float64(e.severityN)
}

// detectionStrategy measures one entity against its history. The mature
// and cold-start variants differ in both the measurement and the
// signaling criteria.
type detectionStrategy interface {
	evaluate(s *EntityToday, baseline *database.EntityBaseline) entityEval
}

type matureStrategy struct {
	cfg config.PipelineConfig
}

func (m matureStrategy) evaluate(s *EntityToday, baseline *database.EntityBaseline) entityEval {
	velocity := float64(s.Mentions)
	if baseline.AvgMentions > 0 {
		velocity = float64(s.Mentions) / baseline.AvgMentions
	}
	eval := entityEval{
		stats:          s,
		velocity:       velocity,
		sentimentDelta: s.Sentiment() - baseline.AvgSentiment,
		frictionSpike:  s.FrictionRate() - baseline.AvgFriction,
	}
	eval.signaling = eval.velocity > m.cfg.VelocityThreshold ||
		eval.sentimentDelta < m.cfg.SentimentDropLimit ||
		eval.frictionSpike > m.cfg.FrictionSpikeLimit
	return eval
}

type coldStartStrategy struct {
	cfg config.PipelineConfig
}

func (c coldStartStrategy) evaluate(s *EntityToday, _ *database.EntityBaseline) entityEval {
	eval := entityEval{
		stats:         s,
		coldStart:     true,
		velocity:      float64(s.Mentions),
		frictionSpike: s.FrictionRate(),
	}
	eval.signaling = s.Mentions >= c.cfg.ColdStartMentions || s.FrictionCount >= 1
	return eval
}

func (d *DeltaEngine) strategyFor(baseline *database.EntityBaseline) detectionStrategy {
	if IsMature(baseline) {
		return matureStrategy{cfg: d.cfg}
	}
	return coldStartStrategy{cfg: d.cfg}
}

// Detect runs the full pass: evaluate every active entity, collect
// evidence, cluster friction anomalies, score, classify against prior
// signals, and split out the qualifying set. Entities are processed in
// sorted key order so repeated runs over the same inputs produce the
// same signals in the same order.
func (d *DeltaEngine) Detect(stats map[string]*EntityToday, baselines map[string]*database.EntityBaseline, priorSignals []database.Signal, outputs []database.ScrubberOutput) Detection {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := d.now().UTC()
	evals := make(map[string]*entityEval, len(stats))
	var signaling []string
	for _, key := range keys {
		s := stats[key]
		eval := d.strategyFor(baselines[key]).evaluate(s, baselines[key])
		d.collectEvidence(&eval, outputs)
		evals[key] = &eval
		if eval.signaling {
			signaling = append(signaling, key)
		}
	}

	clusters, clustered := d.cluster(signaling, evals, outputs)
	priorByEntity := latestPriorByEntity(priorSignals)

	var signals []database.Signal
	for _, key := range signaling {
		if clustered[key] {
			continue
		}
		signals = append(signals, d.buildSingle(evals[key], priorByEntity, now))
	}
	for _, c := range clusters {
		signals = append(signals, d.buildCluster(c, evals, priorByEntity, now))
	}

	detection := Detection{Signals: signals}
	for _, sig := range signals {
		if sig.Strength >= d.cfg.QualifyingStrength {
			detection.Qualifying = append(detection.Qualifying, sig)
		}
	}
	log.Printf("📡 Delta engine: %d entities evaluated, %d signaling, %d signals (%d qualifying)",
		len(stats), len(signaling), len(detection.Signals), len(detection.Qualifying))
	return detection
}

// collectEvidence gathers source item ids for an entity: friction points
// naming it plus notable items whose insight mentions it as a whole
// word, deduplicated in encounter order. It also records friction
// severities for scoring.
func (d *DeltaEngine) collectEvidence(eval *entityEval, outputs []database.ScrubberOutput) {
	pattern := wholeWordPattern(eval.stats.Name)
	seen := make(map[string]bool)
	for i := range outputs {
		out := &outputs[i]
		for _, fp := range out.FrictionPoints {
			if !strings.EqualFold(fp.Entity, eval.stats.Name) {
				continue
			}
			eval.severitySum += fp.Severity
			eval.severityN++
			for _, id := range fp.SourceIDs {
				if !seen[id] {
					seen[id] = true
					eval.evidenceIDs = append(eval.evidenceIDs, id)
				}
			}
		}
		for _, ni := range out.NotableItems {
			if pattern != nil && pattern.MatchString(ni.Insight) && !seen[ni.ItemID] {
				seen[ni.ItemID] = true
				eval.evidenceIDs = append(eval.evidenceIDs, ni.ItemID)
			}
		}
	}
}

// wholeWordPattern matches the name bounded by non-word characters or
// the string edges. Explicit bounds instead of \b because names like
// "C++" or "Node.js" end in non-word characters, where \b flips
// meaning and stops matching.
func wholeWordPattern(name string) *regexp.Regexp {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|\W)` + regexp.QuoteMeta(name) + `(?:\W|$)`)
}

// frictionCluster is a group of anomalous friction-flagged entities
// sharing a context (pass one) or a derived theme (pass two).
type frictionCluster struct {
	theme   string
	members []string // sorted entity keys
}

// cluster groups signaling friction-flagged entities. Pass one groups by
// the mention context the scrubber recorded; pass two derives a theme
// from friction descriptions for entities left over. Entities consumed
// by pass one never re-cluster in pass two. A group needs at least two
// entities to become a cluster.
func (d *DeltaEngine) cluster(signaling []string, evals map[string]*entityEval, outputs []database.ScrubberOutput) ([]frictionCluster, map[string]bool) {
	var candidates []string
	for _, key := range signaling {
		if evals[key].stats.FrictionCount > 0 {
			candidates = append(candidates, key)
		}
	}

	clustered := make(map[string]bool)
	var clusters []frictionCluster

	byContext := make(map[string][]string)
	for _, key := range candidates {
		ctx := strings.ToLower(strings.TrimSpace(evals[key].stats.Context))
		if ctx != "" {
			byContext[ctx] = append(byContext[ctx], key)
		}
	}
	for _, ctx := range sortedKeys(byContext) {
		members := byContext[ctx]
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, frictionCluster{theme: ctx, members: members})
		for _, key := range members {
			clustered[key] = true
		}
	}

	byTheme := make(map[string][]string)
	for _, key := range candidates {
		if clustered[key] {
			continue
		}
		theme := deriveTheme(evals[key].stats, outputs)
		if theme != "" {
			byTheme[theme] = append(byTheme[theme], key)
		}
	}
	for _, theme := range sortedKeys(byTheme) {
		members := byTheme[theme]
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, frictionCluster{theme: theme, members: members})
		for _, key := range members {
			clustered[key] = true
		}
	}
	return clusters, clustered
}

// deriveTheme names an entity's friction from its friction point
// descriptions: the first vocabulary word any description contains, or
// the first three significant words of the first description. Entities
// with no friction descriptions fall back to their mention context.
func deriveTheme(s *EntityToday, outputs []database.ScrubberOutput) string {
	var texts []string
	for i := range outputs {
		for _, fp := range outputs[i].FrictionPoints {
			if strings.EqualFold(fp.Entity, s.Name) && fp.Signal != "" {
				texts = append(texts, fp.Signal)
			}
		}
	}
	if len(texts) == 0 {
		return strings.ToLower(strings.TrimSpace(s.Context))
	}

	for _, theme := range frictionThemes {
		for _, text := range texts {
			if strings.Contains(strings.ToLower(text), theme) {
				return theme
			}
		}
	}

	var words []string
	for _, word := range strings.Fields(strings.ToLower(texts[0])) {
		word = strings.Trim(word, `.,;:!?"'()[]`)
		if word == "" || themeStopwords[word] {
			continue
		}
		words = append(words, word)
		if len(words) == 3 {
			break
		}
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DeltaEngine) buildSingle(eval *entityEval, priorByEntity map[string]*database.Signal, now time.Time) database.Signal {
	sig := database.Signal{
		ID:              uuid.New().String(),
		Entities:        database.StringList{eval.stats.Name},
		MentionVelocity: round2(eval.velocity),
		SentimentDelta:  round2(eval.sentimentDelta),
		FrictionSpike:   round2(eval.frictionSpike),
		EvidenceIDs:     database.StringList(eval.evidenceIDs),
		DetectedAt:      now,
		WindowHours:     d.cfg.LookbackHours,
	}
	sig.Strength = d.score(eval.velocity, eval.sentimentDelta, eval.avgSeverity(), 0, 0)

	prior := priorByEntity[eval.stats.Key]
	switch {
	case prior == nil:
		sig.Type = database.SignalTypeNewEmergence
		sig.Direction = database.DirectionNew
	default:
		switch {
		case eval.sentimentDelta < d.cfg.SentimentDropLimit:
			sig.Type = database.SignalTypeSentimentFlip
		case eval.velocity > d.cfg.VelocityThreshold:
			sig.Type = database.SignalTypeVelocitySpike
		default:
			sig.Type = database.SignalTypeFrictionCluster
		}
		if eval.velocity > prior.MentionVelocity {
			sig.Direction = database.DirectionAccelerating
		} else {
			sig.Direction = database.DirectionDecelerating
		}
	}
	return sig
}

func (d *DeltaEngine) buildCluster(c frictionCluster, evals map[string]*entityEval, priorByEntity map[string]*database.Signal, now time.Time) database.Signal {
	var names []string
	var evidence []string
	seen := make(map[string]bool)
	var maxVelocity, peakDelta, maxSpike float64
	var prior *database.Signal
	for _, key := range c.members {
		eval := evals[key]
		names = append(names, eval.stats.Name)
		for _, id := range eval.evidenceIDs {
			if !seen[id] {
				seen[id] = true
				evidence = append(evidence, id)
			}
		}
		if eval.velocity > maxVelocity {
			maxVelocity = eval.velocity
		}
		if math.Abs(eval.sentimentDelta) > math.Abs(peakDelta) {
			peakDelta = eval.sentimentDelta
		}
		if eval.frictionSpike > maxSpike {
			maxSpike = eval.frictionSpike
		}
		if prior == nil {
			prior = priorByEntity[key]
		}
	}

	theme := c.theme
	sig := database.Signal{
		ID:              uuid.New().String(),
		Type:            database.SignalTypeFrictionCluster,
		Entities:        database.StringList(names),
		FrictionTheme:   &theme,
		MentionVelocity: round2(maxVelocity),
		SentimentDelta:  round2(peakDelta),
		FrictionSpike:   round2(maxSpike),
		EvidenceIDs:     database.StringList(evidence),
		DetectedAt:      now,
		WindowHours:     d.cfg.LookbackHours,
	}
	breadth := math.Min(1, float64(len(c.members))/4)
	sig.Strength = d.score(maxVelocity, peakDelta, clusterFrictionSeverity, breadth, 0)

	switch {
	case prior == nil:
		sig.Direction = database.DirectionNew
	case maxVelocity > prior.MentionVelocity:
		sig.Direction = database.DirectionAccelerating
	default:
		sig.Direction = database.DirectionDecelerating
	}
	return sig
}

// score combines the weighted deviation terms with recency decay:
// 0.4·mention deviation + 0.3·friction severity + 0.2·|sentiment delta|
// + 0.1·cluster breadth, clamped to [0,1] and rounded to two decimals.
// Detection scores in the same run that gathered the evidence, so it
// always passes a zero age and the decay term only bites if a score is
// recomputed later.
func (d *DeltaEngine) score(velocity, sentimentDelta, severity, breadth float64, age time.Duration) float64 {
	deviation := clamp01((velocity - 1) / 3)
	delta := math.Min(1, math.Abs(sentimentDelta))
	strength := 0.4*deviation + 0.3*severity + 0.2*delta + 0.1*breadth
	strength *= recencyDecay(age)
	return round2(clamp01(strength))
}

// recencyDecay discounts signals whose supporting activity is going
// stale: full weight under 6 hours, then 0.8, 0.5, and 0.2 at the 24
// and 48 hour marks.
func recencyDecay(age time.Duration) float64 {
	switch {
	case age < 6*time.Hour:
		return 1.0
	case age < 24*time.Hour:
		return 0.8
	case age < 48*time.Hour:
		return 0.5
	default:
		return 0.2
	}
}

// latestPriorByEntity maps each entity key to its most recent prior
// signal. Input is expected newest-first.
func latestPriorByEntity(priors []database.Signal) map[string]*database.Signal {
	byEntity := make(map[string]*database.Signal)
	for i := range priors {
		for _, name := range priors[i].Entities {
			key := EntityKey(name)
			if _, ok := byEntity[key]; !ok {
				byEntity[key] = &priors[i]
			}
		}
	}
	return byEntity
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DescribeSignal renders a short human-readable label, used in logs and
// event payloads.
func DescribeSignal(sig *database.Signal) string {
	theme := ""
	if sig.FrictionTheme != nil {
		theme = " theme=" + *sig.FrictionTheme
	}
	return fmt.Sprintf("%s %s strength=%.2f direction=%s%s",
		sig.Type, strings.Join(sig.Entities, ","), sig.Strength, sig.Direction, theme)
}
