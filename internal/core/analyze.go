package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"carelink/internal/db"
	"carelink/internal/llm"
	"carelink/pkg"
)

const analysisPath = "analysis"

// Publisher announces that a patient's snapshot changed.
type Publisher interface {
	Notify(ctx context.Context, patientUID string) error
}

// Synthesizer turns a patient's conversation log into an analysis snapshot
// using the analysis model.
type Synthesizer struct {
	LLM      llm.Completer
	Store    db.Store
	Chat     *ChatService
	Linkage  *LinkageResolver
	Notifier Publisher
	log      zerolog.Logger
}

// NewSynthesizer constructs a Synthesizer.  notifier may be nil.
func NewSynthesizer(client llm.Completer, store db.Store, chat *ChatService, linkage *LinkageResolver, notifier Publisher, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		LLM:      client,
		Store:    store,
		Chat:     chat,
		Linkage:  linkage,
		Notifier: notifier,
		log:      logger.With().Str("component", "analysis").Logger(),
	}
}

// EmptySnapshot is returned for a patient with no conversation.
func EmptySnapshot() *pkg.Snapshot {
	return &pkg.Snapshot{
		Summary:             EmptyHistorySummary,
		MoodTimeline:        pkg.Chart{Labels: []string{}, Data: []float64{}},
		Activity:            pkg.Chart{Labels: []string{}, Data: []float64{}},
		UrgencyDistribution: pkg.Chart{Labels: append([]string(nil), urgencyLabels...), Data: []float64{0, 0, 0}},
		EmotionRadar:        pkg.Chart{Labels: append([]string(nil), emotionLabels...), Data: []float64{0, 0, 0, 0, 0}},
		Highlights:          []pkg.Highlight{},
		CriticalFlags:       []pkg.CriticalFlag{},
		Keywords:            []pkg.Keyword{},
		EmojiCloud:          []pkg.EmojiCount{},
	}
}

// Analyze produces and stores a fresh snapshot of patientUID's conversation
// on behalf of doctorUID.  On any failure the stored snapshot is untouched.
func (s *Synthesizer) Analyze(ctx context.Context, doctorUID, patientUID string) (*pkg.Snapshot, error) {
	if !s.Linkage.IsLinked(ctx, doctorUID, patientUID) {
		return nil, ErrForbidden
	}
	history, err := s.Chat.History(ctx, patientUID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return EmptySnapshot(), nil
	}

	prompt, err := BuildAnalysisPrompt(history)
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	raw, err := s.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, upstream("analysis model", err)
	}
	snapshot, coerced, err := parseSnapshot(raw)
	if err != nil {
		s.log.Error().Err(err).Str("patient_uid", patientUID).Int("response_bytes", len(raw)).Msg("unparseable analysis response")
		return nil, err
	}
	for _, c := range coerced {
		s.log.Warn().Str("patient_uid", patientUID).Str("field", c).Msg("analysis field coerced")
	}
	for _, w := range chartWarnings(snapshot) {
		s.log.Warn().Str("patient_uid", patientUID).Str("chart", w).Msg("chart labels and data differ in length")
	}

	if err := s.Store.Set(ctx, db.Join(analysisPath, patientUID), snapshot); err != nil {
		return nil, upstream("write analysis", err)
	}
	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, patientUID); err != nil {
			s.log.Warn().Err(err).Str("patient_uid", patientUID).Msg("analysis notification failed")
		}
	}
	s.log.Info().Str("doctor_uid", doctorUID).Str("patient_uid", patientUID).Int("turns", len(history)).Msg("analysis stored")
	return snapshot, nil
}

// Latest returns the stored snapshot for patientUID, or ErrNotFound if no
// analysis has run yet.
func (s *Synthesizer) Latest(ctx context.Context, doctorUID, patientUID string) (*pkg.Snapshot, error) {
	if !s.Linkage.IsLinked(ctx, doctorUID, patientUID) {
		return nil, ErrForbidden
	}
	raw, err := s.Store.Get(ctx, db.Join(analysisPath, patientUID))
	if err != nil {
		return nil, upstream("read analysis", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var snapshot pkg.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, upstream("decode analysis", err)
	}
	normalizeSnapshot(&snapshot)
	return &snapshot, nil
}

// BuildAnalysisPrompt embeds the conversation as a JSON transcript in the
// analysis instruction.
func BuildAnalysisPrompt(history []pkg.Turn) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(history); err != nil {
		return "", err
	}
	return strings.Replace(AnalysisInstruction, "$CHAT", strings.TrimSpace(buf.String()), 1), nil
}

// ParseSnapshot decodes a model response into a snapshot.  A surrounding
// ``` fence and a leading language tag are tolerated; anything other than a
// single JSON object is an AnalysisError.  Fields of the wrong shape are
// coerced or emptied rather than rejected.
func ParseSnapshot(raw string) (*pkg.Snapshot, error) {
	snapshot, _, err := parseSnapshot(raw)
	return snapshot, err
}

// parseSnapshot is ParseSnapshot that also reports every coercion applied.
func parseSnapshot(raw string) (*pkg.Snapshot, []string, error) {
	body := stripFence(raw)
	if !strings.HasPrefix(body, "{") {
		return nil, nil, &AnalysisError{Err: errors.New("response is not a JSON object")}
	}
	dec := json.NewDecoder(strings.NewReader(body))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, nil, &AnalysisError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, nil, &AnalysisError{Err: errors.New("trailing data after JSON object")}
	}
	var d snapshotDecoder
	snapshot := d.decode(fields)
	normalizeSnapshot(snapshot)
	return snapshot, d.coerced, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	// Drop a language tag such as "json" before the payload.
	i := strings.IndexAny(s, "{[")
	if i > 0 && isLanguageTag(strings.TrimSpace(s[:i])) {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '+') {
			return false
		}
	}
	return true
}

// normalizeSnapshot replaces absent arrays with empty ones and fills the
// fixed labels of the categorical charts, so no field serialises as null.
func normalizeSnapshot(s *pkg.Snapshot) {
	fixChart(&s.MoodTimeline, nil)
	fixChart(&s.Activity, nil)
	fixChart(&s.UrgencyDistribution, urgencyLabels)
	fixChart(&s.EmotionRadar, emotionLabels)
	if s.Highlights == nil {
		s.Highlights = []pkg.Highlight{}
	}
	if s.CriticalFlags == nil {
		s.CriticalFlags = []pkg.CriticalFlag{}
	}
	if s.Keywords == nil {
		s.Keywords = []pkg.Keyword{}
	}
	if s.EmojiCloud == nil {
		s.EmojiCloud = []pkg.EmojiCount{}
	}
}

func fixChart(c *pkg.Chart, fixed []string) {
	if len(c.Labels) == 0 {
		c.Labels = append([]string{}, fixed...)
	}
	if c.Data == nil {
		c.Data = []float64{}
	}
}

// chartWarnings names the charts whose labels and data differ in length.
// These are reported, never rejected, so partial output stays visible.
func chartWarnings(s *pkg.Snapshot) []string {
	charts := []struct {
		name  string
		chart pkg.Chart
	}{
		{"moodTimeline", s.MoodTimeline},
		{"activity", s.Activity},
		{"urgencyDistribution", s.UrgencyDistribution},
		{"emotionRadar", s.EmotionRadar},
	}
	var out []string
	for _, c := range charts {
		if len(c.chart.Labels) != len(c.chart.Data) {
			out = append(out, fmt.Sprintf("%s (%d labels, %d values)", c.name, len(c.chart.Labels), len(c.chart.Data)))
		}
	}
	return out
}
