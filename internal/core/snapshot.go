package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"carelink/pkg"
)

// snapshotDecoder reads model output field by field.  A field of the wrong
// shape becomes its empty value and a numeric string becomes a number; each
// such change is recorded in coerced.
type snapshotDecoder struct {
	coerced []string
}

func (d *snapshotDecoder) note(field, format string, args ...any) {
	d.coerced = append(d.coerced, field+": "+fmt.Sprintf(format, args...))
}

func (d *snapshotDecoder) decode(fields map[string]json.RawMessage) *pkg.Snapshot {
	s := &pkg.Snapshot{
		Summary:             d.text("summary", fields["summary"]),
		MoodTimeline:        d.chart("moodTimeline", fields["moodTimeline"]),
		Activity:            d.chart("activity", fields["activity"]),
		UrgencyDistribution: d.chart("urgencyDistribution", fields["urgencyDistribution"]),
		EmotionRadar:        d.chart("emotionRadar", fields["emotionRadar"]),
	}
	for i, item := range d.objects("highlights", fields["highlights"]) {
		name := fmt.Sprintf("highlights[%d]", i)
		s.Highlights = append(s.Highlights, pkg.Highlight{
			Message:   d.text(name+".message", item["message"]),
			Reason:    d.text(name+".reason", item["reason"]),
			Timestamp: d.text(name+".timestamp", item["timestamp"]),
		})
	}
	for i, item := range d.objects("criticalFlags", fields["criticalFlags"]) {
		name := fmt.Sprintf("criticalFlags[%d]", i)
		s.CriticalFlags = append(s.CriticalFlags, pkg.CriticalFlag{
			Message:   d.text(name+".message", item["message"]),
			Category:  d.text(name+".category", item["category"]),
			Severity:  d.number(name+".severity", item["severity"]),
			Timestamp: d.text(name+".timestamp", item["timestamp"]),
		})
	}
	for i, item := range d.objects("keywords", fields["keywords"]) {
		name := fmt.Sprintf("keywords[%d]", i)
		s.Keywords = append(s.Keywords, pkg.Keyword{
			Term:  d.text(name+".term", item["term"]),
			Count: d.number(name+".count", item["count"]),
		})
	}
	for i, item := range d.objects("emojiCloud", fields["emojiCloud"]) {
		name := fmt.Sprintf("emojiCloud[%d]", i)
		s.EmojiCloud = append(s.EmojiCloud, pkg.EmojiCount{
			Emoji: d.text(name+".emoji", item["emoji"]),
			Count: d.number(name+".count", item["count"]),
		})
	}
	return s
}

func (d *snapshotDecoder) chart(field string, raw json.RawMessage) pkg.Chart {
	var c pkg.Chart
	if isNull(raw) {
		return c
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		d.note(field, "%s treated as empty chart", kindOf(raw))
		return c
	}
	for i, v := range d.list(field+".labels", obj["labels"]) {
		c.Labels = append(c.Labels, d.text(fmt.Sprintf("%s.labels[%d]", field, i), v))
	}
	for i, v := range d.list(field+".data", obj["data"]) {
		name := fmt.Sprintf("%s.data[%d]", field, i)
		n, ok := d.parseNumber(name, v)
		if !ok {
			d.note(name, "%s dropped", kindOf(v))
			continue
		}
		c.Data = append(c.Data, n)
	}
	return c
}

// list returns the elements of a JSON array.  Any other shape is empty.
func (d *snapshotDecoder) list(field string, raw json.RawMessage) []json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		d.note(field, "%s treated as empty list", kindOf(raw))
		return nil
	}
	return items
}

// objects returns the object elements of a JSON array, skipping the rest.
func (d *snapshotDecoder) objects(field string, raw json.RawMessage) []map[string]json.RawMessage {
	var out []map[string]json.RawMessage
	for i, v := range d.list(field, raw) {
		var obj map[string]json.RawMessage
		if json.Unmarshal(v, &obj) != nil || obj == nil {
			d.note(fmt.Sprintf("%s[%d]", field, i), "%s dropped", kindOf(v))
			continue
		}
		out = append(out, obj)
	}
	return out
}

func (d *snapshotDecoder) text(field string, raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	switch v := v.(type) {
	case string:
		return v
	case float64, bool:
		d.note(field, "%s converted to string", kindOf(raw))
		return cast.ToString(v)
	}
	d.note(field, "%s treated as empty string", kindOf(raw))
	return ""
}

func (d *snapshotDecoder) number(field string, raw json.RawMessage) float64 {
	if isNull(raw) {
		return 0
	}
	n, ok := d.parseNumber(field, raw)
	if !ok {
		d.note(field, "%s treated as 0", kindOf(raw))
	}
	return n
}

// parseNumber accepts a JSON number or a string holding one, optionally
// followed by a percent sign.
func (d *snapshotDecoder) parseNumber(field string, raw json.RawMessage) (float64, bool) {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	switch v := v.(type) {
	case float64:
		return v, true
	case string:
		n, err := cast.ToFloat64E(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		if err != nil {
			return 0, false
		}
		d.note(field, "string %q converted to number", v)
		return n, true
	}
	return 0, false
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func kindOf(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return "nothing"
	}
	switch t[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	}
	return "number"
}
