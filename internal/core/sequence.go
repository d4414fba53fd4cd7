package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/samber/lo"
)

// Logs and threads reach us either as a JSON array or as an object keyed by
// index or push key.  sequence is the tagged union of both shapes and items
// is the only place that knows how to order them.
type sequenceKind int

const (
	emptySequence sequenceKind = iota
	orderedList
	sparseMap
)

type sequence struct {
	kind    sequenceKind
	list    []json.RawMessage
	entries map[string]json.RawMessage
}

func decodeSequence(raw json.RawMessage) (sequence, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return sequence{kind: emptySequence}, nil
	}
	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return sequence{}, err
		}
		return sequence{kind: orderedList, list: list}, nil
	case '{':
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return sequence{}, err
		}
		return sequence{kind: sparseMap, entries: entries}, nil
	}
	return sequence{}, fmt.Errorf("sequence: unexpected JSON %q", trimmed[:1])
}

// items returns the object entries in canonical order.  Map keys that parse
// as integers come first in numeric order, then the rest lexicographically.
// Entries that are not JSON objects are dropped.
func (s sequence) items() []json.RawMessage {
	var ordered []json.RawMessage
	switch s.kind {
	case orderedList:
		ordered = s.list
	case sparseMap:
		keys := lo.Keys(s.entries)
		sort.SliceStable(keys, func(i, j int) bool { return sequenceKeyLess(keys[i], keys[j]) })
		ordered = lo.Map(keys, func(k string, _ int) json.RawMessage { return s.entries[k] })
	}
	return lo.Filter(ordered, func(item json.RawMessage, _ int) bool {
		t := bytes.TrimSpace(item)
		return len(t) > 0 && t[0] == '{'
	})
}

func sequenceKeyLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// decodeItems normalises raw into a slice of T.  Items that fail to decode
// are skipped rather than failing the whole read.
func decodeItems[T any](raw json.RawMessage) ([]T, error) {
	seq, err := decodeSequence(raw)
	if err != nil {
		return nil, err
	}
	out := lo.FilterMap(seq.items(), func(item json.RawMessage, _ int) (T, bool) {
		var v T
		return v, json.Unmarshal(item, &v) == nil
	})
	return out, nil
}
