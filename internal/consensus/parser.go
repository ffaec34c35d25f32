package consensus

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/quorumcore/consensus-core/internal/core"
)

var fencedJSONMarker = []byte("```json")
var fenceClose = []byte("```")

// ParseReply extracts and validates one Action from a raw model reply
// (§4.1). bugReport receives the verbatim bug_report side-channel value
// when present and non-empty; it may be nil.
func ParseReply(reply string, bugReport func(string)) (core.Action, error) {
	raw, ok := findJSONSource([]byte(reply))
	if !ok {
		return core.Action{}, core.ErrValidation(core.CodeInvalidJSON, "no valid JSON object found in reply")
	}

	// Decode with UseNumber so wait/condense normalization can tell an
	// integer literal (5) apart from a float literal (5.0), matching the
	// source language's JSON decoder — encoding/json would otherwise
	// collapse both to float64 (§4.1).
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return core.Action{}, core.ErrValidation(core.CodeInvalidJSON, "malformed JSON object").WithCause(err)
	}

	return parseActionObject(obj, bugReport)
}

// findJSONSource implements the §4.1 extraction policy: the last fenced
// ```json block if one exists, otherwise the last complete balanced
// top-level {...} byte span.
func findJSONSource(reply []byte) ([]byte, bool) {
	if block, ok := lastFencedJSONBlock(reply); ok {
		trimmed := bytes.TrimSpace(block)
		if len(trimmed) > 0 {
			return trimmed, true
		}
	}
	return lastBalancedObject(reply)
}

func lastFencedJSONBlock(s []byte) ([]byte, bool) {
	idx := bytes.LastIndex(s, fencedJSONMarker)
	if idx < 0 {
		return nil, false
	}
	contentStart := idx + len(fencedJSONMarker)
	closeRel := bytes.Index(s[contentStart:], fenceClose)
	if closeRel < 0 {
		return nil, false
	}
	return s[contentStart : contentStart+closeRel], true
}

// lastBalancedObject scans s byte-by-byte (structural JSON characters are
// always single-byte in UTF-8, so this is byte-accurate regardless of
// multi-byte glyphs like smart quotes or em-dashes elsewhere in the input)
// and returns the last complete top-level {...} span.
func lastBalancedObject(s []byte) ([]byte, bool) {
	depth := 0
	inString := false
	escaped := false
	start := -1
	var last []byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					last = s[start : i+1]
				}
			}
		}
	}
	return last, last != nil
}

func canonicalKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func canonicalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[canonicalKey(k)] = v
	}
	return out
}

// parseActionObject applies normalization and schema validation to an
// already-decoded JSON object (§4.1). Used both for the top-level reply
// and, recursively, for batch sub-actions.
func parseActionObject(obj map[string]any, bugReport func(string)) (core.Action, error) {
	norm := canonicalizeMap(obj)

	actionRaw, ok := norm["action"]
	if !ok {
		return core.Action{}, core.ErrValidation(core.CodeInvalidJSON, "missing required key: action")
	}
	actionStr, ok := actionRaw.(string)
	if !ok {
		return core.Action{}, core.ErrValidation(core.CodeInvalidJSON, "action key is not a string")
	}
	actionType := core.ActionType(canonicalKey(actionStr))
	if !IsKnownType(actionType) {
		return core.Action{}, core.ErrValidation(core.CodeUnknownAction, "unrecognized action type: "+actionStr)
	}

	if s, ok := norm["bug_report"].(string); ok && s != "" && bugReport != nil {
		bugReport(s)
	}

	action := core.Action{Type: actionType}

	if r, ok := norm["reasoning"].(string); ok {
		action.Reasoning = r
	}

	if w, present := norm["wait"]; present {
		action.Wait = core.NormalizeWaitValue(w)
	}

	if actionType != core.ActionTodo {
		if b, ok := norm["auto_complete_todo"].(bool); ok {
			v := b
			action.AutoComplete = &v
		}
	}

	if c := normalizeCondense(norm["condense"]); c != nil {
		action.Condense = c
	}

	if actionType == core.ActionBatchSync || actionType == core.ActionBatchAsync {
		subs, err := parseBatchSubActions(norm, bugReport)
		if err != nil {
			return core.Action{}, err
		}
		action.SubActions = subs
		return action, nil
	}

	paramsRaw, hasParams := norm["params"]
	var params map[string]any
	if hasParams {
		pm, ok := paramsRaw.(map[string]any)
		if !ok {
			return core.Action{}, core.ErrValidation(core.CodeInvalidParamType, "params is not an object")
		}
		params = canonicalizeMap(pm)
	}
	action.Params = params

	schema, _ := Lookup(actionType)
	for _, required := range schema.RequiredParams {
		if _, ok := params[canonicalKey(required)]; !ok {
			return core.Action{}, core.ErrValidation(core.CodeMissingRequiredParam, "missing required param: "+required).
				WithDetail("action_type", string(actionType)).
				WithDetail("param", required)
		}
	}

	return action, nil
}

func parseBatchSubActions(norm map[string]any, bugReport func(string)) ([]core.Action, error) {
	actionsRaw, ok := norm["actions"]
	if !ok {
		return nil, core.ErrValidation(core.CodeMissingRequiredParam, "batch action missing required key: actions")
	}
	list, ok := actionsRaw.([]any)
	if !ok {
		return nil, core.ErrValidation(core.CodeInvalidParamType, "actions is not a list")
	}

	subs := make([]core.Action, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, core.ErrValidation(core.CodeInvalidParamType, "batch sub-action is not an object")
		}
		sub, err := parseActionObject(m, bugReport)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// normalizeCondense accepts only a strictly positive integer; 0, negatives,
// floats (including whole-valued ones like 5.0), strings, and non-scalars
// yield nil (§4.1).
func normalizeCondense(raw any) *int {
	switch v := raw.(type) {
	case int:
		if v <= 0 {
			return nil
		}
		return &v
	case json.Number:
		s := string(v)
		if strings.ContainsAny(s, ".eE") {
			return nil
		}
		n, err := v.Int64()
		if err != nil || n <= 0 {
			return nil
		}
		out := int(n)
		return &out
	default:
		return nil
	}
}
