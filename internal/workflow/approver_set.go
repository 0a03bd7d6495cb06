package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ApproverSet is an ordered, de-duplicated list of approver identities.
// Identities compare case-insensitively; the first spelling seen is kept.
type ApproverSet []string

// NewApproverSet normalises ids into a set.
func NewApproverSet(ids ...string) ApproverSet {
	set := make(ApproverSet, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || set.Contains(id) {
			continue
		}
		set = append(set, id)
	}
	return set
}

// ParseApproverSet accepts the encodings found in matrix rows: a string
// slice, a JSON-encoded array, or a comma-separated string.
func ParseApproverSet(raw any) (ApproverSet, error) {
	switch v := raw.(type) {
	case nil:
		return ApproverSet{}, nil
	case ApproverSet:
		return NewApproverSet(v...), nil
	case []string:
		return NewApproverSet(v...), nil
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("approver list element %v is %T, want string", item, item)
			}
			ids = append(ids, s)
		}
		return NewApproverSet(ids...), nil
	case []byte:
		return parseApproverString(string(v)), nil
	case string:
		return parseApproverString(v), nil
	default:
		return nil, fmt.Errorf("unsupported approver list type %T", raw)
	}
}

func parseApproverString(s string) ApproverSet {
	s = strings.TrimSpace(s)
	if s == "" {
		return ApproverSet{}
	}
	if strings.HasPrefix(s, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(s), &ids); err == nil {
			return NewApproverSet(ids...)
		}
		// Malformed JSON: strip the brackets and quotes and fall through.
		s = strings.Trim(s, "[]")
		s = strings.ReplaceAll(s, `"`, "")
	}
	return NewApproverSet(strings.Split(s, ",")...)
}

// Contains reports whether id is in the set.
func (s ApproverSet) Contains(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, member := range s {
		if strings.EqualFold(member, id) {
			return true
		}
	}
	return false
}

// Union returns s followed by the members of other not already in s.
func (s ApproverSet) Union(other ApproverSet) ApproverSet {
	out := NewApproverSet(s...)
	for _, id := range other {
		if !out.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

func (s ApproverSet) IsEmpty() bool { return len(s) == 0 }

// String joins the set with commas.
func (s ApproverSet) String() string { return strings.Join(s, ",") }
