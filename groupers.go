package latencyz

import (
	"fmt"
	"sort"
)

// DefaultSpanGrouper groups spans purely by callsite path: it never
// contributes any Props. This mirrors default_span_grouper in the original
// span_groupers.rs.
func DefaultSpanGrouper(Attributes) Props {
	return nil
}

// GroupByAllFields groups spans by every attribute and its value,
// sorted by key for a deterministic Props ordering. Equivalent to
// group_by_all_fields in span_groupers.rs.
func GroupByAllFields(attrs Attributes) Props {
	return propsFromAttributes(attrs, nil)
}

// GroupByGivenFields returns a SpanGrouper that groups spans by only the
// named attributes, sorted by key. Equivalent to group_by_given_fields in
// span_groupers.rs.
func GroupByGivenFields(names ...string) SpanGrouper {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return func(attrs Attributes) Props {
		return propsFromAttributes(attrs, allowed)
	}
}

func propsFromAttributes(attrs Attributes, allowed map[string]struct{}) Props {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if allowed != nil {
			if _, ok := allowed[k]; !ok {
				continue
			}
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	props := make(Props, 0, len(keys))
	for _, k := range keys {
		props = append(props, Prop{Key: k, Value: formatAttr(attrs[k])})
	}
	return props
}

func formatAttr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
