package gateway

import (
	"fmt"
	"maps"
	"slices"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// ValidateBatch checks every item of batch and reports all problems at once.
func ValidateBatch(batch graph.Batch) error {
	errs := appErrors.NewCollector(0)
	seen := make(map[graph.Identifier]bool, len(batch.Nodes))
	keys := make(map[graph.BusinessKey]bool)

	invalid := func(item, format string, args ...any) {
		errs.Add(appErrors.NewValidationError(item + ": " + fmt.Sprintf(format, args...)).
			WithDetails(map[string]interface{}{"item": item}))
	}

	for i, n := range batch.Nodes {
		item := fmt.Sprintf("nodes[%d]", i)

		switch {
		case !n.ID.IsPlaceholder():
			invalid(item, "identifier %q is not a placeholder", n.ID)
		case seen[n.ID]:
			invalid(item, "duplicate identifier %q", n.ID)
		default:
			seen[n.ID] = true
		}

		if len(n.Labels) == 0 {
			invalid(item, "node has no labels")
		}
		for _, label := range n.Labels {
			if !graph.ValidName(label) {
				invalid(item, "invalid label %q", label)
			}
		}

		for _, name := range slices.Sorted(maps.Keys(n.Properties)) {
			if !graph.ValidName(name) {
				invalid(item, "invalid property name %q", name)
			}
			if v := n.Properties[name]; !graph.IsScalar(v) {
				invalid(item, "property %q has non-scalar value of type %T", name, v)
			}
		}

		if n.Key == nil {
			continue
		}
		switch {
		case n.Key.Value == "":
			invalid(item, "business key is empty")
		case n.Key.Label != n.PrimaryLabel():
			invalid(item, "business key label %q does not match primary label %q", n.Key.Label, n.PrimaryLabel())
		case keys[*n.Key]:
			errs.Add(appErrors.NewAmbiguousKeyError(n.Key.Label, n.Key.Value).
				WithDetails(map[string]interface{}{"item": item}))
		default:
			keys[*n.Key] = true
		}
	}

	for i, e := range batch.Edges {
		item := fmt.Sprintf("edges[%d]", i)
		if !seen[e.From] {
			invalid(item, "source %q is not a node of the batch", e.From)
		}
		if !seen[e.To] {
			invalid(item, "target %q is not a node of the batch", e.To)
		}
		if !graph.ValidName(e.Type) {
			invalid(item, "invalid edge type %q", e.Type)
		}
		if e.Ordinal != nil && *e.Ordinal < 0 {
			invalid(item, "negative ordinal %d", *e.Ordinal)
		}
	}

	return errs.ToError()
}

// verifyMapping checks that the store returned a final id for every node.
func verifyMapping(batch graph.Batch, ids map[graph.Identifier]graph.Identifier) error {
	errs := appErrors.NewCollector(0)
	for _, n := range batch.Nodes {
		if id, ok := ids[n.ID]; !ok || id.IsZero() || id.IsPlaceholder() {
			errs.Add(appErrors.NewInternalError(fmt.Sprintf("store returned no identifier for %s", n.ID)))
		}
	}
	return errs.ToError()
}
