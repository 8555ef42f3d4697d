package blocks

import "strings"

// BulkMarker is the reserved token that marks a control as acting on a whole
// batch of items. A block is bulk only when every control in it carries it.
const BulkMarker = "__bulk"

// IsBulkControl reports whether actionID carries the bulk marker.
func IsBulkControl(actionID string) bool {
	return strings.Contains(actionID, BulkMarker)
}

// Result is the outcome of Transform.
type Result struct {
	Layout Layout
	// Changed is false when the clicked control was not found, which is also
	// the case when the layout was already transformed for it.
	Changed bool
	// Label of the clicked control.
	Label string
	// RemovedBulk counts bulk blocks dropped because no individual control
	// remained.
	RemovedBulk int
}

// ControlsOf returns the controls hosted by an actions block, known or opaque.
func ControlsOf(b Block) ([]Control, bool) {
	switch v := b.(type) {
	case Actions:
		return v.Elements, true
	case Opaque:
		return v.Controls()
	}
	return nil, false
}

// isBulkBlock is vacuously true for an empty block: it has nothing left to
// click and goes away with the bulk blocks.
func isBulkBlock(controls []Control) bool {
	for _, c := range controls {
		if !IsBulkControl(c.ActionID) {
			return false
		}
	}
	return true
}

// ConfirmationText is the text shown in place of a handled control block.
func ConfirmationText(label, actor string) string {
	if actor == "" {
		return "✓ " + label
	}
	return "✓ " + label + " by " + actor
}

// Transform replaces the block hosting actionID with a confirmation and drops
// bulk control blocks once no individual control is left. The input layout is
// not modified.
func Transform(layout Layout, actionID, actor string) Result {
	target := -1
	var clicked Control
	for i, b := range layout {
		controls, ok := ControlsOf(b)
		if !ok {
			continue
		}
		for _, c := range controls {
			if c.ActionID == actionID {
				target, clicked = i, c
				break
			}
		}
		if target >= 0 {
			break
		}
	}

	out := make(Layout, len(layout))
	copy(out, layout)
	if target < 0 {
		return Result{Layout: out}
	}

	label := clicked.Label()
	out[target] = Confirmation{
		BlockID:  layout[target].ID(),
		Elements: []Text{Markdown(ConfirmationText(label, actor))},
	}

	individual := false
	for _, b := range out {
		if controls, ok := ControlsOf(b); ok && !isBulkBlock(controls) {
			individual = true
			break
		}
	}
	if individual {
		return Result{Layout: out, Changed: true, Label: label}
	}

	// A removed bulk block takes the divider directly above it in the
	// original layout, and nothing else.
	removed := 0
	drop := make([]bool, len(out))
	for i, b := range out {
		if controls, ok := ControlsOf(b); ok && isBulkBlock(controls) {
			drop[i] = true
			removed++
			if i > 0 && out[i-1].Kind() == KindDivider {
				drop[i-1] = true
			}
		}
	}
	kept := make(Layout, 0, len(out))
	for i, b := range out {
		if !drop[i] {
			kept = append(kept, b)
		}
	}
	return Result{Layout: kept, Changed: true, Label: label, RemovedBulk: removed}
}
