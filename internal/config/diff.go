package config

// ControllerDiff names the controller sections whose tunables changed
// between two configs. The manager restarts exactly these controllers on a
// hot reload.
type ControllerDiff struct {
	// Changed holds controller names in their canonical form ("Blink",
	// "Breathing", "BodySwing", "MouthExpression", "MouthSync").
	Changed []string
}

// Empty reports whether nothing changed.
func (d ControllerDiff) Empty() bool {
	return len(d.Changed) == 0
}

// DiffController compares two controller configs section by section.
// All section structs are scalar-only, so plain == is an exact comparison.
func DiffController(old, new *ControllerConfig) ControllerDiff {
	var d ControllerDiff

	if old.Blink != new.Blink {
		d.Changed = append(d.Changed, "Blink")
	}
	if old.Breathing != new.Breathing {
		d.Changed = append(d.Changed, "Breathing")
	}
	if old.BodySwing != new.BodySwing {
		d.Changed = append(d.Changed, "BodySwing")
	}
	if old.MouthExpression != new.MouthExpression {
		d.Changed = append(d.Changed, "MouthExpression")
	}
	if old.MouthSync != new.MouthSync {
		d.Changed = append(d.Changed, "MouthSync")
	}

	return d
}
