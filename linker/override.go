package linker

// OverrideChecker decides whether one method may stand in for another in
// a dispatch slot.
type OverrideChecker struct {
	assign *Assignability
}

// NewOverrideChecker creates a checker resolving types through a.
func NewOverrideChecker(a *Assignability) *OverrideChecker {
	return &OverrideChecker{assign: a}
}

// IsOverride reports whether derived is a valid override of base: the
// return type is covariant, parameters are contravariant and primitive
// elements must match exactly. Types are compared by resolved descriptor,
// never by file-local id.
func (c *OverrideChecker) IsOverride(base, derived Proto) bool {
	bt, dt := base.Types(), derived.Types()
	if len(bt) != len(dt) {
		return false
	}
	for i := range bt {
		if bt[i] != dt[i] {
			return false
		}
	}
	bd, err := base.Descriptors()
	if err != nil {
		return false
	}
	dd, err := derived.Descriptors()
	if err != nil {
		return false
	}
	for i := range bt {
		if !bt[i].IsReference() {
			continue
		}
		if i == 0 {
			if !c.assign.IsAssignable(dd[0], bd[0]) {
				return false
			}
			continue
		}
		if !c.assign.IsAssignable(bd[i], dd[i]) {
			return false
		}
	}
	return true
}

// Overrides reports whether derived may replace base: same name and a
// compatible prototype.
func (c *OverrideChecker) Overrides(base, derived *Method) bool {
	return base.name == derived.name && c.IsOverride(base.proto, derived.proto)
}
