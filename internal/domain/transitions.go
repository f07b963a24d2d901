package domain

// IsTransitionAllowed reports whether an update may move a record from one status to
// another. Any known status may be set, except that nothing leaves blocked.
func IsTransitionAllowed(from, to Status) bool {
	if !to.Valid() {
		return false
	}

	if from == StatusBlocked {
		return to == StatusBlocked
	}

	return true
}
