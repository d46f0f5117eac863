package domain

// Compare orders tasks by urgency. It returns a negative number when a ranks
// before b, positive when b ranks before a and zero when they tie.
//
// Higher priority ranks first. Within a priority an earlier due date ranks
// first and a task without a due date never ranks before one that has it.
func Compare(a, b *Task) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return 0
	case a.DueDate == nil:
		return 1
	case b.DueDate == nil:
		return -1
	}
	return a.DueDate.Compare(*b.DueDate)
}

// Outranks reports whether a is strictly more urgent than b.
func Outranks(a, b *Task) bool {
	return Compare(a, b) < 0
}

// CompareValues is Compare for tasks held by value, for use with slices.SortFunc.
func CompareValues(a, b Task) int {
	return Compare(&a, &b)
}
