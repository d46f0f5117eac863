package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"LOW", PriorityLow, false},
		{"medium", PriorityMedium, false},
		{" High ", PriorityHigh, false},
		{"CRITICAL", PriorityCritical, false},
		{"urgent", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePriority(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("in_progress"); err != nil || s != StatusInProgress {
		t.Fatalf("ParseStatus(in_progress) = %q, %v", s, err)
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestPriorityJSON(t *testing.T) {
	task := Task{ID: "TASK-0001", Priority: PriorityHigh, Status: StatusTodo}
	b, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Task
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Priority != PriorityHigh {
		t.Fatalf("priority = %v, want HIGH", back.Priority)
	}
	if err := json.Unmarshal([]byte(`{"priority":"SOON"}`), &back); err == nil {
		t.Fatal("expected error for unknown priority name")
	}
}

func TestCompare(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	early := now
	late := now.Add(24 * time.Hour)

	high := &Task{ID: "1", Priority: PriorityHigh}
	low := &Task{ID: "2", Priority: PriorityLow}
	highEarly := &Task{ID: "3", Priority: PriorityHigh, DueDate: &early}
	highLate := &Task{ID: "4", Priority: PriorityHigh, DueDate: &late}
	highNone := &Task{ID: "5", Priority: PriorityHigh}

	if !Outranks(high, low) {
		t.Error("HIGH should outrank LOW")
	}
	if Outranks(low, high) {
		t.Error("LOW should not outrank HIGH")
	}
	if !Outranks(highEarly, highLate) {
		t.Error("earlier due date should outrank later one")
	}
	if Outranks(highNone, highEarly) {
		t.Error("missing due date must never outrank a dated task")
	}
	if Compare(high, highNone) != 0 {
		t.Error("same priority without due dates should tie")
	}
}

func TestCompareIsTransitive(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d1 := base
	d2 := base.Add(time.Hour)
	tasks := []*Task{
		{Priority: PriorityMedium, DueDate: &d2},
		{Priority: PriorityMedium},
		{Priority: PriorityMedium, DueDate: &d1},
		{Priority: PriorityHigh},
		{Priority: PriorityLow, DueDate: &d1},
	}
	for _, a := range tasks {
		for _, b := range tasks {
			for _, c := range tasks {
				if Compare(a, b) <= 0 && Compare(b, c) <= 0 && Compare(a, c) > 0 {
					t.Fatalf("not transitive: %+v <= %+v <= %+v but a > c", a, b, c)
				}
			}
		}
	}
}

func TestCloneDetachesDueDate(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := Task{ID: "1", DueDate: &due}
	cp := orig.Clone()
	*cp.DueDate = due.Add(time.Hour)
	if !orig.DueDate.Equal(due) {
		t.Fatal("clone shares due date with original")
	}
}
