package models

import "testing"

func TestStatusIsValid(t *testing.T) {
	for _, s := range KnownStatuses {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []Status{"", "pending", "SUCCESS", "error"} {
		if s.IsValid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}

func TestParseStatusSet(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Status
	}{
		{"empty", "", nil},
		{"single", "error_backend_transient", []Status{StatusErrorBackendTransient}},
		{"multiple", "error_backend_transient,error_decode", []Status{StatusErrorBackendTransient, StatusErrorDecode}},
		{"spaces and trailing comma", " success , skipped ,", []Status{StatusSuccess, StatusSkipped}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseStatusSet(tt.input)
			if err != nil {
				t.Fatalf("ParseStatusSet(%q) error = %v", tt.input, err)
			}
			if len(set) != len(tt.want) {
				t.Fatalf("ParseStatusSet(%q) has %d entries, want %d", tt.input, len(set), len(tt.want))
			}
			for _, s := range tt.want {
				if !set.Contains(s) {
					t.Errorf("ParseStatusSet(%q) missing %q", tt.input, s)
				}
			}
		})
	}
}

func TestParseStatusSetRejectsUnknown(t *testing.T) {
	for _, input := range []string{"error_transient", "success,nope", "SUCCESS"} {
		if _, err := ParseStatusSet(input); err == nil {
			t.Errorf("ParseStatusSet(%q) should fail on an unknown status", input)
		}
	}
}

func TestStatusSetContains(t *testing.T) {
	set := NewStatusSet(StatusErrorBackendTransient, StatusErrorDecode)
	if !set.Contains(StatusErrorBackendTransient) {
		t.Error("set should contain error_backend_transient")
	}
	if set.Contains(StatusSuccess) {
		t.Error("set should not contain success")
	}
	if NewStatusSet().Contains(StatusSuccess) {
		t.Error("empty set should contain nothing")
	}
}
