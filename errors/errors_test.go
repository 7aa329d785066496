package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseLink,
				Kind:   KindTypeMismatch,
				Path:   []string{"env", "now"},
				Detail: "import signature differs",
			},
			contains: []string{"[link]", "type_mismatch", "env.now", "import signature differs"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindInvalidInput,
				Detail: "bad argument",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "invalid_input", "bad argument", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseDecode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseLink,
		Kind:  KindTypeMismatch,
		Path:  []string{"foo"},
	}

	// Same phase and kind
	if !err.Is(&Error{Phase: PhaseLink, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}

	// Different phase
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}

	// Different kind
	if err.Is(&Error{Phase: PhaseLink, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	// Test with errors.Is
	target := &Error{Phase: PhaseLink, Kind: KindTypeMismatch}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLink, KindTypeMismatch).
		Path("env", "now").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "i32", "i64").
		Build()

	if err.Phase != PhaseLink {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseLink)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "env" || err.Path[1] != "now" {
		t.Errorf("Path = %v, want [env now]", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got i64" {
		t.Errorf("Detail = %v, want 'expected i32, got i64'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("TypeMismatch", func(t *testing.T) {
		err := TypeMismatch(PhaseLink, []string{"field"}, "i32", "f64")
		if err.Kind != KindTypeMismatch {
			t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
		}
		if !strings.Contains(err.Detail, "i32") || !strings.Contains(err.Detail, "f64") {
			t.Errorf("Detail = %v, should name both types", err.Detail)
		}
	})

	t.Run("MissingImport", func(t *testing.T) {
		err := MissingImport("env", "now")
		if err.Kind != KindMissingImport {
			t.Errorf("Kind = %v, want %v", err.Kind, KindMissingImport)
		}
		if err.Phase != PhaseLink {
			t.Errorf("Phase = %v, want %v", err.Phase, PhaseLink)
		}
		if len(err.Path) != 2 || err.Path[0] != "env" {
			t.Errorf("Path = %v, want [env now]", err.Path)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseDecode, "SIMD instructions")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseDecode, []string{"funcs"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseRuntime, "export", "main")
		if err.Kind != KindNotFound {
			t.Errorf("Kind = %v, want %v", err.Kind, KindNotFound)
		}
		if !strings.Contains(err.Detail, `"main"`) {
			t.Errorf("Detail = %v, should quote the name", err.Detail)
		}
	})

	t.Run("Consumed", func(t *testing.T) {
		err := Consumed("continuation")
		if err.Kind != KindConsumed {
			t.Errorf("Kind = %v, want %v", err.Kind, KindConsumed)
		}
	})

	t.Run("Instantiation", func(t *testing.T) {
		cause := errors.New("boom")
		err := Instantiation(cause)
		if err.Kind != KindInstantiation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInstantiation)
		}
		if !errors.Is(err, cause) {
			t.Error("Instantiation should wrap cause")
		}
	})
}
