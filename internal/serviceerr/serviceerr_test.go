package serviceerr

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestNewBuildsDottedCode(t *testing.T) {
	err := New("status.mark_complete", "already_owned", errSentinel)
	if Code(err) != "status.mark_complete.already_owned" {
		t.Fatalf("unexpected code %q", Code(err))
	}
	if Reason(err) != "already_owned" {
		t.Fatalf("unexpected reason %q", Reason(err))
	}
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected error to unwrap to sentinel")
	}
	if err.Error() != "status.mark_complete.already_owned: sentinel" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", New("notes.add_note", "stale_note", nil))
	if Code(wrapped) != "notes.add_note.stale_note" {
		t.Fatalf("unexpected code %q", Code(wrapped))
	}
	if wrapped.Error() != "handler: notes.add_note.stale_note" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestCodeEmptyForPlainErrors(t *testing.T) {
	if Code(errSentinel) != "" || Reason(errSentinel) != "" {
		t.Fatalf("expected empty code for plain error")
	}
}
