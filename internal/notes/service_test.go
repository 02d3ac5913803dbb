package notes

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/jury/internal/testkit"
)

func newTestService(t *testing.T, noteIDs ...string) *Service {
	t.Helper()
	db := testkit.OpenSQLite(t, &catalog.JudgingGroup{}, &catalog.Submission{}, &SubmissionNote{})
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewSequence("group-1", "sub-1", "sub-2"),
	})
	if err != nil {
		t.Fatalf("failed to construct catalog: %v", err)
	}
	ctx := context.Background()
	if _, err := catalogService.CreateGroup(ctx, catalog.GroupInput{Name: "G", Visibility: catalog.VisibilityPublic}); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	for _, slug := range []string{"alpha", "beta"} {
		if _, err := catalogService.AddSubmission(ctx, catalog.SubmissionInput{GroupID: "group-1", Title: slug, Slug: slug}); err != nil {
			t.Fatalf("failed to add submission: %v", err)
		}
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Catalog:    catalogService,
		IDProvider: ids.NewSequence(noteIDs...),
		Clock:      testkit.SteppingClock(time.Unix(1700000000, 0), time.Second),
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	return service
}

func mustAddNote(t *testing.T, service *Service, input NoteInput) SubmissionNote {
	t.Helper()
	note, err := service.AddNote(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	return note
}

func noteIDs(notes []SubmissionNote) []string {
	identifiers := make([]string, 0, len(notes))
	for _, note := range notes {
		identifiers = append(identifiers, note.NoteID)
	}
	return identifiers
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); serviceerr.Code(err) != "notes.service.new.missing_database" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRepliesToRepliesFlattenIntoTopLevelThread(t *testing.T) {
	service := newTestService(t, "n1", "n2", "n3", "n4", "n5")
	base := NoteInput{GroupID: "group-1", SubmissionID: "sub-1", JudgeID: "judge-a"}

	first := base
	first.Content = "first impression"
	mustAddNote(t, service, first)

	reply := base
	reply.Content = "agree"
	reply.ReplyToID = "n1"
	mustAddNote(t, service, reply)

	nested := base
	nested.Content = "replying to the reply"
	nested.ReplyToID = "n2"
	flattened := mustAddNote(t, service, nested)
	if flattened.ReplyToID == nil || *flattened.ReplyToID != "n1" {
		t.Fatalf("expected reply to reply to join n1, got %v", flattened.ReplyToID)
	}

	second := base
	second.Content = "separate topic"
	mustAddNote(t, service, second)

	late := base
	late.Content = "late reply"
	late.ReplyToID = "n1"
	mustAddNote(t, service, late)

	threads, err := service.ListNotes(context.Background(), "group-1", "sub-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected two threads, got %d", len(threads))
	}
	if threads[0].Note.NoteID != "n1" || threads[1].Note.NoteID != "n4" {
		t.Fatalf("unexpected thread order %s, %s", threads[0].Note.NoteID, threads[1].Note.NoteID)
	}
	if got := noteIDs(threads[0].Replies); !reflect.DeepEqual(got, []string{"n2", "n3", "n5"}) {
		t.Fatalf("unexpected replies %v", got)
	}
	if len(threads[1].Replies) != 0 {
		t.Fatalf("expected no replies on second thread, got %v", noteIDs(threads[1].Replies))
	}
}

func TestAddNoteRejectsStaleReplyTargets(t *testing.T) {
	service := newTestService(t, "n1", "n2", "n3")
	mustAddNote(t, service, NoteInput{GroupID: "group-1", SubmissionID: "sub-2", JudgeID: "judge-a", Content: "on beta"})

	_, err := service.AddNote(context.Background(), NoteInput{GroupID: "group-1", SubmissionID: "sub-1", JudgeID: "judge-a", Content: "hi", ReplyToID: "missing"})
	if !errors.Is(err, ErrStaleNote) {
		t.Fatalf("expected stale note for missing target, got %v", err)
	}
	_, err = service.AddNote(context.Background(), NoteInput{GroupID: "group-1", SubmissionID: "sub-1", JudgeID: "judge-a", Content: "hi", ReplyToID: "n1"})
	if !errors.Is(err, ErrStaleNote) {
		t.Fatalf("expected stale note for foreign submission, got %v", err)
	}
	if serviceerr.Code(err) != "notes.add_note.stale_note" {
		t.Fatalf("unexpected code %s", serviceerr.Code(err))
	}
}

func TestAddNoteValidatesInput(t *testing.T) {
	service := newTestService(t, "n1")
	testCases := []struct {
		name  string
		input NoteInput
		want  error
	}{
		{name: "empty content", input: NoteInput{GroupID: "group-1", SubmissionID: "sub-1", JudgeID: "judge-a", Content: "  "}, want: ErrInvalidContent},
		{name: "missing judge", input: NoteInput{GroupID: "group-1", SubmissionID: "sub-1", Content: "x"}, want: ErrMissingJudge},
		{name: "unknown submission", input: NoteInput{GroupID: "group-1", SubmissionID: "sub-9", JudgeID: "judge-a", Content: "x"}, want: catalog.ErrSubmissionNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := service.AddNote(context.Background(), testCase.input); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestAddNoteStoresMentions(t *testing.T) {
	service := newTestService(t, "n1")
	note := mustAddNote(t, service, NoteInput{GroupID: "group-1", SubmissionID: "sub-1", JudgeID: "judge-a", Content: "@Bob can you rescore? cc @bob @Ana"})
	if got := note.Mentions(); !reflect.DeepEqual(got, []string{"bob", "ana"}) {
		t.Fatalf("unexpected mentions %v", got)
	}
	threads, err := service.ListNotes(context.Background(), "group-1", "sub-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if got := threads[0].Note.Mentions(); !reflect.DeepEqual(got, []string{"bob", "ana"}) {
		t.Fatalf("expected mentions to persist, got %v", got)
	}
}
