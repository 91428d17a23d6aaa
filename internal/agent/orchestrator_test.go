package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/aide/internal/engine"
	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/tools"
)

type stubSearcher struct {
	searchFn func(owner, query string, limit int) string
}

func (s *stubSearcher) Search(_ context.Context, owner, query string, limit int) string {
	return s.searchFn(owner, query, limit)
}

func assistantTurns(t *testing.T, st *storage.Store) []storage.Turn {
	t.Helper()
	turns, err := st.RecentTurns(testUser.ID, 100)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	var out []storage.Turn
	for _, turn := range turns {
		if turn.Role == storage.RoleAssistant {
			out = append(out, turn)
		}
	}
	return out
}

func TestHandleUserMessage_DirectAnswer(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return text("Hello Pat."), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	got := o.HandleUserMessage(context.Background(), testUser, "hi there")
	if got != "Hello Pat." {
		t.Errorf("reply = %q", got)
	}
	if comp.calls.Load() != 1 {
		t.Errorf("completions = %d, want 1", comp.calls.Load())
	}

	turns, _ := st.RecentTurns(testUser.ID, 10)
	if len(turns) != 2 || turns[0].Role != storage.RoleUser || turns[1].Content != "Hello Pat." {
		t.Errorf("persisted turns = %+v", turns)
	}
}

func TestHandleUserMessage_EmptyText(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		t.Error("model must not be called for empty input")
		return engine.Completion{}, nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	if got := o.HandleUserMessage(context.Background(), testUser, "   "); got != emptyReply {
		t.Errorf("reply = %q", got)
	}
	turns, _ := st.RecentTurns(testUser.ID, 10)
	if len(turns) != 0 {
		t.Errorf("expected nothing persisted, got %d turns", len(turns))
	}
}

func TestHandleUserMessage_DepthBound(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(n int, _ []engine.Message) (engine.Completion, error) {
		return toolCall("c", tools.CreateTask, `{"type":"loop","description":"again","context":"x"}`), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{MaxDepth: 3})

	got := o.HandleUserMessage(context.Background(), testUser, "keep going")
	if got != exhaustedReply {
		t.Errorf("reply = %q", got)
	}
	if comp.calls.Load() != 3 {
		t.Errorf("completions = %d, want 3", comp.calls.Load())
	}
	tasks, _ := st.ListTasks(testUser.ID)
	if len(tasks) != 3 {
		t.Errorf("tool calls executed = %d, want 3", len(tasks))
	}
	if a := assistantTurns(t, st); len(a) != 1 || a[0].Content != exhaustedReply {
		t.Errorf("assistant turns = %+v", a)
	}
}

func TestHandleUserMessage_DefaultDepth(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return toolCall("c", "no_such_tool", `{}`), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	if got := o.HandleUserMessage(context.Background(), testUser, "go"); got != exhaustedReply {
		t.Errorf("reply = %q", got)
	}
	if comp.calls.Load() != DefaultMaxDepth {
		t.Errorf("completions = %d, want %d", comp.calls.Load(), DefaultMaxDepth)
	}
}

func TestHandleUserMessage_SequentialToolCalls(t *testing.T) {
	st := openTestStore(t)
	crm := &fakeCRM{}
	conn := &fakeConnector{mail: &fakeMail{}, crm: crm}

	comp := &scriptedCompleter{completeFn: func(n int, msgs []engine.Message) (engine.Completion, error) {
		switch n {
		case 1:
			return toolCall("c1", tools.SearchContact, `{"query":"jo@example.com"}`), nil
		case 2:
			last := msgs[len(msgs)-1]
			if last.Role != engine.RoleTool || last.ToolName != tools.SearchContact || last.ToolCallID != "c1" {
				t.Errorf("second completion should see the search result, got %+v", last)
			}
			return toolCall("c2", tools.CreateContact, `{"email":"jo@example.com","firstname":"Jo"}`), nil
		default:
			return text("Added Jo to HubSpot."), nil
		}
	}}
	o := New(comp, st, tools.Deps{Connector: conn}, Config{})

	got := o.HandleUserMessage(context.Background(), testUser, "add jo@example.com to hubspot")
	if got != "Added Jo to HubSpot." {
		t.Errorf("reply = %q", got)
	}
	if comp.calls.Load() != 3 {
		t.Errorf("completions = %d, want 3", comp.calls.Load())
	}
	if crm.created.Load() != 1 {
		t.Errorf("contacts created = %d", crm.created.Load())
	}

	conv := comp.last()
	// system, user, (assistant call, tool result) x2
	if len(conv) != 6 {
		t.Fatalf("final conversation has %d messages, want 6", len(conv))
	}
	if conv[2].ToolCall == nil || conv[2].ToolCall.Name != tools.SearchContact {
		t.Errorf("conv[2] = %+v", conv[2])
	}
	if !strings.HasPrefix(conv[5].Content, "Contact created with ID: c-new") {
		t.Errorf("conv[5] = %q", conv[5].Content)
	}
	if a := assistantTurns(t, st); len(a) != 1 {
		t.Errorf("only the final reply should be persisted, got %d assistant turns", len(a))
	}
}

func TestHandleUserMessage_EmptyFinalContentFallsBack(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(n int, _ []engine.Message) (engine.Completion, error) {
		if n == 1 {
			return toolCall("c1", tools.CreateTask, `{"type":"t","description":"d","context":"c"}`), nil
		}
		return text("  "), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	if got := o.HandleUserMessage(context.Background(), testUser, "make a task"); got != fallbackReply {
		t.Errorf("reply = %q", got)
	}
}

func TestHandleUserMessage_ToolFailureIsFedBack(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(n int, msgs []engine.Message) (engine.Completion, error) {
		if n == 1 {
			return toolCall("c1", tools.SendMessage, `{"to":"jo@example.com","subject":"s","body":"b"}`), nil
		}
		if last := msgs[len(msgs)-1].Content; !strings.HasPrefix(last, "Error sending email:") {
			t.Errorf("tool result = %q", last)
		}
		return text("I could not send it."), nil
	}}
	// No mail service: the dispatcher reports the failure as text.
	o := New(comp, st, tools.Deps{Connector: &fakeConnector{}}, Config{})

	if got := o.HandleUserMessage(context.Background(), testUser, "email jo"); got != "I could not send it." {
		t.Errorf("reply = %q", got)
	}
}

func TestHandleUserMessage_CompletionError(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return engine.Completion{}, errors.New("backend unavailable")
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	got := o.HandleUserMessage(context.Background(), testUser, "hello")
	if got != errorReply+"backend unavailable" {
		t.Errorf("reply = %q", got)
	}
	if a := assistantTurns(t, st); len(a) != 1 || a[0].Content != got {
		t.Errorf("error reply should be persisted, got %+v", a)
	}
}

func TestHandleUserMessage_HistoryReplayed(t *testing.T) {
	st := openTestStore(t)
	replies := []string{"first answer", "second answer"}
	comp := &scriptedCompleter{completeFn: func(n int, _ []engine.Message) (engine.Completion, error) {
		return text(replies[n-1]), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})
	ctx := context.Background()

	o.HandleUserMessage(ctx, testUser, "question one")
	o.HandleUserMessage(ctx, testUser, "question two")

	conv := comp.last()
	var got []string
	for _, m := range conv[1:] {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	want := []string{"user:question one", "assistant:first answer", "user:question two"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("replayed history = %v, want %v", got, want)
	}
}

func TestHandleUserMessage_StandingInstructionRecorded(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return text("Understood."), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})
	ctx := context.Background()

	// Prime the cache so the invalidation is observable.
	o.HandleUserMessage(ctx, testUser, "hello")
	o.HandleUserMessage(ctx, testUser, "Always add new senders to HubSpot.")

	list, err := st.ActiveInstructions(testUser.ID)
	if err != nil {
		t.Fatalf("ActiveInstructions: %v", err)
	}
	if len(list) != 1 || list[0].Text != "Always add new senders to HubSpot." {
		t.Fatalf("instructions = %+v", list)
	}
	system := comp.last()[0].Content
	if !strings.Contains(system, "ONGOING INSTRUCTIONS:\n- Always add new senders to HubSpot.") {
		t.Errorf("system prompt lacks the new instruction:\n%s", system)
	}
}

func TestHandleUserMessage_OrdinaryMessageNotRecorded(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return text("ok"), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	o.HandleUserMessage(context.Background(), testUser, "What is on my calendar today?")
	list, _ := st.ActiveInstructions(testUser.ID)
	if len(list) != 0 {
		t.Errorf("instructions = %+v", list)
	}
}

func TestScenarioA_KnowledgeSearch(t *testing.T) {
	st := openTestStore(t)
	var gotQuery, gotOwner string
	searcher := &stubSearcher{searchFn: func(owner, query string, limit int) string {
		gotOwner, gotQuery = owner, query
		return "=== Relevant Emails ===\nFrom: John Doe (john@example.com)\nSubject: Portfolio\nDate: 2026-01-02T10:00:00\nBody: Let's move 20% into bonds.\n\n"
	}}
	comp := &scriptedCompleter{completeFn: func(n int, msgs []engine.Message) (engine.Completion, error) {
		if n == 1 {
			return toolCall("c1", tools.SearchKnowledgeBase, `{"query":"John's last email"}`), nil
		}
		result := msgs[len(msgs)-1].Content
		if !strings.Contains(result, "bonds") {
			return text("nothing found"), nil
		}
		return text("John asked to move 20% into bonds."), nil
	}}
	o := New(comp, st, tools.Deps{Knowledge: searcher}, Config{})

	got := o.HandleUserMessage(context.Background(), testUser, "What did John say in his last email?")
	if !strings.Contains(got, "bonds") {
		t.Errorf("reply = %q", got)
	}
	if gotOwner != testUser.ID || gotQuery != "John's last email" {
		t.Errorf("search owner=%q query=%q", gotOwner, gotQuery)
	}
	if a := assistantTurns(t, st); len(a) != 1 {
		t.Errorf("assistant turns = %d, want 1", len(a))
	}
}

func TestHandleExternalEvent_NoInstructionsSkipsModel(t *testing.T) {
	st := openTestStore(t)
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return text("acted"), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	got := o.HandleExternalEvent(context.Background(), testUser, MailEvent(gateway.MailMessage{ID: "m1", From: "jo@example.com"}))
	if got != "" {
		t.Errorf("reply = %q", got)
	}
	if comp.calls.Load() != 0 {
		t.Errorf("completions = %d, want 0", comp.calls.Load())
	}
}

func TestHandleExternalEvent_ActsOnInstruction(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.AddInstruction(testUser.ID, "When someone emails me who is not in HubSpot, add them."); err != nil {
		t.Fatal(err)
	}
	crm := &fakeCRM{}
	mail := &fakeMail{}
	conn := &fakeConnector{mail: mail, crm: crm}

	comp := &scriptedCompleter{completeFn: func(n int, msgs []engine.Message) (engine.Completion, error) {
		switch n {
		case 1:
			if msgs[0].Role != engine.RoleSystem || msgs[0].Content != proactivePersona {
				t.Errorf("system message = %+v", msgs[0])
			}
			prompt := msgs[1].Content
			for _, want := range []string{"New email received:", "From: Jo Smith <jo@example.com>", "- When someone emails me"} {
				if !strings.Contains(prompt, want) {
					t.Errorf("event prompt missing %q:\n%s", want, prompt)
				}
			}
			return toolCall("c1", tools.CreateContact, `{"email":"jo@example.com","firstname":"Jo"}`), nil
		default:
			return text("Added Jo."), nil
		}
	}}
	o := New(comp, st, tools.Deps{Connector: conn}, Config{})

	ev := MailEvent(gateway.MailMessage{ID: "m1", ThreadID: "t1", From: "Jo Smith <jo@example.com>", Subject: "Hello", Body: "Hi there"})
	if got := o.HandleExternalEvent(context.Background(), testUser, ev); got != "Added Jo." {
		t.Errorf("reply = %q", got)
	}
	if crm.created.Load() != 1 {
		t.Errorf("contacts created = %d", crm.created.Load())
	}
	if mail.sends.Load() != 1 {
		t.Errorf("welcome emails sent = %d", mail.sends.Load())
	}
	turns, _ := st.RecentTurns(testUser.ID, 10)
	if len(turns) != 0 {
		t.Errorf("external events must not be persisted, got %d turns", len(turns))
	}
}

func TestHandleExternalEvent_CalendarPrompt(t *testing.T) {
	st := openTestStore(t)
	st.AddInstruction(testUser.ID, "Whenever a meeting is added, email the attendees a reminder.")
	comp := &scriptedCompleter{completeFn: func(int, []engine.Message) (engine.Completion, error) {
		return text("nothing to do"), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	ev := CalendarEvent(gateway.CalendarEvent{ID: "e1", Summary: "Review", Start: start, End: start.Add(time.Hour), Attendees: []string{"a@example.com", "b@example.com"}})
	o.HandleExternalEvent(context.Background(), testUser, ev)

	prompt := comp.last()[1].Content
	for _, want := range []string{"New calendar event:", "Title: Review", "Start: 2026-03-04T10:00:00", "Attendees: a@example.com, b@example.com"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestOrchestrator_ConcurrentUsersIsolated(t *testing.T) {
	st := openTestStore(t)
	other := storage.User{ID: "u2", Email: "other@example.com"}
	if err := st.UpsertUser(other); err != nil {
		t.Fatal(err)
	}
	comp := &scriptedCompleter{completeFn: func(_ int, msgs []engine.Message) (engine.Completion, error) {
		last := msgs[len(msgs)-1]
		if last.Role == engine.RoleTool {
			return text("done"), nil
		}
		return toolCall("c", tools.CreateTask, `{"type":"t","description":"`+last.Content+`","context":"c"}`), nil
	}}
	o := New(comp, st, tools.Deps{}, Config{})

	done := make(chan struct{})
	for _, u := range []storage.User{testUser, other} {
		go func(u storage.User) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 5; i++ {
				o.HandleUserMessage(context.Background(), u, "task for "+u.ID)
			}
		}(u)
	}
	<-done
	<-done

	for _, u := range []storage.User{testUser, other} {
		tasks, err := st.ListTasks(u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(tasks) != 5 {
			t.Errorf("%s: tasks = %d, want 5", u.ID, len(tasks))
		}
		for _, task := range tasks {
			if task.Description != "task for "+u.ID {
				t.Errorf("%s got task %q", u.ID, task.Description)
			}
		}
	}
}

func TestSearch_Passthrough(t *testing.T) {
	o := New(&scriptedCompleter{}, openTestStore(t), tools.Deps{
		Knowledge:   &stubSearcher{searchFn: func(owner, q string, limit int) string { return owner + "|" + q }},
		SearchLimit: 5,
	}, Config{})
	if got := o.Search(context.Background(), testUser, "bonds", 0); got != "u1|bonds" {
		t.Errorf("got %q", got)
	}
}
