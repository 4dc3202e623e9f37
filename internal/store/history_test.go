package store

import (
	"context"
	"strings"
	"testing"
)

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "doc-a", RoleUser, "what is the due date?"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "doc-a", RoleAssistant, "thirty days"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "doc-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("roles: got %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func Test_Store_RecentLimitKeepsNewest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three", "four", "five", "six"} {
		if err := s.Append(ctx, "doc-b", RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "doc-b", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("want 4 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[3].Content != "six" {
		t.Errorf("want three..six oldest-first, got %q..%q", msgs[0].Content, msgs[3].Content)
	}
}

func Test_Store_ThreadIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "x", RoleUser, "from x"); err != nil {
		t.Fatalf("append x: %v", err)
	}
	if err := s.Append(ctx, "", RoleUser, "global"); err != nil {
		t.Fatalf("append global: %v", err)
	}

	msgsX, _ := s.Recent(ctx, "x", 10)
	msgsG, _ := s.Recent(ctx, "", 10)
	if len(msgsX) != 1 || msgsX[0].Content != "from x" {
		t.Errorf("thread x isolation failed: got %v", msgsX)
	}
	if len(msgsG) != 1 || msgsG[0].Content != "global" {
		t.Errorf("global thread isolation failed: got %v", msgsG)
	}

	if err := s.ClearThread(ctx, "x"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if msgsX, _ = s.Recent(ctx, "x", 10); len(msgsX) != 0 {
		t.Errorf("want empty thread after clear, got %d", len(msgsX))
	}
}

func Test_Store_AppendTurn(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, q := range []string{"q1", "q2"} {
		if err := s.AppendTurn(ctx, "doc-c", q, "a-"+q); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "doc-c", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	got := make([]string, len(msgs))
	for i, m := range msgs {
		got[i] = string(m.Role) + ":" + m.Content
	}
	want := []string{"assistant:a-q1", "user:q2", "assistant:a-q2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("recent = %v, want %v", got, want)
	}
}

func Test_Store_AppendTurnCanceled(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.AppendTurn(ctx, "doc-d", "q", "a"); err == nil {
		t.Fatal("expected error on canceled context")
	}
	msgs, err := s.Recent(context.Background(), "doc-d", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("partial turn stored: %v", msgs)
	}
}

func Test_Store_RecentNonPositive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if err := s.Append(context.Background(), "doc-e", RoleUser, "q"); err != nil {
		t.Fatal(err)
	}
	if msgs, err := s.Recent(context.Background(), "doc-e", 0); err != nil || len(msgs) != 0 {
		t.Errorf("Recent(0) = %v, %v", msgs, err)
	}
}
