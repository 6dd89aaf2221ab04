package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingNotifier captures post-commit pushes for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	requests []Conversation
	accepted []Conversation
	rejected []Conversation
	messages []Message
	msgConvs []Conversation
}

func (n *recordingNotifier) NewRequest(c Conversation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, c)
}

func (n *recordingNotifier) RequestAccepted(c Conversation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted = append(n.accepted, c)
}

func (n *recordingNotifier) RequestRejected(c Conversation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, c)
}

func (n *recordingNotifier) NewMessage(c Conversation, m Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgConvs = append(n.msgConvs, c)
	n.messages = append(n.messages, m)
}

type mutualFunc func(ctx context.Context, a, b string) (bool, error)

func (f mutualFunc) HaveMutualInterest(ctx context.Context, a, b string) (bool, error) {
	return f(ctx, a, b)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *recordingNotifier) {
	t.Helper()
	store := NewMemoryStore()
	n := &recordingNotifier{}
	all := append([]Option{WithNotifier(n)}, opts...)
	return NewService(testLogger(), store, store, all...), n
}

func TestStartConversationValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		initiator string
		recipient string
		text      string
	}{
		{name: "empty initiator", initiator: "", recipient: "bob", text: "hi"},
		{name: "empty recipient", initiator: "alice", recipient: "", text: "hi"},
		{name: "self conversation", initiator: "alice", recipient: "alice", text: "hi"},
		{name: "empty intro", initiator: "alice", recipient: "bob", text: "   "},
		{name: "oversize intro", initiator: "alice", recipient: "bob", text: strings.Repeat("x", 1001)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.StartConversation(ctx, tc.initiator, tc.recipient, tc.text)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err=%v want ErrInvalidArgument", err)
			}
		})
	}
}

func TestStartConversationPending(t *testing.T) {
	t.Parallel()

	svc, n := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "want to trade?")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if conv.Status != StatusPending {
		t.Fatalf("status=%q want pending", conv.Status)
	}
	if conv.IntroMaterialized {
		t.Fatalf("intro must not materialize while pending")
	}
	if conv.UnreadFor("bob") != 1 {
		t.Fatalf("recipient unread=%d want 1", conv.UnreadFor("bob"))
	}
	if conv.UnreadFor("alice") != 0 {
		t.Fatalf("initiator unread=%d want 0", conv.UnreadFor("alice"))
	}
	if conv.LastMessage != "want to trade?" {
		t.Fatalf("snippet=%q", conv.LastMessage)
	}

	// Pending conversation holds no messages yet.
	msgs, err := svc.GetConversationMessages(ctx, conv.ID, "bob", 0, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages=%d want 0", len(msgs))
	}

	if len(n.requests) != 1 || n.requests[0].ID != conv.ID {
		t.Fatalf("request push missing: %+v", n.requests)
	}
}

func TestStartConversationPairUniqueness(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Duplicate while pending, in both directions.
	if _, err := svc.StartConversation(ctx, "alice", "bob", "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate err=%v want ErrConflict", err)
	}
	if _, err := svc.StartConversation(ctx, "bob", "alice", "reverse"); !errors.Is(err, ErrConflict) {
		t.Fatalf("reverse duplicate err=%v want ErrConflict", err)
	}

	// Still blocked after accept.
	if _, err := svc.AcceptRequest(ctx, first.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.StartConversation(ctx, "alice", "bob", "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("post-accept duplicate err=%v want ErrConflict", err)
	}
}

func TestRejectFreesThePair(t *testing.T) {
	t.Parallel()

	svc, n := newTestService(t)
	ctx := context.Background()

	first, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rejected, err := svc.RejectRequest(ctx, first.ID, "bob")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("status=%q want rejected", rejected.Status)
	}
	if len(n.rejected) != 1 {
		t.Fatalf("reject push missing")
	}

	// Rejected conversation accepts no messages from either side.
	if _, err := svc.SendMessage(ctx, first.ID, "alice", "please"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("send into rejected err=%v want ErrForbidden", err)
	}
	if _, err := svc.SendMessage(ctx, first.ID, "bob", "no"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("send into rejected err=%v want ErrForbidden", err)
	}

	// A new request for the same pair is allowed and distinct.
	second, err := svc.StartConversation(ctx, "alice", "bob", "second try")
	if err != nil {
		t.Fatalf("new request after reject: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("new request reused conversation id")
	}
}

func TestTransitionPermissions(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cases := []struct {
		name    string
		actor   string
		wantErr error
	}{
		{name: "initiator cannot accept", actor: "alice", wantErr: ErrForbidden},
		{name: "stranger cannot accept", actor: "mallory", wantErr: ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AcceptRequest(ctx, conv.ID, tc.actor); !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
		})
	}

	if _, err := svc.AcceptRequest(ctx, "no-such-id", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing conversation err=%v want ErrNotFound", err)
	}

	// Resolve, then every further transition is rejected.
	if _, err := svc.AcceptRequest(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, conv.ID, "bob"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double accept err=%v want ErrInvalidTransition", err)
	}
	if _, err := svc.RejectRequest(ctx, conv.ID, "bob"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject after accept err=%v want ErrInvalidTransition", err)
	}
}

func TestAcceptMaterializesIntroOnce(t *testing.T) {
	t.Parallel()

	svc, n := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "hello bob")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	accepted, err := svc.AcceptRequest(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Fatalf("status=%q want accepted", accepted.Status)
	}
	if !accepted.IntroMaterialized {
		t.Fatalf("intro not materialized on accept")
	}
	// Accepting counts as having read the request preview.
	if accepted.UnreadFor("bob") != 0 {
		t.Fatalf("recipient unread=%d want 0 after accept", accepted.UnreadFor("bob"))
	}
	if len(n.accepted) != 1 {
		t.Fatalf("accept push missing")
	}

	msgs, err := svc.GetConversationMessages(ctx, conv.ID, "alice", 0, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(msgs))
	}
	if msgs[0].Seq != 1 || msgs[0].SenderID != "alice" || msgs[0].Content != "hello bob" {
		t.Fatalf("intro message wrong: %+v", msgs[0])
	}
	if !msgs[0].IsRead {
		t.Fatalf("intro must be read after accept")
	}
}

func TestMutualInterestPreAccepts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("match skips the request stage", func(t *testing.T) {
		svc, _ := newTestService(t, WithMutualInterest(mutualFunc(
			func(_ context.Context, _, _ string) (bool, error) { return true, nil },
		)))

		conv, err := svc.StartConversation(ctx, "alice", "bob", "we match")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if conv.Status != StatusAccepted {
			t.Fatalf("status=%q want accepted", conv.Status)
		}
		if !conv.IntroMaterialized {
			t.Fatalf("intro not materialized")
		}
		// The recipient never saw the request, so the intro stays unread.
		if conv.UnreadFor("bob") != 1 {
			t.Fatalf("recipient unread=%d want 1", conv.UnreadFor("bob"))
		}

		msgs, err := svc.GetConversationMessages(ctx, conv.ID, "bob", 0, 50)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 1 || msgs[0].IsRead {
			t.Fatalf("want one unread intro message, got %+v", msgs)
		}
	})

	t.Run("collaborator error degrades to pending", func(t *testing.T) {
		svc, _ := newTestService(t, WithMutualInterest(mutualFunc(
			func(_ context.Context, _, _ string) (bool, error) { return false, errors.New("shelf service down") },
		)))

		conv, err := svc.StartConversation(ctx, "alice", "bob", "hello")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if conv.Status != StatusPending {
			t.Fatalf("status=%q want pending", conv.Status)
		}
	})
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	svc, n := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// No sends while pending, not even by the initiator.
	if _, err := svc.SendMessage(ctx, conv.ID, "alice", "early"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("send into pending err=%v want ErrForbidden", err)
	}

	if _, err := svc.AcceptRequest(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := svc.SendMessage(ctx, conv.ID, "mallory", "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger send err=%v want ErrForbidden", err)
	}
	if _, err := svc.SendMessage(ctx, conv.ID, "bob", "  "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("blank send err=%v want ErrInvalidArgument", err)
	}
	if _, err := svc.SendMessage(ctx, conv.ID, "bob", strings.Repeat("y", 1001)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("oversize send err=%v want ErrInvalidArgument", err)
	}

	msg, err := svc.SendMessage(ctx, conv.ID, "bob", "sure, which book?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Seq != 2 {
		t.Fatalf("seq=%d want 2 (intro holds 1)", msg.Seq)
	}
	if len(n.messages) != 1 || n.messages[0].ID != msg.ID {
		t.Fatalf("message push missing: %+v", n.messages)
	}

	// Unread bump lands on the counterpart.
	after, err := svc.CheckExistingConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if after.UnreadFor("alice") != 1 {
		t.Fatalf("initiator unread=%d want 1", after.UnreadFor("alice"))
	}
	if after.LastMessage != "sure, which book?" {
		t.Fatalf("snippet=%q", after.LastMessage)
	}
}

func TestGetConversationMessagesOrderingAndPaging(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "m1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for i := 2; i <= 7; i++ {
		sender := "alice"
		if i%2 == 0 {
			sender = "bob"
		}
		if _, err := svc.SendMessage(ctx, conv.ID, sender, "m"+string(rune('0'+i))); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if _, err := svc.GetConversationMessages(ctx, conv.ID, "mallory", 0, 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger list err=%v want ErrForbidden", err)
	}

	// Page 0 holds the newest messages but is delivered oldest-first.
	page0, err := svc.GetConversationMessages(ctx, conv.ID, "alice", 0, 3)
	if err != nil {
		t.Fatalf("page 0: %v", err)
	}
	wantSeqs := []int64{5, 6, 7}
	if len(page0) != len(wantSeqs) {
		t.Fatalf("page 0 len=%d want %d", len(page0), len(wantSeqs))
	}
	for i, m := range page0 {
		if m.Seq != wantSeqs[i] {
			t.Fatalf("page 0 [%d] seq=%d want %d", i, m.Seq, wantSeqs[i])
		}
	}

	page2, err := svc.GetConversationMessages(ctx, conv.ID, "alice", 2, 3)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 1 || page2[0].Seq != 1 {
		t.Fatalf("page 2 = %+v, want only seq 1", page2)
	}

	empty, err := svc.GetConversationMessages(ctx, conv.ID, "alice", 9, 3)
	if err != nil {
		t.Fatalf("page 9: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("page past the end len=%d want 0", len(empty))
	}
}

func TestMarkMessagesRead(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(ctx, conv.ID, "bob", "ping"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	before, _ := svc.CheckExistingConversation(ctx, "alice", "bob")
	if before.UnreadFor("alice") != 3 {
		t.Fatalf("unread=%d want 3", before.UnreadFor("alice"))
	}

	if err := svc.MarkMessagesRead(ctx, conv.ID, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger mark err=%v want ErrForbidden", err)
	}

	if err := svc.MarkMessagesRead(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	after, _ := svc.CheckExistingConversation(ctx, "alice", "bob")
	if after.UnreadFor("alice") != 0 {
		t.Fatalf("unread=%d want 0", after.UnreadFor("alice"))
	}
	// The counterpart's counter is untouched.
	if after.UnreadFor("bob") != before.UnreadFor("bob") {
		t.Fatalf("counterpart unread changed: %d -> %d", before.UnreadFor("bob"), after.UnreadFor("bob"))
	}

	// Idempotent.
	if err := svc.MarkMessagesRead(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	again, _ := svc.CheckExistingConversation(ctx, "alice", "bob")
	if again.UnreadFor("alice") != 0 {
		t.Fatalf("unread=%d want 0 after repeat", again.UnreadFor("alice"))
	}
}

func TestListings(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	// alice -> bob (accepted), alice -> carol (pending), dave -> alice (pending).
	ab, err := svc.StartConversation(ctx, "alice", "bob", "to bob")
	if err != nil {
		t.Fatalf("start ab: %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, ab.ID, "bob"); err != nil {
		t.Fatalf("accept ab: %v", err)
	}
	ac, err := svc.StartConversation(ctx, "alice", "carol", "to carol")
	if err != nil {
		t.Fatalf("start ac: %v", err)
	}
	da, err := svc.StartConversation(ctx, "dave", "alice", "to alice")
	if err != nil {
		t.Fatalf("start da: %v", err)
	}

	convs, err := svc.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != ab.ID {
		t.Fatalf("conversations=%+v want only %s", convs, ab.ID)
	}

	received, err := svc.ListReceivedRequests(ctx, "alice")
	if err != nil {
		t.Fatalf("list received: %v", err)
	}
	if len(received) != 1 || received[0].ID != da.ID {
		t.Fatalf("received=%+v want only %s", received, da.ID)
	}

	sent, err := svc.ListSentRequests(ctx, "alice")
	if err != nil {
		t.Fatalf("list sent: %v", err)
	}
	if len(sent) != 1 || sent[0].ID != ac.ID {
		t.Fatalf("sent=%+v want only %s", sent, ac.ID)
	}
}

func TestCheckExistingConversation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CheckExistingConversation(ctx, "alice", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty check err=%v want ErrNotFound", err)
	}

	conv, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Both orderings resolve to the same conversation.
	got, err := svc.CheckExistingConversation(ctx, "bob", "alice")
	if err != nil || got.ID != conv.ID {
		t.Fatalf("check: got=%+v err=%v", got, err)
	}

	if _, err := svc.RejectRequest(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := svc.CheckExistingConversation(ctx, "alice", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("post-reject check err=%v want ErrNotFound", err)
	}
}

func TestConcurrentSendsGetUniqueSeqs(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	seqCh := make(chan int64, workers*perWorker)

	for w := 0; w < workers; w++ {
		sender := "alice"
		if w%2 == 0 {
			sender = "bob"
		}
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				msg, err := svc.SendMessage(ctx, conv.ID, sender, "concurrent")
				if err != nil {
					t.Errorf("send: %v", err)
					return
				}
				seqCh <- msg.Seq
			}
		}(sender)
	}
	wg.Wait()
	close(seqCh)

	seen := make(map[int64]bool)
	for seq := range seqCh {
		if seen[seq] {
			t.Fatalf("duplicate seq %d", seq)
		}
		seen[seq] = true
	}
	// Intro holds seq 1; concurrent sends fill 2..workers*perWorker+1.
	if len(seen) != workers*perWorker {
		t.Fatalf("unique seqs=%d want %d", len(seen), workers*perWorker)
	}
}

func TestRequestLifecycleScenario(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	svc, _ := newTestService(t, WithClock(now))
	ctx := context.Background()

	// I sends R a request.
	conv, err := svc.StartConversation(ctx, "ivy", "ray", "Trade Dune for Hyperion?")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// R sees it in received requests with one unread.
	received, err := svc.ListReceivedRequests(ctx, "ray")
	if err != nil || len(received) != 1 {
		t.Fatalf("received=%+v err=%v", received, err)
	}
	if received[0].UnreadFor("ray") != 1 {
		t.Fatalf("unread=%d want 1", received[0].UnreadFor("ray"))
	}

	// R accepts; both sides now list the conversation, R's badge is clear.
	if _, err := svc.AcceptRequest(ctx, conv.ID, "ray"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, user := range []string{"ivy", "ray"} {
		convs, err := svc.ListConversations(ctx, user)
		if err != nil || len(convs) != 1 {
			t.Fatalf("%s conversations=%+v err=%v", user, convs, err)
		}
	}

	// I sends one more message; R's unread is exactly 1.
	if _, err := svc.SendMessage(ctx, conv.ID, "ivy", "It is a first edition."); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, _ := svc.CheckExistingConversation(ctx, "ivy", "ray")
	if got.UnreadFor("ray") != 1 {
		t.Fatalf("ray unread=%d want 1", got.UnreadFor("ray"))
	}

	// R opens the chat: intro then the follow-up, oldest first, times ascending.
	msgs, err := svc.GetConversationMessages(ctx, conv.ID, "ray", 0, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 1 || msgs[1].Seq != 2 {
		t.Fatalf("messages=%+v", msgs)
	}
	if msgs[1].SentAt.Before(msgs[0].SentAt) {
		t.Fatalf("timestamps regressed: %v then %v", msgs[0].SentAt, msgs[1].SentAt)
	}

	if err := svc.MarkMessagesRead(ctx, conv.ID, "ray"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	got, _ = svc.CheckExistingConversation(ctx, "ivy", "ray")
	if got.UnreadFor("ray") != 0 {
		t.Fatalf("ray unread=%d want 0", got.UnreadFor("ray"))
	}
}
