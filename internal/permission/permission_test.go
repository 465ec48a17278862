package permission

import (
	"testing"

	"github.com/agentgate/agentgate/internal/common/logger"
)

func TestDetectLiteralMarker(t *testing.T) {
	matched, prompt := Detect("Delete the old config file (y/n)")
	if !matched {
		t.Fatal("expected a (y/n) marker to be detected")
	}
	if prompt != "Permission required to proceed" {
		t.Fatalf("expected the default prompt when no line holds a stem or ends in '?', got %q", prompt)
	}
}

func TestDetectConversationalStem(t *testing.T) {
	matched, prompt := Detect("I found the bug. Should I fix it now?")
	if !matched {
		t.Fatal("expected conversational stem 'should i' to be detected")
	}
	if prompt == "" {
		t.Fatal("expected a non-empty extracted prompt")
	}
}

func TestDetectNoMatchForPlainText(t *testing.T) {
	matched, _ := Detect("Here is the result of the computation: 42.")
	if matched {
		t.Fatal("did not expect plain declarative text to be detected as a permission question")
	}
}

func TestExtractFallsBackToDefaultPrompt(t *testing.T) {
	got := Extract("Just some unrelated assistant chatter with a permission mention.")
	if got == "" {
		t.Fatal("expected a non-empty extraction even without a question line")
	}
}

func TestApprovalRecognizesExactAndPhrases(t *testing.T) {
	for _, yes := range []string{"yes", "y", "Yep.", "sounds good", "please proceed"} {
		if !Approval(yes) {
			t.Errorf("expected %q to be recognized as approval", yes)
		}
	}
	if Approval("no thanks") {
		t.Fatal("did not expect a denial phrase to be recognized as approval")
	}
}

func TestExtractDeliverablesPullsFencedBlocks(t *testing.T) {
	text := "Here:\n```go\nfmt.Println(1)\n```\nand also\n```\nplain\n```"
	got := ExtractDeliverables(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 deliverables, got %d: %+v", len(got), got)
	}
	if got[0].Language != "go" {
		t.Fatalf("expected first block language 'go', got %q", got[0].Language)
	}
}

func TestCoordinatorBeginCoalescesWhileAwaiting(t *testing.T) {
	c := New(logger.Default())
	if _, ok := c.Begin("s1", "delete files?"); !ok {
		t.Fatal("expected the first Begin to succeed")
	}
	if _, ok := c.Begin("s1", "a different question?"); ok {
		t.Fatal("expected a second Begin while AwaitingResponse to coalesce (ok=false)")
	}
}

func TestCoordinatorResolveApproved(t *testing.T) {
	c := New(logger.Default())
	c.RequestWithPending("s1", "delete files?", PendingFinal{Text: "done"})

	result := c.Resolve("s1", "yes")
	if result.Outcome != OutcomeApproved {
		t.Fatalf("expected OutcomeApproved, got %v", result.Outcome)
	}
	if result.Pending.Text != "done" {
		t.Fatalf("expected the attached pending payload returned, got %+v", result.Pending)
	}
	if c.IsAwaiting("s1") {
		t.Fatal("expected the session to return to Idle after Resolve")
	}
}

func TestCoordinatorResolveDenied(t *testing.T) {
	c := New(logger.Default())
	c.RequestWithPending("s1", "delete files?", PendingFinal{Text: "done"})

	result := c.Resolve("s1", "no")
	if result.Outcome != OutcomeDenied {
		t.Fatalf("expected OutcomeDenied, got %v", result.Outcome)
	}
}

func TestCoordinatorResolveForwardsAnythingElse(t *testing.T) {
	c := New(logger.Default())
	c.RequestWithPending("s1", "delete files?", PendingFinal{Text: "done"})

	result := c.Resolve("s1", "actually, delete the other file instead")
	if result.Outcome != OutcomeForwarded {
		t.Fatalf("expected OutcomeForwarded for a non-approval non-denial reply, got %v", result.Outcome)
	}
}

func TestCoordinatorResolveWithoutPendingIsNone(t *testing.T) {
	c := New(logger.Default())
	if _, ok := c.Begin("s1", "delete files?"); !ok {
		t.Fatal("expected Begin to succeed")
	}
	result := c.Resolve("s1", "yes")
	if result.Outcome != OutcomeNone {
		t.Fatalf("expected OutcomeNone when an approval arrives with no pending payload attached, got %v", result.Outcome)
	}
}

func TestCoordinatorClearDropsState(t *testing.T) {
	c := New(logger.Default())
	c.Begin("s1", "delete files?")
	c.Clear("s1")
	if c.IsAwaiting("s1") {
		t.Fatal("expected Clear to drop AwaitingResponse state")
	}
}
