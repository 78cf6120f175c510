package main

import "testing"

func TestBeginLoadReservesSingleInFlightSlot(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	if !pages.beginLoad("c1", 1) {
		t.Fatalf("first beginLoad should succeed")
	}
	if pages.beginLoad("c1", 2) {
		t.Fatalf("second beginLoad while in flight must be dropped")
	}
	pages.finishLoad("c1", 1, true, true)
	if !pages.beginLoad("c1", 2) {
		t.Fatalf("beginLoad after finish should succeed")
	}
}

func TestBeginLoadRefusesOlderPagesWhenExhausted(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	pages.beginLoad("c1", 2)
	pages.finishLoad("c1", 2, false, true)

	if pages.hasMore("c1") {
		t.Fatalf("hasMore should be false after exhausted fetch")
	}
	if pages.beginLoad("c1", 3) {
		t.Fatalf("older page request must be refused with no more history")
	}
	// Page 1 is always allowed and resets the exhausted state.
	if !pages.beginLoad("c1", 1) {
		t.Fatalf("page 1 reload should always be allowed")
	}
	if !pages.hasMore("c1") {
		t.Fatalf("page 1 begin should clear the exhausted flag until fetch completes")
	}
}

func TestFinishLoadFailureLeavesBookkeepingUntouched(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	pages.beginLoad("c1", 1)
	pages.finishLoad("c1", 1, true, true)

	pages.beginLoad("c1", 2)
	pages.finishLoad("c1", 2, false, false)

	if pages.nextPage("c1") != 2 {
		t.Fatalf("failed fetch advanced the page cursor: next=%d", pages.nextPage("c1"))
	}
	if !pages.hasMore("c1") {
		t.Fatalf("failed fetch flipped hasMore")
	}
	if !pages.beginLoad("c1", 2) {
		t.Fatalf("in-flight slot not released after failure")
	}
}

func TestResetReturnsToFreshlySentState(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	pages.beginLoad("c1", 3)
	pages.finishLoad("c1", 3, false, true)

	pages.reset("c1")
	if pages.nextPage("c1") != 2 {
		t.Fatalf("reset should land on page 1, next=%d", pages.nextPage("c1"))
	}
	if !pages.hasMore("c1") {
		t.Fatalf("reset should assume older history exists")
	}
}

func TestResetKeepsInFlightSlotReserved(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	if !pages.beginLoad("c1", 2) {
		t.Fatalf("first beginLoad should succeed")
	}
	pages.reset("c1")
	if pages.beginLoad("c1", 2) {
		t.Fatalf("reset must not release an outstanding page request")
	}
	pages.finishLoad("c1", 2, false, true)
	if !pages.beginLoad("c1", 1) {
		t.Fatalf("slot should free once the outstanding fetch finishes")
	}
}

func TestRekeyMovesCursorToConfirmedID(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	pages.beginLoad("local-abc", 1)
	pages.finishLoad("local-abc", 1, false, true)

	pages.rekey("local-abc", "c-confirmed")
	if pages.hasMore("c-confirmed") {
		t.Fatalf("cursor state lost during rekey")
	}
	if _, ok := pages.cursors["local-abc"]; ok {
		t.Fatalf("old key should be removed")
	}
}

func TestDropForgetsConversation(t *testing.T) {
	t.Parallel()

	pages := newPageSet()
	pages.beginLoad("c1", 2)
	pages.finishLoad("c1", 2, false, true)
	pages.drop("c1")

	// A fresh cursor starts with hasMore=true.
	if !pages.hasMore("c1") {
		t.Fatalf("dropped cursor should not retain state")
	}
}
