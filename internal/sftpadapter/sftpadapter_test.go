package sftpadapter

import "testing"

func TestCheckChunkOrderAcceptsNextExpected(t *testing.T) {
	if err := checkChunkOrder(0, 0); err != nil {
		t.Fatalf("expected chunk 0 to be accepted when none received, got %v", err)
	}
	if err := checkChunkOrder(3, 3); err != nil {
		t.Fatalf("expected chunk 3 to be accepted when 3 already received, got %v", err)
	}
}

func TestCheckChunkOrderRejectsGap(t *testing.T) {
	// Scenario 6: chunks 0,1,2 received, then chunk 4 arrives.
	if err := checkChunkOrder(3, 4); err != ErrNonContiguousChunk {
		t.Fatalf("expected ErrNonContiguousChunk for a skipped chunk, got %v", err)
	}
}

func TestCheckChunkOrderRejectsReplay(t *testing.T) {
	if err := checkChunkOrder(3, 1); err != ErrNonContiguousChunk {
		t.Fatalf("expected ErrNonContiguousChunk for a replayed chunk, got %v", err)
	}
}
