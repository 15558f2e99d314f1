package snowflake

import "testing"

func TestNewRejectsBadWorkerID(t *testing.T) {
	if _, err := New(-1); err != ErrInvalidWorkerID {
		t.Fatalf("expected ErrInvalidWorkerID, got %v", err)
	}
	if _, err := New(1024); err != ErrInvalidWorkerID {
		t.Fatalf("expected ErrInvalidWorkerID, got %v", err)
	}
}

func TestGenerateMonotonic(t *testing.T) {
	g, err := New(7)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var prev int64
	for i := 0; i < 1000; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestParseRoundTrip(t *testing.T) {
	g, _ := New(42)
	id, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, workerID, _ := Parse(id)
	if workerID != 42 {
		t.Fatalf("expected worker 42, got %d", workerID)
	}
}
