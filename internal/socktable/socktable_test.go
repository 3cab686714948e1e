package socktable

import "testing"

type fakeSocket struct {
	closed bool
	err    error
}

func (f *fakeSocket) Close() error {
	f.closed = true
	return f.err
}

func TestInsertAllocatesFromOne(t *testing.T) {
	tb := NewTable()
	sid, err := tb.Insert(&fakeSocket{})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if sid != 1 {
		t.Fatalf("first sid = %d, want 1", sid)
	}
}

func TestGetUnknownSidIsError(t *testing.T) {
	tb := NewTable()
	if _, err := tb.Get(5); err != ErrInvalidSid {
		t.Fatalf("Get(5) err = %v, want ErrInvalidSid", err)
	}
}

func TestCloseRemovesAndClosesSocket(t *testing.T) {
	tb := NewTable()
	s := &fakeSocket{}
	sid, _ := tb.Insert(s)
	if err := tb.Close(sid); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.closed {
		t.Fatalf("expected underlying socket to be closed")
	}
	if _, err := tb.Get(sid); err != ErrInvalidSid {
		t.Fatalf("sid should be gone after Close, got err=%v", err)
	}
	if err := tb.Close(sid); err != ErrInvalidSid {
		t.Fatalf("double Close should yield ErrInvalidSid, got %v", err)
	}
}

func TestCloseAllClosesEverything(t *testing.T) {
	tb := NewTable()
	var sockets []*fakeSocket
	for i := 0; i < 5; i++ {
		s := &fakeSocket{}
		sockets = append(sockets, s)
		tb.Insert(s)
	}
	if err := tb.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	for i, s := range sockets {
		if !s.closed {
			t.Fatalf("socket %d was not closed", i)
		}
	}
	if tb.Len() != 0 {
		t.Fatalf("expected empty table after CloseAll, got %d", tb.Len())
	}
}

func TestWraparoundSkipsOccupiedSids(t *testing.T) {
	tb := NewTable()
	tb.next = maxSid // force the next allocation to wrap immediately

	occupying := &fakeSocket{}
	sid, err := tb.Insert(occupying)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if sid != maxSid {
		t.Fatalf("sid = %d, want %d", sid, maxSid)
	}

	// next wrapped to 1; manually occupy 1 and 2 to verify the allocator
	// steps past live sids instead of overwriting them.
	tb.sockets[1] = &fakeSocket{}
	tb.sockets[2] = &fakeSocket{}
	tb.next = 1

	next, err := tb.Insert(&fakeSocket{})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if next != 3 {
		t.Fatalf("expected allocator to skip occupied sids 1 and 2, got sid=%d", next)
	}
}

func TestSidRangeStaysWithinBounds(t *testing.T) {
	tb := NewTable()
	for i := 0; i < maxSid; i++ {
		sid, err := tb.Insert(&fakeSocket{})
		if err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
		if sid < minSid || sid > maxSid {
			t.Fatalf("sid %d out of range [%d,%d]", sid, minSid, maxSid)
		}
	}
	if _, err := tb.Insert(&fakeSocket{}); err == nil {
		t.Fatalf("expected an error once all %d sids are occupied", maxSid)
	}
}
