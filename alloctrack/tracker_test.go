package alloctrack

import "testing"

func TestRecordAllocAndFree(t *testing.T) {
	tr := New()
	tr.RecordAlloc(0x1000, 100)

	snap := tr.Snapshot()
	if snap.Active != 1 || snap.TotalAllocated != 100 {
		t.Fatalf("after alloc: %+v", snap)
	}

	tr.RecordFree(0x1000)
	snap = tr.Snapshot()
	if snap.Active != 0 || snap.TotalFreed != 100 {
		t.Fatalf("after free: %+v", snap)
	}
}

func TestNullPointersAreNoops(t *testing.T) {
	tr := New()
	tr.RecordAlloc(0, 100)
	tr.RecordFree(0)
	tr.UpdateSize(0, 50)

	snap := tr.Snapshot()
	if snap.Active != 0 || snap.TotalAllocated != 0 || snap.TotalFreed != 0 {
		t.Fatalf("null-pointer ops should be no-ops, got %+v", snap)
	}
}

func TestFreeUnknownPointerIsNoop(t *testing.T) {
	tr := New()
	tr.RecordFree(0xdead)
	snap := tr.Snapshot()
	if snap.Active != 0 || snap.TotalFreed != 0 {
		t.Fatalf("free of unknown pointer should be a no-op, got %+v", snap)
	}
}

func TestUpdateSizeInPlace(t *testing.T) {
	tr := New()
	tr.RecordAlloc(0x1000, 1024)
	tr.UpdateSize(0x1000, 2048)

	snap := tr.Snapshot()
	if snap.Active != 1 {
		t.Fatalf("UpdateSize must not change identity, active = %d", snap.Active)
	}
	if snap.TotalAllocated != 2048 {
		t.Fatalf("TotalAllocated = %d, want 2048", snap.TotalAllocated)
	}
	rec, ok := snap.Live[0x1000]
	if !ok || rec.Size != 2048 {
		t.Fatalf("live record = %+v, ok=%v", rec, ok)
	}

	tr.RecordFree(0x1000)
	snap = tr.Snapshot()
	if snap.TotalAllocated != 2048 || snap.TotalFreed != 2048 {
		t.Fatalf("counters after free = %+v", snap)
	}
}

func TestUpdateSizeUnknownPointerIsNoop(t *testing.T) {
	tr := New()
	tr.UpdateSize(0x1000, 50)
	snap := tr.Snapshot()
	if snap.Active != 0 || snap.TotalAllocated != 0 {
		t.Fatalf("UpdateSize of unknown pointer should be a no-op, got %+v", snap)
	}
}

// TestReallocDisplaced models the interposer-level contract: a realloc
// that moves the block is a free of the old address followed by an
// allocation at the new one.
func TestReallocDisplaced(t *testing.T) {
	tr := New()
	tr.RecordAlloc(0x1000, 64)

	// displaced realloc: free old, alloc new
	tr.RecordFree(0x1000)
	tr.RecordAlloc(0x2000, 1<<20)

	snap := tr.Snapshot()
	if snap.Active != 1 {
		t.Fatalf("active = %d, want 1", snap.Active)
	}
	if _, ok := snap.Live[0x1000]; ok {
		t.Fatalf("old address should no longer be live")
	}
	rec, ok := snap.Live[0x2000]
	if !ok || rec.Size != 1<<20 {
		t.Fatalf("new address record = %+v, ok=%v", rec, ok)
	}
}

func TestPartialFrees(t *testing.T) {
	tr := New()
	tr.RecordAlloc(1, 64)
	tr.RecordAlloc(2, 128)
	tr.RecordAlloc(3, 256)
	tr.RecordFree(2)

	snap := tr.Snapshot()
	if snap.Active != 2 {
		t.Fatalf("active = %d, want 2", snap.Active)
	}
	var sum uintptr
	for _, rec := range snap.Live {
		sum += rec.Size
	}
	if sum != 320 {
		t.Fatalf("sum of live sizes = %d, want 320", sum)
	}
}

func TestSortedAddrs(t *testing.T) {
	tr := New()
	tr.RecordAlloc(0x30, 1)
	tr.RecordAlloc(0x10, 1)
	tr.RecordAlloc(0x20, 1)

	addrs := tr.Snapshot().SortedAddrs()
	want := []uintptr{0x10, 0x20, 0x30}
	if len(addrs) != len(want) {
		t.Fatalf("len = %d, want %d", len(addrs), len(want))
	}
	for i := range want {
		if addrs[i] != want[i] {
			t.Errorf("addrs[%d] = %#x, want %#x", i, addrs[i], want[i])
		}
	}
}
