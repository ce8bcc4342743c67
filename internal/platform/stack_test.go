package platform

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestNewStack_UsableRegionSizedAndWritable(t *testing.T) {
	st, err := NewStack(64 * 1024)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	defer func() {
		if err := st.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
	}()

	if st.Len() < 64*1024 {
		t.Fatalf("want usable length >= 64KiB, got %d", st.Len())
	}
	b := st.Bytes()
	if len(b) != st.Len() {
		t.Fatalf("Bytes() length %d != Len() %d", len(b), st.Len())
	}
	b[0] = 0xAB
	b[len(b)-1] = 0xCD
	if b[0] != 0xAB || b[len(b)-1] != 0xCD {
		t.Fatal("usable region did not hold writes")
	}
}

// TestNewStack_GuardPageIsFaultProtected exercises the guard page
// documented on Stack, the region a downward-growing stack overflow
// relies on to fault instead of corrupting the adjacent mapping. Go
// offers no supported way to recover from the SIGSEGV such an overflow
// would raise in-process, so this does not trigger a real fault: it
// lifts the guard region to read/write with mprotect (which shows the
// page is mapped directly below the usable region), writes to it, then
// re-protects it back to PROT_NONE before releasing the stack. mprotect
// succeeds whatever the page's prior protection was, so the test does
// not read back the protection NewStack left on the page.
func TestNewStack_GuardPageIsFaultProtected(t *testing.T) {
	st, err := NewStack(4096)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	defer func() {
		if err := st.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
	}()

	guardLen := roundUp(1, st.pageSize)
	guard := unsafe.Slice((*byte)(st.base), guardLen)

	if err := unix.Mprotect(guard, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		t.Fatalf("want guard page mapped and re-protectable, got: %v", err)
	}
	guard[0] = 0x42
	if guard[0] != 0x42 {
		t.Fatal("guard page did not hold a write after lifting PROT_NONE")
	}

	if err := unix.Mprotect(guard, unix.PROT_NONE); err != nil {
		t.Fatalf("restoring guard page to PROT_NONE: %v", err)
	}
}
