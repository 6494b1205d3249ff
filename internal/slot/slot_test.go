package slot

import (
	"testing"

	"github.com/amrav/ncdc/internal/runtime"
)

type fakeStream struct {
	remaining int64
}

func (f *fakeStream) RemainingBytes() int64 { return f.remaining }

func TestInUseCountsOnlyNonZeroRemaining(t *testing.T) {
	reg := runtime.NewRegistry[*fakeStream]()
	reg.Put(runtime.NewID(), &fakeStream{remaining: 100})
	reg.Put(runtime.NewID(), &fakeStream{remaining: 0})
	reg.Put(runtime.NewID(), &fakeStream{remaining: 5})

	if got := InUse(reg); got != 2 {
		t.Fatalf("InUse() = %d, want 2", got)
	}
}

func TestInUseEmptyRegistry(t *testing.T) {
	reg := runtime.NewRegistry[*fakeStream]()
	if got := InUse(reg); got != 0 {
		t.Fatalf("InUse() = %d, want 0", got)
	}
}

func TestFreeNeverNegative(t *testing.T) {
	cases := []struct {
		inUse, configured, want int
	}{
		{inUse: 0, configured: 3, want: 3},
		{inUse: 3, configured: 3, want: 0},
		{inUse: 5, configured: 3, want: 0},
	}
	for _, c := range cases {
		if got := Free(c.inUse, c.configured); got != c.want {
			t.Fatalf("Free(%d, %d) = %d, want %d", c.inUse, c.configured, got, c.want)
		}
	}
}

func TestAdmit(t *testing.T) {
	cases := []struct {
		inUse, configured int
		want               bool
	}{
		{inUse: 0, configured: 3, want: true},
		{inUse: 2, configured: 3, want: true},
		{inUse: 3, configured: 3, want: false},
		{inUse: 4, configured: 3, want: false},
	}
	for _, c := range cases {
		if got := Admit(c.inUse, c.configured); got != c.want {
			t.Fatalf("Admit(%d, %d) = %v, want %v", c.inUse, c.configured, got, c.want)
		}
	}
}
