package bufctl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIndexInsertAndLookup(t *testing.T) {
	h := NewHashIndex()
	bc := &Bufctl{Addr: 0x1000, Slab: "slabA"}
	h.Insert(bc)

	got := h.Lookup(0x1000)
	require.Same(t, bc, got)
	require.Equal(t, 0, h.Len())
}

func TestHashIndexLookupMissingPanics(t *testing.T) {
	h := NewHashIndex()
	require.Panics(t, func() {
		h.Lookup(0xDEAD)
	})
}

func TestHashIndexGrowsPastStaticTable(t *testing.T) {
	h := NewHashIndex()
	require.True(t, h.IsStatic())

	for i := 0; i < staticBuckets*2; i++ {
		h.Insert(&Bufctl{Addr: uintptr(0x1000 + i*8)})
	}

	require.False(t, h.IsStatic())
	require.Equal(t, staticBuckets*2, h.Len())

	// Every entry must still be reachable after the resize rehash.
	for i := 0; i < staticBuckets*2; i++ {
		addr := uintptr(0x1000 + i*8)
		bc := h.Lookup(addr)
		require.Equal(t, addr, bc.Addr)
	}
}

func TestHashIndexHandlesCollisionChains(t *testing.T) {
	h := NewHashIndex()
	var inserted []*Bufctl
	for i := 0; i < 8; i++ {
		bc := &Bufctl{Addr: uintptr(i)*uintptr(staticBuckets) + 5}
		inserted = append(inserted, bc)
		h.Insert(bc)
	}
	for _, bc := range inserted {
		got := h.Lookup(bc.Addr)
		require.Same(t, bc, got)
	}
}

func TestFreelistHeadPushPopOrderIsLIFO(t *testing.T) {
	var f FreelistHead
	a := &Bufctl{Addr: 1}
	b := &Bufctl{Addr: 2}
	c := &Bufctl{Addr: 3}
	f.Push(a)
	f.Push(b)
	f.Push(c)

	require.Same(t, c, f.Pop())
	require.Same(t, b, f.Pop())
	require.Same(t, a, f.Pop())
	require.True(t, f.Empty())
	require.Nil(t, f.Pop())
}

func TestFreelistHeadEachVisitsInOrder(t *testing.T) {
	var f FreelistHead
	for i := 0; i < 5; i++ {
		f.Push(&Bufctl{Addr: uintptr(i)})
	}
	var seen []uintptr
	f.Each(func(bc *Bufctl) { seen = append(seen, bc.Addr) })
	require.Equal(t, []uintptr{4, 3, 2, 1, 0}, seen)
}

func ExampleHashIndex() {
	h := NewHashIndex()
	h.Insert(&Bufctl{Addr: 42})
	bc := h.Lookup(42)
	fmt.Println(bc.Addr)
	// Output: 42
}
