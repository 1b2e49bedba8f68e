package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageArenaAllocIsPageAligned(t *testing.T) {
	pa := NewPageArena(256)

	addr, mem, ok := pa.Alloc(128, FlagNone)
	require.True(t, ok)
	require.Len(t, mem, roundUpPage(128))
	require.Zero(t, addr%uintptr(PageSize))

	pa.Free(addr, 128)
}

func TestPageArenaMultipleAllocationsDoNotOverlap(t *testing.T) {
	pa := NewPageArena(256)

	addrA, memA, ok := pa.Alloc(PageSize, FlagNone)
	require.True(t, ok)
	addrB, memB, ok := pa.Alloc(PageSize, FlagNone)
	require.True(t, ok)

	require.NotEqual(t, addrA, addrB)

	memA[0] = 0xAB
	memB[0] = 0xCD
	require.EqualValues(t, 0xAB, memA[0])
	require.EqualValues(t, 0xCD, memB[0])

	pa.Free(addrA, PageSize)
	pa.Free(addrB, PageSize)
}

func TestBumpArenaServesFromSingleChunkUntilExhausted(t *testing.T) {
	backing := NewPageArena(256)
	bump := NewBumpArena(backing, 4*PageSize, 256)

	addr1, mem1, ok := bump.Alloc(64, FlagNone)
	require.True(t, ok)
	addr2, mem2, ok := bump.Alloc(64, FlagNone)
	require.True(t, ok)

	require.Equal(t, addr1+64, addr2)
	require.NotSame(t, &mem1[0], &mem2[0])
}

func TestBumpArenaImportsNewChunkWhenFull(t *testing.T) {
	backing := NewPageArena(256)
	bump := NewBumpArena(backing, 128, 256)

	_, _, ok := bump.Alloc(100, FlagNone)
	require.True(t, ok)
	addr2, _, ok := bump.Alloc(100, FlagNone)
	require.True(t, ok)

	// Second allocation didn't fit in the remainder of the first chunk, so
	// it must have started a fresh one.
	require.Len(t, bump.chunks, 2)
	require.Equal(t, bump.chunks[1].addr, addr2)
}

func TestBumpArenaOversizedRequestGetsDedicatedChunk(t *testing.T) {
	backing := NewPageArena(256)
	bump := NewBumpArena(backing, PageSize, 256)

	addr, mem, ok := bump.Alloc(4*PageSize, FlagNone)
	require.True(t, ok)
	require.Len(t, mem, 4*PageSize)

	bump.Free(addr, 4*PageSize)
	require.Empty(t, bump.chunks)
}

func TestBumpArenaReclaimReturnsAllChunks(t *testing.T) {
	backing := NewPageArena(256)
	bump := NewBumpArena(backing, PageSize, 256)

	_, _, ok := bump.Alloc(64, FlagNone)
	require.True(t, ok)
	_, _, ok = bump.Alloc(64, FlagNone)
	require.True(t, ok)

	bump.Reclaim()
	require.Empty(t, bump.chunks)
	require.Nil(t, bump.cur)
}
