package edb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreelistAllocateBumpsLastPageWhenEmpty(t *testing.T) {
	var fl freelist
	last := pgno(10)
	got := fl.allocate(&last)
	assert.Equal(t, pgno(11), got)
	assert.Equal(t, pgno(11), last)
}

func TestFreelistAllocatePrefersPghead(t *testing.T) {
	var fl freelist
	fl.pghead = idList{3, 7}
	last := pgno(100)
	got := fl.allocate(&last)
	assert.Equal(t, pgno(3), got)
	assert.Equal(t, pgno(100), last, "reusing a reclaimed page must not bump lastPage")
	assert.Equal(t, idList{7}, fl.pghead)
}

func TestFreelistFreeAccumulatesPendingFree(t *testing.T) {
	var fl freelist
	fl.free(5)
	fl.free(2)
	fl.free(5)
	assert.Equal(t, idList{2, 5}, fl.pendingFree)
}

func TestLoadReclaimableOnlyFoldsOlderThanOldestReader(t *testing.T) {
	entries := map[txnID]idList{
		1: {10, 11},
		5: {20},
		9: {30},
	}
	pghead, consumed := loadReclaimable(entries, 5)
	assert.Equal(t, idList{10, 11}, pghead)
	assert.Equal(t, []txnID{1}, consumed)
}

func TestLoadReclaimableHandlesNoEligibleEntries(t *testing.T) {
	entries := map[txnID]idList{5: {1, 2}}
	pghead, consumed := loadReclaimable(entries, 1)
	assert.Nil(t, pghead)
	assert.Nil(t, consumed)
}
