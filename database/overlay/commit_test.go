// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package overlay

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/Fantom-foundation/Fidelio/backend"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/mock/gomock"
)

func TestCommit_WritesTheWholeBlockInOneBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := backend.NewMockDatabase(ctrl)
	overlay := makeOverlay(db, testWindow)

	db.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, leveldb.ErrNotFound).AnyTimes()
	db.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil)

	mustInsert(t, overlay, hashOf("h1"), []byte("v1"))
	mustInsert(t, overlay, hashOf("h2"), []byte("v2"))
	overlay.InsertAux(hashOf("h3"), []byte("a3"))
	overlay.Commit(1)
}

func TestCommit_TransientWriteFailuresAreRetriedWithLinearBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := backend.NewMockDatabase(ctrl)
	overlay := makeOverlay(db, testWindow)

	var sleeps []time.Duration
	overlay.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}

	injected := fmt.Errorf("injected write failure")
	db.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, leveldb.ErrNotFound).AnyTimes()
	gomock.InOrder(
		db.EXPECT().Write(gomock.Any(), gomock.Any()).Return(injected).Times(3),
		db.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil),
	)

	mustInsert(t, overlay, hashOf("h1"), []byte("v1"))
	overlay.Commit(1)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("unexpected number of backoff sleeps, got %v, want %v", sleeps, want)
	}
	for i, d := range want {
		if sleeps[i] != d {
			t.Errorf("unexpected backoff before attempt %d, got %v, want %v", i+2, sleeps[i], d)
		}
	}
}

func TestCommit_ExhaustedWriteRetriesAreFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := backend.NewMockDatabase(ctrl)
	overlay := makeOverlay(db, testWindow)
	overlay.sleep = func(time.Duration) {}

	originalFatalf := fatalf
	defer func() { fatalf = originalFatalf }()
	var message string
	fatalf = func(format string, args ...any) {
		message = fmt.Sprintf(format, args...)
	}

	injected := fmt.Errorf("injected write failure")
	db.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, leveldb.ErrNotFound).AnyTimes()
	db.EXPECT().Write(gomock.Any(), gomock.Any()).Return(injected).Times(writeRetryAttempts)

	mustInsert(t, overlay, hashOf("h1"), []byte("v1"))
	overlay.Commit(1)

	if message == "" {
		t.Errorf("an exhausted retry chain should terminate the process")
	}
}

func TestCommit_ClearsThePendingBuffers(t *testing.T) {
	overlay, db := testOverlay(t)
	hash := hashOf("h1")

	mustInsert(t, overlay, hash, []byte("v1"))
	overlay.InsertAux(hash, []byte("a1"))
	overlay.Commit(1)

	if len(overlay.pending) != 0 {
		t.Errorf("pending nodes should be cleared after a commit, got %d entries", len(overlay.pending))
	}
	if len(overlay.aux) != 0 {
		t.Errorf("aux entries should be cleared after a commit, got %d entries", len(overlay.aux))
	}

	// a second commit of the next block must be a no-op for the node
	overlay.Commit(2)
	if count, _ := persistedRefCount(t, db, hash); count != "1" {
		t.Errorf("cleared entries were applied again, got count %q, want 1", count)
	}
}

func TestCommit_BatchContentIsDeterministic(t *testing.T) {
	collect := func() []string {
		ctrl := gomock.NewController(t)
		db := backend.NewMockDatabase(ctrl)
		overlay := makeOverlay(db, testWindow)

		var ops []string
		db.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, leveldb.ErrNotFound).AnyTimes()
		db.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(
			func(batch *leveldb.Batch, _ any) error {
				return batch.Replay(opRecorder{&ops})
			})

		for _, name := range []string{"h3", "h1", "h4", "h2"} {
			mustInsert(t, overlay, hashOf(name), []byte(name))
			overlay.InsertAux(hashOf(name), []byte(name))
		}
		overlay.Commit(1)
		return ops
	}

	first := collect()
	second := collect()
	if len(first) == 0 {
		t.Fatalf("no operations recorded")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("batch operation %d differs between runs: %s vs %s", i, first[i], second[i])
		}
	}
}

// opRecorder captures batch operations as strings for comparison.
type opRecorder struct {
	ops *[]string
}

func (r opRecorder) Put(key, value []byte) {
	*r.ops = append(*r.ops, fmt.Sprintf("put %x=%x", key, value))
}

func (r opRecorder) Delete(key []byte) {
	*r.ops = append(*r.ops, fmt.Sprintf("delete %x", key))
}

func TestCommit_ReorganizationIsUnwoundInItsOwnBatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := backend.NewMockDatabase(ctrl)
	overlay := makeOverlay(db, testWindow)

	db.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, leveldb.ErrNotFound).AnyTimes()
	// first commit of block 5, then a re-commit: one undo batch plus the
	// regular commit batch
	db.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	mustInsert(t, overlay, hashOf("h1"), []byte("v1"))
	overlay.Commit(5)
	mustInsert(t, overlay, hashOf("h2"), []byte("v2"))
	overlay.Commit(5)
}

func TestCommit_RetriedBatchesAreAppliedExactlyOnce(t *testing.T) {
	memory := backend.NewMemory()
	ctrl := gomock.NewController(t)
	db := backend.NewMockDatabase(ctrl)
	overlay := makeOverlay(db, testWindow)
	overlay.sleep = func(time.Duration) {}

	failures := 2
	db.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(memory.Get).AnyTimes()
	db.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(
		func(batch *leveldb.Batch, _ any) error {
			if failures > 0 {
				failures--
				return fmt.Errorf("injected write failure")
			}
			return memory.Write(batch, nil)
		}).AnyTimes()

	hash := hashOf("h1")
	value := []byte("v1")
	mustInsert(t, overlay, hash, value)
	overlay.Commit(1)

	if stored, err := memory.Get(valueKey(hash), nil); err != nil || !bytes.Equal(stored, value) {
		t.Errorf("retried batch was not applied, got %x, err %v", stored, err)
	}
	if count, err := memory.Get(refcountKey(hash), nil); err != nil || string(count) != "1" {
		t.Errorf("a retried batch must not double-apply, got count %q, err %v", count, err)
	}
}
