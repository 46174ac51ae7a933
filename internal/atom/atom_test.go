package atom_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cowtree/dancingtree/internal/atom"
)

type fakeJnode struct {
	atom any
}

func (f *fakeJnode) Atom() any     { return f.atom }
func (f *fakeJnode) SetAtom(a any) { f.atom = a }

func TestCaptureTransitionsOpenToCapturing(t *testing.T) {
	mgr := atom.NewManager(nil)
	a := mgr.OpenAtom()
	require.Equal(t, atom.Open, a.Stage())

	j := &fakeJnode{}
	require.NoError(t, a.Capture(j))
	require.Equal(t, atom.Capturing, a.Stage())
	require.Len(t, a.Captured(), 1)
}

func TestCaptureRejectsCrossAtomDoubleCapture(t *testing.T) {
	mgr := atom.NewManager(nil)
	a1 := mgr.OpenAtom()
	a2 := mgr.OpenAtom()

	j := &fakeJnode{}
	require.NoError(t, a1.Capture(j))
	require.Error(t, a2.Capture(j))
}

func TestLifecycleOrderEnforced(t *testing.T) {
	mgr := atom.NewManager(nil)
	a := mgr.OpenAtom()

	require.Error(t, a.FinishCommit()) // can't finish before begin
	require.NoError(t, a.BeginCommit())
	require.Error(t, a.BeginWriteback()) // must FinishCommit first
	require.NoError(t, a.FinishCommit())
	require.NoError(t, a.BeginWriteback())
	require.NoError(t, a.FinishWriteback())
	require.Equal(t, atom.Done, a.Stage())
}

func TestCannotCaptureAfterCommitPrepared(t *testing.T) {
	mgr := atom.NewManager(nil)
	a := mgr.OpenAtom()
	require.NoError(t, a.BeginCommit())

	require.Error(t, a.Capture(&fakeJnode{}))
}

func TestManagerRunCommitsAgedAtoms(t *testing.T) {
	mgr := atom.NewManager(nil)
	a := mgr.OpenAtom()
	require.NoError(t, a.Capture(&fakeJnode{}))

	committed := make(chan uint64, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	go mgr.Run(ctx, 5*time.Millisecond, 0, func(at *atom.Atom) error {
		committed <- at.ID()
		return at.BeginCommit()
	})

	select {
	case id := <-committed:
		require.Equal(t, a.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("manager never committed the aged atom")
	}
}
