package scheduler

import (
	"context"
	"errors"
	"testing"
)

func TestMockPlaysBackStepsInOrder(t *testing.T) {
	m := NewMock([]Step{
		{At: PointPeerRead, Value: "!fill"},
		{At: PointOracleCall, Value: 42},
		{At: PointBroadcast, Value: "txid123"},
	})

	ctx := context.Background()
	v, err := m.Suspend(ctx, PointPeerRead, func() (interface{}, error) { return nil, nil })
	if err != nil || v != "!fill" {
		t.Fatalf("got (%v, %v), want (!fill, nil)", v, err)
	}

	v, err = m.Suspend(ctx, PointOracleCall, func() (interface{}, error) { return nil, nil })
	if err != nil || v != 42 {
		t.Fatalf("got (%v, %v), want (42, nil)", v, err)
	}

	v, err = m.Suspend(ctx, PointBroadcast, func() (interface{}, error) { return nil, nil })
	if err != nil || v != "txid123" {
		t.Fatalf("got (%v, %v), want (txid123, nil)", v, err)
	}

	if !m.Done() {
		t.Fatal("expected script to be fully consumed")
	}
	want := []Point{PointPeerRead, PointOracleCall, PointBroadcast}
	got := m.Visited()
	if len(got) != len(want) {
		t.Fatalf("visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visited[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMockRejectsMismatchedSuspensionPoint(t *testing.T) {
	m := NewMock([]Step{{At: PointPeerRead, Value: "!fill"}})

	_, err := m.Suspend(context.Background(), PointBroadcast, func() (interface{}, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected an error when the visited point doesn't match the script")
	}
}

func TestMockRejectsExhaustedScript(t *testing.T) {
	m := NewMock(nil)

	_, err := m.Suspend(context.Background(), PointPeerRead, func() (interface{}, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected an error on an empty script")
	}
}

func TestMockPropagatesScriptedError(t *testing.T) {
	wantErr := errors.New("maker B timed out")
	m := NewMock([]Step{{At: PointPeerRead, Err: wantErr}})

	_, err := m.Suspend(context.Background(), PointPeerRead, func() (interface{}, error) { return nil, nil })
	if !errors.Is(err, wantErr) {
		t.Fatalf("got error %v, want %v", err, wantErr)
	}
}

func TestLoopSuspendInvokesFnAndRespectsCancellation(t *testing.T) {
	l := NewLoop()

	v, err := l.Suspend(context.Background(), PointOracleCall, func() (interface{}, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("got (%v, %v), want (7, nil)", v, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)
	_, err = l.Suspend(ctx, PointPeerRead, func() (interface{}, error) {
		<-block
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v, want context.Canceled", err)
	}
}
