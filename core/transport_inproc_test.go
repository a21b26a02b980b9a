package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestInProcTransport_BroadcastDownReachesEveryChild(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, children := NewInProcFabric("root", []string{"a", "b"})
	defer func() {
		root.Close()
		for _, c := range children {
			c.Close()
		}
	}()

	require.NoError(t, root.BroadcastDown(Record{Token: TokenSync, Direction: DirDown}))

	for name, c := range children {
		select {
		case rec := <-c.Listen():
			require.Equal(t, "root", rec.Origin)
			require.Equal(t, TokenSync, rec.Token)
		case <-time.After(time.Second):
			t.Fatalf("child %s never received broadcast", name)
		}
	}
}

func TestInProcTransport_SendUpReachesParent(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, children := NewInProcFabric("root", []string{"a"})
	defer func() {
		root.Close()
		children["a"].Close()
	}()

	require.NoError(t, children["a"].SendUp(Record{Token: TokenMsg, Direction: DirUp, Payload: []byte("hi")}))

	select {
	case rec := <-root.Listen():
		require.Equal(t, "a", rec.Origin)
		require.Equal(t, []byte("hi"), rec.Payload)
	case <-time.After(time.Second):
		t.Fatal("parent never received the upward record")
	}
}

func TestInProcTransport_SendUpWithoutParentFails(t *testing.T) {
	root, _ := NewInProcFabric("lonely-root", nil)
	defer root.Close()

	require.Error(t, root.SendUp(Record{}))
}
