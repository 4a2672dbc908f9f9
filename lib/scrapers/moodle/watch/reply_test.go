package watch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpretReplyBareObject(t *testing.T) {
	reply, err := InterpretReply([]byte(`{"status":"ok","progress":"0.50","totaltime":"100","completion":"进行中"}`))
	require.NoError(t, err)
	require.False(t, reply.Completed)
	require.False(t, reply.ServiceError)
	require.Equal(t, "ok", reply.Status)
	require.Equal(t, "0.50", reply.Progress)
	require.Equal(t, "100", reply.TotalTime)
	require.Equal(t, "进行中", reply.Completion)
}

func TestInterpretReplyCompletion(t *testing.T) {
	reply, err := InterpretReply([]byte(`{"completion":"已完成"}`))
	require.NoError(t, err)
	require.True(t, reply.Completed)

	// the literal must match exactly
	reply, err = InterpretReply([]byte(`{"completion":"已完成 "}`))
	require.NoError(t, err)
	require.False(t, reply.Completed)
}

func TestInterpretReplyBundle(t *testing.T) {
	reply, err := InterpretReply([]byte(`[{"error":false,"data":{"status":"finished","completion":"已完成"}}]`))
	require.NoError(t, err)
	require.True(t, reply.Completed)
	require.False(t, reply.ServiceError)
	require.Equal(t, "finished", reply.Status)
}

func TestInterpretReplyBundleWithoutData(t *testing.T) {
	// some endpoints put the fields straight on the first entry
	reply, err := InterpretReply([]byte(`[{"error":false,"completion":"已完成"}]`))
	require.NoError(t, err)
	require.True(t, reply.Completed)
}

func TestInterpretReplyServiceError(t *testing.T) {
	reply, err := InterpretReply([]byte(`[{"error":true,"exception":{"message":"invalid sesskey","errorcode":"invalidsesskey"}}]`))
	require.NoError(t, err)
	require.True(t, reply.ServiceError)
	require.False(t, reply.Completed)
}

func TestInterpretReplyEmptyBundle(t *testing.T) {
	reply, err := InterpretReply([]byte(`[]`))
	require.NoError(t, err)
	require.Equal(t, Reply{}, reply)
}

func TestInterpretReplyNonObject(t *testing.T) {
	for _, body := range []string{`"ok"`, `42`, `null`, `[1,2,3]`} {
		reply, err := InterpretReply([]byte(body))
		require.NoError(t, err, body)
		require.False(t, reply.Completed, body)
	}
}

func TestInterpretReplyMalformed(t *testing.T) {
	for _, body := range []string{``, `<html>502 Bad Gateway</html>`, `{"status":`} {
		_, err := InterpretReply([]byte(body))
		require.ErrorIs(t, err, ErrMalformedReply, body)
	}
}

func TestSnippet(t *testing.T) {
	require.Equal(t, "short", snippet([]byte("short")))

	long := strings.Repeat("课", 200)
	got := snippet([]byte(long))
	require.Equal(t, strings.Repeat("课", 160)+"…", got)
}
