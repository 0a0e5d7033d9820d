package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

type watchCall struct {
	next bson.Raw
	err  error
}

type fakeWatcher struct {
	calls  []watchCall
	got    []bson.Raw
	cancel context.CancelFunc
}

func (f *fakeWatcher) Watch(ctx context.Context, resumeAfter bson.Raw, handle func(context.Context, models.ChangeEvent)) (bson.Raw, error) {
	f.got = append(f.got, resumeAfter)
	if len(f.got) > len(f.calls) {
		f.cancel()
		return resumeAfter, context.Canceled
	}
	call := f.calls[len(f.got)-1]
	handle(ctx, models.ChangeEvent{ID: "e"})
	return call.next, call.err
}

func streamToken(t *testing.T, data string) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(bson.M{"_data": data})
	require.NoError(t, err)
	return raw
}

func TestWatch_ResumesAfterLastEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tok1, tok2 := streamToken(t, "tok1"), streamToken(t, "tok2")
	w := &fakeWatcher{
		calls: []watchCall{
			{next: tok1, err: errors.New("connection reset")},
			{next: tok2, err: errors.New("primary stepped down")},
			{next: nil, err: errors.New("ChangeStreamHistoryLost")},
		},
		cancel: cancel,
	}
	handled := 0
	err := watch(ctx, w, func(context.Context, models.ChangeEvent) { handled++ }, time.Millisecond)
	require.NoError(t, err)

	require.Len(t, w.got, 4)
	assert.Nil(t, w.got[0])
	assert.Equal(t, tok1, w.got[1])
	assert.Equal(t, tok2, w.got[2])
	assert.Nil(t, w.got[3], "a lost resume point restarts the stream")
	assert.Equal(t, 3, handled)
}

func TestWatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &fakeWatcher{cancel: cancel}
	assert.NoError(t, watch(ctx, w, func(context.Context, models.ChangeEvent) {}, time.Hour))
	assert.Len(t, w.got, 1)
}
