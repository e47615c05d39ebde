package ui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_NavigationStack(t *testing.T) {
	r := NewRecorder(ScreenEditProfile)
	assert.Equal(t, "", r.PreviousScreen())

	r.Push(ScreenDIBSPayment, nil)
	assert.Equal(t, ScreenEditProfile, r.PreviousScreen())
	assert.Equal(t, ScreenDIBSPayment, r.Top())

	r.Push(ScreenEpayPayment, map[string]string{"orderid": "1"})
	r.Pop(5)
	assert.Equal(t, ScreenEditProfile, r.Top())
	assert.Equal(t, "", r.PreviousScreen())
}

func TestRecorder_CommandsAreSequenced(t *testing.T) {
	r := NewRecorder(ScreenPurchaseMenu)
	r.ShowActivity()
	r.Push(ScreenEpayPayment, nil)
	r.HideActivity()
	r.ShowAlert("CVC", "Enter the CVC code")
	r.Pop(2)
	r.OpenURL("mobilepay://pay")
	r.Pop(0)

	cmds := r.Commands()
	require.Len(t, cmds, 6)
	kinds := make([]CommandKind, len(cmds))
	for i, c := range cmds {
		kinds[i] = c.Kind
		assert.Equal(t, i+1, c.Seq)
	}
	assert.Equal(t, []CommandKind{
		CommandShowActivity, CommandPush, CommandHideActivity, CommandAlert, CommandPop, CommandOpenURL,
	}, kinds)
	assert.Equal(t, 2, cmds[4].Count)

	since := r.Since(4)
	require.Len(t, since, 2)
	assert.Equal(t, CommandPop, since[0].Kind)
	assert.Nil(t, r.Since(6))
}

func TestDispatcher_RunsOnOneGoroutineInOrder(t *testing.T) {
	d := NewDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var mu sync.Mutex
	var order []int
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		d.Post(func() {
			defer wg.Done()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			order = append(order, i)
			mu.Unlock()
			time.Sleep(100 * time.Microsecond)
			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestDispatchedHost_PreviousScreenSeesEarlierPushes(t *testing.T) {
	d := NewDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	rec := NewRecorder(ScreenEditProfile)
	host := Dispatched(rec, d)
	host.ShowActivity()
	host.Push(ScreenDIBSPayment, nil)

	assert.Equal(t, ScreenEditProfile, host.PreviousScreen())
	assert.Len(t, rec.Commands(), 2)
}

func TestDispatcher_PostAfterStopIsDropped(t *testing.T) {
	d := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	ran := false
	d.Post(func() { ran = true })
	assert.False(t, d.Call(func() { ran = true }))
	assert.False(t, ran)
}
