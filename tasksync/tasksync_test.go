package tasksync_test

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
	"github.com/joeycumines/attacha-rt/tasksync"
	"github.com/joeycumines/attacha-rt/value"
	"github.com/stretchr/testify/require"
)

func TestRecursiveMutexDepth(t *testing.T) {
	m := tasksync.NewRecursiveMutex()
	m.Lock("owner-a")
	m.Lock("owner-a")
	require.Equal(t, 2, m.Depth())
	m.Unlock("owner-a")
	require.Equal(t, 1, m.Depth())
	m.Unlock("owner-a")
	require.Equal(t, 0, m.Depth())

	m.Lock("owner-b")
	require.Equal(t, 1, m.Depth())
	m.Unlock("owner-b")
}

func TestTaskMutexExcludesConcurrentAccess(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(4))
	defer pool.Shutdown()

	mu := tasksync.NewTaskMutex()
	var (
		counter int
		wg      sync.WaitGroup
	)
	const n = 20
	wg.Add(n)

	for i := 0; i < n; i++ {
		task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
			mu.Lock(self)
			cur := counter
			scheduler.Sleep(self, time.Millisecond)
			counter = cur + 1
			require.NoError(t, mu.Unlock(self))
			return value.None, nil
		}, value.None)
		go func() {
			defer wg.Done()
			task.Start()
			<-task.Done()
		}()
	}

	wg.Wait()
	require.Equal(t, n, counter)
}

func TestTaskMutexFIFOOrdering(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(4))
	defer pool.Shutdown()

	mu := tasksync.NewTaskMutex()

	gate := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		mu.Lock(self)
		scheduler.Sleep(self, 20*time.Millisecond)
		require.NoError(t, mu.Unlock(self))
		return value.None, nil
	}, value.None)
	gate.Start()
	time.Sleep(2 * time.Millisecond) // ensure gate has acquired the lock first

	var (
		order   []int
		orderMu sync.Mutex
		wg      sync.WaitGroup
	)
	const n = 3
	tasks := make([]*scheduler.Task, n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
			mu.Lock(self)
			orderMu.Lock()
			order = append(order, i)
			orderMu.Unlock()
			require.NoError(t, mu.Unlock(self))
			return value.None, nil
		}, value.None)
	}

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			tasks[i].Start()
			<-tasks[i].Done()
		}()
		time.Sleep(3 * time.Millisecond) // stagger enqueue order
	}

	wg.Wait()
	<-gate.Done()
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestTaskMutexTryLockUntilTimesOut(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	mu := tasksync.NewTaskMutex()

	holder := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		mu.Lock(self)
		scheduler.Sleep(self, 100*time.Millisecond)
		require.NoError(t, mu.Unlock(self))
		return value.None, nil
	}, value.None)
	holder.Start()
	time.Sleep(2 * time.Millisecond)

	waiter := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		got := mu.TryLockFor(self, 10*time.Millisecond)
		if got {
			return value.Bool(true), nil
		}
		return value.Bool(false), nil
	}, value.None)
	waiter.Start()

	<-waiter.Done()
	got, err := waiter.Result().All()[0].Bool()
	require.NoError(t, err)
	require.False(t, got)

	<-holder.Done()
}

func TestConditionVariableWaitUntilTimesOut(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	var mu sync.Mutex
	cv := tasksync.NewConditionVariable()

	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		u := tasksync.NewUnifyPlain(&mu)
		u.Lock()
		notified := cv.WaitUntil(self, u, time.Now().Add(15*time.Millisecond))
		u.Unlock()
		return value.Bool(notified), nil
	}, value.None)
	task.Start()

	<-task.Done()
	notified, err := task.Result().All()[0].Bool()
	require.NoError(t, err)
	require.False(t, notified)
}

func TestConditionVariableNotifyOneWakesWaiter(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	var mu sync.Mutex
	cv := tasksync.NewConditionVariable()

	waiter := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		u := tasksync.NewUnifyPlain(&mu)
		u.Lock()
		notified := cv.WaitUntil(self, u, time.Now().Add(2*time.Second))
		u.Unlock()
		return value.Bool(notified), nil
	}, value.None)
	waiter.Start()

	time.Sleep(10 * time.Millisecond)
	cv.NotifyOne()

	select {
	case <-waiter.Done():
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by NotifyOne")
	}
	notified, err := waiter.Result().All()[0].Bool()
	require.NoError(t, err)
	require.True(t, notified)
}

func TestSemaphoreAdmitsUpToMax(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(4))
	defer pool.Shutdown()

	sem := tasksync.NewSemaphore(2)
	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	const n = 6
	wg.Add(n)
	for i := 0; i < n; i++ {
		task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
			sem.Lock(self)
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			scheduler.Sleep(self, 5*time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			sem.Release()
			return value.None, nil
		}, value.None)
		go func() {
			defer wg.Done()
			task.Start()
			<-task.Done()
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak, 2)
}

func TestCancelWakesCondvarWaiter(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	var mu sync.Mutex
	cv := tasksync.NewConditionVariable()

	// The condvar is never notified: only the cancellation can unblock
	// the waiter.
	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		u := tasksync.NewUnifyPlain(&mu)
		u.Lock()
		defer u.Unlock()
		cv.Wait(self, u)
		return value.None, nil
	}, value.None)
	task.Start()

	time.Sleep(5 * time.Millisecond)
	task.NotifyCancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled condvar waiter never reached end-of-life")
	}
	require.True(t, errs.IsCancellation(task.Result().Err()))
}

func TestSemaphoreCancelledWaiterDoesNotLeakCapacity(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	sem := tasksync.NewSemaphore(1)

	holder := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		sem.Lock(self)
		scheduler.Sleep(self, 5*time.Millisecond)
		sem.Release()
		return value.None, nil
	}, value.None)
	holder.Start()
	time.Sleep(time.Millisecond)

	// The cancel races the holder's Release: the waiter may be granted
	// the slot just as it unwinds, or acquire it and observe the cancel
	// at its next suspension. In every interleaving the slot must end up
	// released, not stranded on the cancelled fiber.
	blocked := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		sem.Lock(self)
		defer sem.Release()
		scheduler.Sleep(self, time.Millisecond)
		return value.None, nil
	}, value.None)
	blocked.Start()
	time.Sleep(3 * time.Millisecond)
	blocked.NotifyCancel()

	<-holder.Done()
	select {
	case <-blocked.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled semaphore waiter never reached end-of-life")
	}

	require.Eventually(t, func() bool {
		if !sem.TryLock() {
			return false
		}
		sem.Release()
		return true
	}, 2*time.Second, 5*time.Millisecond, "semaphore capacity leaked")
}

func TestLimiterReentrantNoOp(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	lim := tasksync.NewLimiter(1)
	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		lim.Lock(self)
		require.True(t, lim.TryLock(self)) // re-entrant, no-op, does not deadlock
		require.True(t, lim.IsHolder(self))
		lim.Unlock(self) // releases the one slot regardless of nesting
		require.False(t, lim.IsHolder(self))
		lim.Unlock(self) // no-op: already not a holder
		return value.None, nil
	}, value.None)
	task.Start()
	<-task.Done()
	require.NoError(t, task.Result().Err())
}
