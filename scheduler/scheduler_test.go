package scheduler_test

import (
	"testing"
	"time"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
	"github.com/joeycumines/attacha-rt/value"
	"github.com/stretchr/testify/require"
)

func TestTaskRunsAndProducesResult(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	task := scheduler.NewTask(pool, func(_ *scheduler.Task, arg value.Item) (value.Item, error) {
		n, err := arg.Int()
		require.NoError(t, err)
		return value.Int64(n * 2), nil
	}, value.Int64(21))

	task.Start()
	<-task.Done()

	require.True(t, task.Result().EndOfLife())
	items := task.Result().All()
	require.Len(t, items, 1)
	n, err := items[0].Int()
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
}

func TestYieldThenFinalValue(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		scheduler.Yield(self, value.Int64(1))
		scheduler.Yield(self, value.Int64(2))
		return value.Int64(3), nil
	}, value.None)

	task.Start()
	<-task.Done()

	items := task.Result().All()
	require.Len(t, items, 3)
	for i, want := range []int64{1, 2, 3} {
		n, err := items[i].Int()
		require.NoError(t, err)
		require.EqualValues(t, want, n)
	}
}

func TestCancelASleepingTask(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	var cancelled bool
	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		defer func() {
			if r := recover(); r != nil {
				c, ok := r.(*errs.Cancellation)
				require.True(t, ok)
				c.Acknowledge()
				cancelled = true
				panic(c)
			}
		}()
		scheduler.Sleep(self, 10*time.Second)
		return value.None, nil
	}, value.None)

	task.Start()
	time.Sleep(5 * time.Millisecond)
	task.NotifyCancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not reach end-of-life after cancellation")
	}

	require.True(t, cancelled)
	require.True(t, task.Result().EndOfLife())
	require.Error(t, task.Result().Err())
}

func TestCancelRacesSuspend(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	// The cancel may land before, during, or after the sleeping task's
	// park; every interleaving must still observe it promptly.
	for i := 0; i < 50; i++ {
		task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
			scheduler.Sleep(self, 10*time.Second)
			return value.None, nil
		}, value.None)
		task.Start()
		task.NotifyCancel()

		select {
		case <-task.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: cancelled task never reached end-of-life", i)
		}
		require.True(t, errs.IsCancellation(task.Result().Err()))
	}
}

func TestCancelWithoutHandlerRecordsResult(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		scheduler.Sleep(self, 10*time.Second)
		return value.None, nil
	}, value.None)

	task.Start()
	time.Sleep(5 * time.Millisecond)
	task.NotifyCancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not reach end-of-life after cancellation")
	}

	require.True(t, task.Result().EndOfLife())
	require.True(t, errs.IsCancellation(task.Result().Err()))
}

func TestAwaitTask(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(2))
	defer pool.Shutdown()

	producer := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		scheduler.Sleep(self, 5*time.Millisecond)
		return value.String("done"), nil
	}, value.None)

	consumer := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		v, err := scheduler.AwaitTask(self, producer)
		return v, err
	}, value.None)

	producer.Start()
	consumer.Start()

	<-consumer.Done()
	items := consumer.Result().All()
	require.Len(t, items, 1)
	s, err := items[0].String()
	require.NoError(t, err)
	require.Equal(t, "done", s)
}

func TestBoundWorkerOnlyRunsBoundTasks(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	pool.CreateBindOnlyExecutor([]int32{100}, true)

	ran := make(chan int32, 1)
	task := scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
		ran <- self.BindWorkerID()
		return value.None, nil
	}, value.None)
	task.BindToWorker(100, false)
	task.Start()

	select {
	case id := <-ran:
		require.EqualValues(t, 100, id)
	case <-time.After(time.Second):
		t.Fatal("bound task never ran")
	}
}

func TestQueryConcurrencyCeiling(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(4))
	defer pool.Shutdown()

	q := scheduler.NewQuery(pool)
	q.SetMaxAtExecution(2)

	for i := 0; i < 5; i++ {
		q.AddTask(scheduler.NewTask(pool, func(self *scheduler.Task, _ value.Item) (value.Item, error) {
			scheduler.Sleep(self, time.Millisecond)
			return value.None, nil
		}, value.None))
	}

	require.True(t, q.WaitFor(2*time.Second))
	require.Equal(t, 5, q.InQuery())
}

func TestEventSystemNotifyOrder(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	es := scheduler.NewEventSystem(pool)
	var order []string
	es.Join(scheduler.PriorityLow, func(v value.Item) value.Item {
		order = append(order, "low")
		return value.None
	})
	es.Join(scheduler.PriorityRealtime, func(v value.Item) value.Item {
		order = append(order, "realtime")
		return value.None
	})

	es.Notify(value.None)
	require.Equal(t, []string{"realtime", "low"}, order)
}

func TestEnvironmentAdmissionCeiling(t *testing.T) {
	env := scheduler.NewEnvironment()
	env.SetMaxWork(1)

	require.True(t, env.CanIWork())
	require.False(t, env.CanIWork())
	env.Done()
	require.True(t, env.CanIWork())
}

func TestCompletedTask(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	task := scheduler.Completed(pool, value.Int64(7))
	require.True(t, task.Result().EndOfLife())
	items := task.Result().All()
	n, err := items[0].Int()
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}
