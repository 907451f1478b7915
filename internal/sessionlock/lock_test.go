package sessionlock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "session-a")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
	if l.size() != 0 {
		t.Fatalf("idle keys not dropped: %d remain", l.size())
	}
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b blocked by a: %v", err)
	}
	unlockB()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	unlock()
	unlock() // second call is a no-op
	if l.size() != 0 {
		t.Fatalf("keys remaining = %d", l.size())
	}
}

func TestChain_ReleasesOnPartialFailure(t *testing.T) {
	first := NewLocal()
	second := NewLocal()

	held, _ := second.Lock(context.Background(), "k")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := (Chain{first, second}).Lock(ctx, "k"); err == nil {
		t.Fatal("expected chain lock to fail while second is held")
	}
	if first.size() != 0 {
		t.Fatal("first locker still holds the key after chain failure")
	}
	held()
}

func TestRedisLocker_Integration(t *testing.T) {
	if os.Getenv("TUTOR_REDIS_ADDR") == "" {
		t.Skip("TUTOR_REDIS_ADDR not set")
	}
	l, err := NewRedisLockerFromEnv(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer l.Close()
	l.cfg.MaxWait = 100 * time.Millisecond

	unlock, err := l.Lock(context.Background(), "it-session")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := l.Lock(context.Background(), "it-session"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second lock err = %v, want ErrLockTimeout", err)
	}
	unlock()
	again, err := l.Lock(context.Background(), "it-session")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}
