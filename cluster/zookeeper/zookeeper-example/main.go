package main

import (
	"context"
	"log"
	"sync"
	"time"

	zklocking "github.com/clusterkit/zklocks/cluster/zookeeper"
)

func main() {
	// Init a Lock.
	cfg := zklocking.ZooKeeperLockConfig{
		Address:   "localhost:2181",
		Namespace: "example-app",
		Name:      "resource-{id}",
	}

	lock, err := zklocking.NewZooKeeperLock(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer lock.Close()

	params := zklocking.Params{"id": "123"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg = &sync.WaitGroup{}
	wg.Add(2)

	// Get the lock.
	h1, err := lock.Acquire(ctx, params)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[process 1] I've got the lock (%s)!\n", h1.Znode())

	// An imaginary second process attempting a non-blocking lock. This one
	// fails immediately.
	go func() {
		defer wg.Done()
		if _, err := lock.TryAcquire(ctx, params); err != nil {
			log.Printf("[process 2] error: %s\n", err)
		}
	}()

	// Another imaginary process attempting a lock. This one waits, but
	// succeeds after the first lock is relinquished.
	go func() {
		defer wg.Done()
		h3, err := lock.Acquire(ctx, params)
		if err != nil {
			log.Printf("[process 3] error: %s\n", err)
			return
		}
		log.Println("[process 3] I've got the lock!")
		h3.Release(context.Background())
	}()

	// The first process releases the lock.
	time.Sleep(time.Second)
	if err := h1.Release(context.Background()); err != nil {
		log.Printf("[process 1] error: %s\n", err)
	} else {
		log.Println("[process 1] I've released the lock!")
	}

	wg.Wait()
}
