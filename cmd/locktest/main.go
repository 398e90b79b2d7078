package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	zklocking "github.com/clusterkit/zklocks/cluster/zookeeper"

	"github.com/hashicorp/go-hclog"
	"github.com/jamiealquiza/envy"
)

// Config holds configuration parameters.
var Config struct {
	ZKAddr      string
	Namespace   string
	Name        string
	Params      string
	Hold        time.Duration
	Timeout     time.Duration
	NonBlocking bool
}

func main() {
	flag.StringVar(&Config.ZKAddr, "zk-addr", "localhost:2181", "ZooKeeper connect string")
	flag.StringVar(&Config.Namespace, "namespace", "locktest", "Lock namespace")
	flag.StringVar(&Config.Name, "name", "resource-{id}", "Lock name template")
	flag.StringVar(&Config.Params, "params", "id=1", "Lock parameters (comma delim. k=v list)")
	flag.DurationVar(&Config.Hold, "hold", 5*time.Second, "How long to hold the lock")
	flag.DurationVar(&Config.Timeout, "timeout", 0, "Max time to wait for the lock (0 waits forever)")
	flag.BoolVar(&Config.NonBlocking, "non-blocking", false, "Fail immediately if the lock is held")

	envy.Parse("LOCKTEST")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "locktest"})

	lock, err := zklocking.NewZooKeeperLock(zklocking.ZooKeeperLockConfig{
		Address:   Config.ZKAddr,
		Namespace: Config.Namespace,
		Name:      Config.Name,
		Logger:    logger,
	})
	exitOnErr(err)
	defer lock.Close()

	// Session establishment is asynchronous.
	for i := 0; !lock.Ready(); i++ {
		if i > 100 {
			exitOnErr(fmt.Errorf("no ZooKeeper session after 10s"))
		}
		time.Sleep(100 * time.Millisecond)
	}

	params, err := parseParams(Config.Params)
	exitOnErr(err)

	ctx := context.Background()
	if Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, Config.Timeout)
		defer cancel()
	}

	var handle *zklocking.Handle
	if Config.NonBlocking {
		handle, err = lock.TryAcquire(ctx, params)
	} else {
		handle, err = lock.Acquire(ctx, params)
	}
	exitOnErr(err)

	logger.Info("holding lock", "znode", handle.Znode(), "for", Config.Hold.String())
	time.Sleep(Config.Hold)

	exitOnErr(handle.Release(context.Background()))
}

func parseParams(s string) (zklocking.Params, error) {
	params := zklocking.Params{}
	if s == "" {
		return params, nil
	}

	for _, pair := range strings.Split(s, ",") {
		k, v, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid parameter %q; expected k=v", pair)
		}
		params[k] = v
	}

	return params, nil
}

func exitOnErr(e error) {
	if e != nil {
		fmt.Println(e)
		os.Exit(1)
	}
}
