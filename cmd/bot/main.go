// A minimal observer client: joins the world, watches its own player
// entity and the clock, and pokes at its faith so there is something to
// watch. Useful for eyeballing the replication stream against a running
// server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigilkeep.gg/internal/replica"
	"vigilkeep.gg/internal/sim/authority"
	"vigilkeep.gg/internal/transport/ws"
)

func main() {
	var (
		url  = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "server websocket url")
		name = flag.String("name", "bot", "player name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := ws.Dial(ctx, *url, ws.ClientOptions{PlayerName: *name}, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer client.Close()

	logger.Printf("joined as %s", client.PlayerID())

	client.OnCommandRejected(func(cmdID, code, message string) {
		logger.Printf("rejected %s: %s %s", cmdID, code, message)
	})

	reg := client.Cache().Registry()
	sub := reg.Subscribe(client.PlayerID(), func(entityID, field string, old, new any) {
		logger.Printf("%s.%s: %v -> %v", entityID, field, old, new)
	})
	defer sub.Unsubscribe()

	life := reg.SubscribeLifecycle(func(entityID string, ev replica.LifecycleEvent) {
		switch ev {
		case replica.EntityActivated:
			logger.Printf("entity up: %s", entityID)
		case replica.EntityDestroyed:
			logger.Printf("entity gone: %s", entityID)
		case replica.EntityStale:
			logger.Printf("entity stale: %s", entityID)
		}
	})
	defer life.Unsubscribe()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			logger.Printf("connection closed")
			return
		case <-ticker.C:
			if _, err := client.IssueCommand(client.PlayerID(), authority.KindFaithReduce, map[string]any{"amount": 10}); err != nil {
				logger.Printf("issue: %v", err)
			}
		}
	}
}
