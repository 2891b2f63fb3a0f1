package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsync/pkg/client"
	"roomsync/pkg/record"
	"roomsync/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	serverVar := flag.String("server", "ws://127.0.0.1:8080", "the sync server base URL")
	roomVar := flag.String("room", "example", "the room to join")
	nameVar := flag.String("name", "headless", "the display name for presence")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := client.Open(ctx, client.Options{
		ServerURL: *serverVar,
		RoomID:    *roomVar,
		OnStatus: func(s client.Status) {
			slog.Info("connection status changed", "status", s)
		},
	})
	if err != nil {
		return err
	}

	unlisten := session.Store().Listen(
		store.Filter{Source: record.SourceRemote},
		func(ev store.Event) {
			c := ev.Entry.Changes
			slog.Info("applied remote batch", "seq", ev.Seq,
				"added", len(c.Added), "updated", len(c.Updated), "removed", len(c.Removed))
		},
	)
	defer unlisten()

	go editContinuously(ctx, session)
	go moveCursorContinuously(ctx, session, *nameVar)

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
		session.Close()
	case <-session.Done():
		if session.Status() == client.StatusRoomFull {
			return fmt.Errorf("room %s is full, pick another room", *roomVar)
		}
		return fmt.Errorf("connection lost for good")
	}
	return nil
}

// editContinuously rewrites one note record at random intervals, the minimal
// stand-in for a user editing the document.
func editContinuously(ctx context.Context, session *client.Session) {
	noteID := "note:" + session.ClientID()
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(5)))
		select {
		case <-t.C:
			err := session.Store().Put(record.Record{
				ID:   noteID,
				Type: "note",
				Props: map[string]any{
					"text": fmt.Sprintf("edited at %s", time.Now().Format(time.RFC3339)),
					"x":    float64(rand.Intn(800)),
					"y":    float64(rand.Intn(600)),
				},
			})
			if err != nil {
				slog.Error("failed to put note", "err", err)
			}
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// moveCursorContinuously random-walks the presence cursor.
func moveCursorContinuously(ctx context.Context, session *client.Session, name string) {
	x, y := 400.0, 300.0
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			x += float64(rand.Intn(21) - 10)
			y += float64(rand.Intn(21) - 10)
			session.SetPresence(client.Presence{
				CursorX: x,
				CursorY: y,
				Color:   "#4aa3ff",
				Name:    name,
			})
		case <-ctx.Done():
			return
		}
	}
}
