package progress_test

import (
	"context"
	"testing"
	"time"

	"docket/internal/events"
	"docket/internal/progress"
)

func TestTrackerUpdateAndSnapshot(t *testing.T) {
	tracker := progress.NewTracker(nil)
	tracker.Update(context.Background(), "task-1", "extract", 40, "pages 2/5")

	update, ok := tracker.Snapshot("task-1")
	if !ok {
		t.Fatal("expected snapshot for tracked task")
	}
	if update.Percent != 40 || update.Stage != "extract" || update.Message != "pages 2/5" {
		t.Fatalf("unexpected update: %+v", update)
	}

	again, ok := tracker.Snapshot("task-1")
	if !ok {
		t.Fatal("expected snapshot on second read")
	}
	if again != update {
		t.Fatalf("repeated reads differ: %+v vs %+v", update, again)
	}
}

func TestTrackerLastWriteWins(t *testing.T) {
	tracker := progress.NewTracker(nil)
	ctx := context.Background()
	tracker.Update(ctx, "task-1", "ocr", 80, "almost")
	tracker.Update(ctx, "task-1", "ocr", 30, "rescanning")

	update, _ := tracker.Snapshot("task-1")
	if update.Percent != 30 {
		t.Fatalf("expected newest write to win, got %f", update.Percent)
	}
}

func TestTrackerClampsPercent(t *testing.T) {
	tracker := progress.NewTracker(nil)
	ctx := context.Background()
	tracker.Update(ctx, "low", "s", -20, "")
	tracker.Update(ctx, "high", "s", 400, "")

	if update, _ := tracker.Snapshot("low"); update.Percent != 0 {
		t.Fatalf("expected clamp to 0, got %f", update.Percent)
	}
	if update, _ := tracker.Snapshot("high"); update.Percent != 100 {
		t.Fatalf("expected clamp to 100, got %f", update.Percent)
	}
}

func TestTrackerPublishesUpdates(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(4, events.TopicTaskProgress)

	tracker := progress.NewTracker(bus)
	tracker.Update(context.Background(), "task-9", "index", 55, "halfway")

	select {
	case evt := <-sub.C():
		if evt.Payload[events.KeyTaskID] != "task-9" {
			t.Fatalf("unexpected task id: %v", evt.Payload[events.KeyTaskID])
		}
		if evt.Payload[events.KeyPercent] != 55.0 {
			t.Fatalf("unexpected percent: %v", evt.Payload[events.KeyPercent])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}

func TestTrackerForget(t *testing.T) {
	tracker := progress.NewTracker(nil)
	tracker.Update(context.Background(), "task-1", "s", 10, "")
	tracker.Forget("task-1")
	if _, ok := tracker.Snapshot("task-1"); ok {
		t.Fatal("expected task forgotten")
	}
	if len(tracker.All()) != 0 {
		t.Fatal("expected empty tracker")
	}
}

func TestTrackerIgnoresEmptyTaskID(t *testing.T) {
	tracker := progress.NewTracker(nil)
	tracker.Update(context.Background(), "", "s", 10, "")
	if len(tracker.All()) != 0 {
		t.Fatal("expected no entry for empty task id")
	}
}
