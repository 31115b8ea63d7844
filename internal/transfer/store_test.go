package transfer_test

import (
	"context"
	"testing"

	"spool/internal/identity"
	"spool/internal/media"
	"spool/internal/testsupport"
	"spool/internal/transfer"
)

func openStore(t *testing.T) *transfer.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func episodeRecord(t *testing.T, rating string) transfer.Record {
	t.Helper()
	key, err := identity.MakeKey("srv1", rating)
	if err != nil {
		t.Fatalf("MakeKey: %v", err)
	}
	season, _ := identity.MakeKey("srv1", "7")
	show, _ := identity.MakeKey("srv1", "5")
	item := media.NewEpisode(key, "Pilot", "/library/parts/71/e01.mkv", &season, &show)
	return transfer.Record{
		Key:              key,
		TransferID:       "transfer-" + rating,
		Status:           transfer.StatusQueued,
		CurrentFileLabel: "Pilot",
		SourceURL:        "https://plex.example.com/library/parts/71/e01.mkv",
		TargetPath:       "/downloads/e01.mkv",
		ParentKey:        &season,
		GrandparentKey:   &show,
		MetadataJSON:     item.ToJSON(),
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	want := episodeRecord(t, "71")
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, want.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	if got.Status != transfer.StatusQueued || got.TransferID != want.TransferID {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.ParentKey == nil || got.ParentKey.String() != "srv1:7" {
		t.Fatalf("unexpected parent key: %v", got.ParentKey)
	}
	if got.GrandparentKey == nil || got.GrandparentKey.String() != "srv1:5" {
		t.Fatalf("unexpected grandparent key: %v", got.GrandparentKey)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	item, ok := got.Metadata()
	if !ok {
		t.Fatal("expected embedded metadata to parse")
	}
	if item.Type != media.TypeEpisode || item.Title != "Pilot" {
		t.Fatalf("unexpected metadata: %+v", item)
	}
}

func TestStoreGetMissingReturnsNil(t *testing.T) {
	store := openStore(t)
	key, _ := identity.MakeKey("srv1", "404")
	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing record, got %+v", got)
	}
}

func TestStorePutUpsertsByKey(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record := episodeRecord(t, "71")
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put: %v", err)
	}
	record.Status = transfer.StatusDownloading
	record.ProgressPercent = 40
	record.DownloadedBytes = 400
	record.TotalBytes = 1000
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if all[0].Status != transfer.StatusDownloading || all[0].ProgressPercent != 40 {
		t.Fatalf("unexpected record: %+v", all[0])
	}
}

func TestStoreRejectsPartialStatus(t *testing.T) {
	store := openStore(t)
	record := episodeRecord(t, "71")
	record.Status = transfer.StatusPartial
	if err := store.Put(context.Background(), record); err == nil {
		t.Fatal("expected partial status to be rejected")
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record := episodeRecord(t, "71")
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, record.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, record.Key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if got, _ := store.Get(ctx, record.Key); got != nil {
		t.Fatal("expected record removed")
	}
}

func TestStoreRequeueInterrupted(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	downloading := episodeRecord(t, "71")
	downloading.Status = transfer.StatusDownloading
	paused := episodeRecord(t, "72")
	paused.Status = transfer.StatusPaused
	completed := episodeRecord(t, "73")
	completed.Status = transfer.StatusCompleted
	for _, record := range []transfer.Record{downloading, paused, completed} {
		if err := store.Put(ctx, record); err != nil {
			t.Fatalf("Put %s: %v", record.Key, err)
		}
	}

	requeued, err := store.RequeueInterrupted(ctx)
	if err != nil {
		t.Fatalf("RequeueInterrupted: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}

	got, err := store.Get(ctx, downloading.Key)
	if err != nil || got == nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != transfer.StatusQueued {
		t.Fatalf("interrupted record status = %q, want queued", got.Status)
	}
	if gotPaused, _ := store.Get(ctx, paused.Key); gotPaused.Status != transfer.StatusPaused {
		t.Fatal("paused record must not be requeued")
	}
	if gotCompleted, _ := store.Get(ctx, completed.Key); gotCompleted.Status != transfer.StatusCompleted {
		t.Fatal("completed record must not be requeued")
	}
}
