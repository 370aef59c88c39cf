package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/lifelog-publisher/internal/domain"
)

func TestCreateResult_OnePerWindow(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()

	now := t0.Add(time.Minute)
	r := &domain.PublishedResult{WindowID: "w1", UserID: "u1", Status: domain.StatePublished, ExternalArticleID: "e1", ExternalURL: "https://blog/e1", Title: "T", PublishedAt: &now}
	if err := CreateResult(ctx, db, r); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("ID should be assigned")
	}
	dup := &domain.PublishedResult{WindowID: "w1", UserID: "u1", Status: domain.StateFailed, Reason: "again"}
	if err := CreateResult(ctx, db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := GetResult(ctx, db, "w1")
	if err != nil || got.Status != domain.StatePublished || got.ExternalArticleID != "e1" {
		t.Fatalf("GetResult = %+v, %v", got, err)
	}
	if _, err := GetResult(ctx, db, "w2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateResultArticle_PublishedOnly(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()

	_ = CreateResult(ctx, db, &domain.PublishedResult{WindowID: "ok", UserID: "u1", Status: domain.StatePublished, Title: "old", ExternalURL: "u-old"})
	_ = CreateResult(ctx, db, &domain.PublishedResult{WindowID: "bad", UserID: "u1", Status: domain.StateFailed, Reason: "x"})

	if err := UpdateResultArticle(ctx, db, "ok", "new", "u-new"); err != nil {
		t.Fatalf("UpdateResultArticle: %v", err)
	}
	got, _ := GetResult(ctx, db, "ok")
	if got.Title != "new" || got.ExternalURL != "u-new" {
		t.Fatalf("not updated: %+v", got)
	}
	if err := UpdateResultArticle(ctx, db, "bad", "new", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed result must not be revised, got %v", err)
	}
}

func TestListInterrupted_ClaimedWithoutResult(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()

	mk := func(user string, claim bool) *domain.Window {
		w, err := CreateWindow(ctx, db, user, t0, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("CreateWindow: %v", err)
		}
		_, _ = SealWindow(ctx, db, w.ID)
		if claim {
			_, _ = ClaimFinalize(ctx, db, w.ID)
		}
		return w
	}
	interrupted := mk("a", true)
	done := mk("b", true)
	_ = mk("c", false) // pending, not interrupted
	_ = CreateResult(ctx, db, &domain.PublishedResult{WindowID: done.ID, UserID: "b", Status: domain.StatePublished})

	got, err := ListInterrupted(ctx, db)
	if err != nil {
		t.Fatalf("ListInterrupted: %v", err)
	}
	if len(got) != 1 || got[0].ID != interrupted.ID {
		t.Fatalf("unexpected interrupted set: %+v", got)
	}
}
