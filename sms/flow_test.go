package sms

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mdtaxnav/navigator/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "flow_test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedHousehold(t *testing.T, db *store.DB, phone string) *store.Household {
	t.Helper()
	hh := &store.Household{Phone: phone, County: "Baltimore City"}
	if err := db.CreateHousehold(context.Background(), hh); err != nil {
		t.Fatalf("failed to create household: %v", err)
	}
	return hh
}

func seedReturn(t *testing.T, db *store.DB, householdID string, year int, status string) *store.TaxReturn {
	t.Helper()
	r := &store.TaxReturn{HouseholdID: householdID, TaxYear: year}
	if err := db.CreateReturn(context.Background(), r); err != nil {
		t.Fatalf("failed to create return: %v", err)
	}
	if status != "" && status != store.ReturnStatusDraft {
		if err := db.SetReturnStatus(context.Background(), r.ID, status); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}
		r.Status = status
	}
	return r
}

func TestFlow_Help(t *testing.T) {
	flow := NewFlow(openTestDB(t))

	for _, body := range []string{"HELP", "help", "  Help  ", "INFO"} {
		reply, err := flow.HandleInbound(context.Background(), "+14105550123", body)
		if err != nil {
			t.Fatalf("HandleInbound(%q) failed: %v", body, err)
		}
		if reply != replyHelp {
			t.Errorf("HandleInbound(%q) = %q, want help text", body, reply)
		}
	}
}

func TestFlow_Unknown(t *testing.T) {
	flow := NewFlow(openTestDB(t))

	reply, err := flow.HandleInbound(context.Background(), "+14105550123", "what is my refund?")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if reply != replyUnknown {
		t.Errorf("expected fallback reply, got %q", reply)
	}
}

func TestFlow_StopAndStart(t *testing.T) {
	db := openTestDB(t)
	flow := NewFlow(db)
	ctx := context.Background()
	phone := "+14105550123"

	reply, err := flow.HandleInbound(ctx, phone, "STOP")
	if err != nil {
		t.Fatalf("STOP failed: %v", err)
	}
	if reply != replyStop {
		t.Errorf("expected stop reply, got %q", reply)
	}

	conv, err := db.GetConversation(ctx, phone)
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if !conv.OptedOut {
		t.Error("expected opted out")
	}

	// Opted-out numbers are silent.
	reply, err = flow.HandleInbound(ctx, phone, "STATUS")
	if err != nil {
		t.Fatalf("STATUS failed: %v", err)
	}
	if reply != "" {
		t.Errorf("expected silence for opted-out number, got %q", reply)
	}

	// START opts back in.
	reply, err = flow.HandleInbound(ctx, phone, "START")
	if err != nil {
		t.Fatalf("START failed: %v", err)
	}
	if reply != replyStart {
		t.Errorf("expected start reply, got %q", reply)
	}

	conv, _ = db.GetConversation(ctx, phone)
	if conv.OptedOut {
		t.Error("expected opted back in")
	}
}

func TestFlow_Status(t *testing.T) {
	db := openTestDB(t)
	flow := NewFlow(db)
	ctx := context.Background()

	// No household.
	reply, err := flow.HandleInbound(ctx, "+14105559999", "STATUS")
	if err != nil {
		t.Fatalf("STATUS failed: %v", err)
	}
	if reply != replyNoAccount {
		t.Errorf("expected no-account reply, got %q", reply)
	}

	// Household without returns.
	hh := seedHousehold(t, db, "+14105550123")
	reply, _ = flow.HandleInbound(ctx, hh.Phone, "STATUS")
	if reply != replyNoReturn {
		t.Errorf("expected no-return reply, got %q", reply)
	}

	// The most recent tax year wins.
	seedReturn(t, db, hh.ID, 2024, store.ReturnStatusAccepted)
	seedReturn(t, db, hh.ID, 2025, store.ReturnStatusFiled)

	reply, _ = flow.HandleInbound(ctx, hh.Phone, "STATUS")
	if !strings.Contains(reply, "transmitted") {
		t.Errorf("expected filed status for 2025, got %q", reply)
	}
}

func TestFlow_ConfirmLifecycle(t *testing.T) {
	db := openTestDB(t)
	flow := NewFlow(db)
	ctx := context.Background()

	hh := seedHousehold(t, db, "+14105550123")
	ret := seedReturn(t, db, hh.ID, 2025, store.ReturnStatusDraft)

	// CONFIRM with nothing pending.
	reply, err := flow.HandleInbound(ctx, hh.Phone, "CONFIRM")
	if err != nil {
		t.Fatalf("CONFIRM failed: %v", err)
	}
	if reply != replyNoConfirm {
		t.Errorf("expected nothing-to-confirm, got %q", reply)
	}

	// Prompt for confirmation.
	sender := NewMemorySender()
	if err := flow.RequestConfirmation(ctx, sender, hh.Phone, ret.ID); err != nil {
		t.Fatalf("RequestConfirmation failed: %v", err)
	}
	if len(sender.Sent()) != 1 {
		t.Fatalf("expected 1 prompt sent, got %d", len(sender.Sent()))
	}
	if sender.Sent()[0].To != hh.Phone {
		t.Errorf("prompt sent to %s, want %s", sender.Sent()[0].To, hh.Phone)
	}

	var confirmed string
	flow.OnConfirm = func(ctx context.Context, returnID string) error {
		confirmed = returnID
		return nil
	}

	reply, err = flow.HandleInbound(ctx, hh.Phone, "CONFIRM")
	if err != nil {
		t.Fatalf("CONFIRM failed: %v", err)
	}
	if reply != replyConfirmed {
		t.Errorf("expected confirmed reply, got %q", reply)
	}
	if confirmed != ret.ID {
		t.Errorf("expected OnConfirm with %s, got %s", ret.ID, confirmed)
	}

	got, err := db.GetReturn(ctx, ret.ID)
	if err != nil {
		t.Fatalf("failed to load return: %v", err)
	}
	if got.Status != store.ReturnStatusReady {
		t.Errorf("expected return ready, got %s", got.Status)
	}

	// State is cleared: a second CONFIRM has nothing pending.
	reply, _ = flow.HandleInbound(ctx, hh.Phone, "CONFIRM")
	if reply != replyNoConfirm {
		t.Errorf("expected nothing-to-confirm after reset, got %q", reply)
	}
}

func TestFlow_RequestConfirmation_OptedOut(t *testing.T) {
	db := openTestDB(t)
	flow := NewFlow(db)
	ctx := context.Background()
	phone := "+14105550123"

	if _, err := flow.HandleInbound(ctx, phone, "STOP"); err != nil {
		t.Fatalf("STOP failed: %v", err)
	}

	sender := NewMemorySender()
	err := flow.RequestConfirmation(ctx, sender, phone, "ret-1")
	if err == nil {
		t.Fatal("expected error for opted-out phone")
	}
	if len(sender.Sent()) != 0 {
		t.Errorf("expected no messages sent, got %d", len(sender.Sent()))
	}
}
