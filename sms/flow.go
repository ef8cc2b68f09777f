package sms

import (
	"context"
	"strings"

	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/store"
)

// Conversation states persisted in the store.
const (
	StateNone            = ""
	StateAwaitingConfirm = "awaiting_confirm"
)

// Reply texts for the keyword commands.
const (
	replyHelp = "Maryland Tax Navigator. Commands: STATUS for your filing status, " +
		"CONFIRM to approve filing your prepared return, STOP to opt out. " +
		"Msg&data rates may apply."
	replyStop      = "You are opted out and will receive no more messages. Reply START to opt back in."
	replyStart     = "You are opted back in. Reply HELP for commands."
	replyUnknown   = "Sorry, I didn't understand that. Reply HELP for commands."
	replyNoAccount = "We couldn't find an account for this number. Call 211 for filing help."
	replyNoReturn  = "No tax return on file for this number yet."
	replyNoConfirm = "Nothing is waiting for your confirmation."
	replyConfirmed = "Thank you. Your return is approved for filing and will be transmitted shortly."
)

// Flow is the keyword-driven SMS conversation state machine. Commands
// are deterministic keywords; anything else gets the fallback reply.
type Flow struct {
	db *store.DB

	// OnConfirm, when set, is invoked after a taxpayer confirms
	// filing. The caller uses it to enqueue the return.
	OnConfirm func(ctx context.Context, returnID string) error
}

// NewFlow creates the conversation flow over the given store.
func NewFlow(db *store.DB) *Flow {
	return &Flow{db: db}
}

// HandleInbound processes one inbound message and returns the reply
// body. An empty reply means no response should be sent.
func (f *Flow) HandleInbound(ctx context.Context, from, body string) (string, error) {
	keyword := normalizeKeyword(body)

	conv, err := f.db.GetConversation(ctx, from)
	if err != nil && err != store.ErrNotFound {
		return "", errors.Wrap(err, "sms: load conversation")
	}
	if conv == nil {
		conv = &store.Conversation{Phone: from}
	}

	// Opted-out numbers are silent except for START.
	if conv.OptedOut && keyword != "START" && keyword != "UNSTOP" {
		return "", nil
	}

	switch keyword {
	case "STOP", "STOPALL", "CANCEL", "END", "QUIT", "UNSUBSCRIBE":
		conv.OptedOut = true
		conv.State = StateNone
		if err := f.db.PutConversation(ctx, conv); err != nil {
			return "", errors.Wrap(err, "sms: save opt-out")
		}
		return replyStop, nil

	case "START", "UNSTOP":
		conv.OptedOut = false
		if err := f.db.PutConversation(ctx, conv); err != nil {
			return "", errors.Wrap(err, "sms: save opt-in")
		}
		return replyStart, nil

	case "HELP", "INFO":
		return replyHelp, nil

	case "STATUS":
		return f.statusReply(ctx, from)

	case "CONFIRM", "YES":
		return f.confirmReply(ctx, conv)

	default:
		return replyUnknown, nil
	}
}

// RequestConfirmation puts a phone into the awaiting-confirm state for
// a return and sends the prompt via the sender.
func (f *Flow) RequestConfirmation(ctx context.Context, sender Sender, phone, returnID string) error {
	conv, err := f.db.GetConversation(ctx, phone)
	if err != nil && err != store.ErrNotFound {
		return errors.Wrap(err, "sms: load conversation")
	}
	if conv == nil {
		conv = &store.Conversation{Phone: phone}
	}
	if conv.OptedOut {
		return errors.New(errors.ErrCodePrecondition, "sms: phone is opted out")
	}

	conv.State = StateAwaitingConfirm
	conv.ReturnID = returnID
	if err := f.db.PutConversation(ctx, conv); err != nil {
		return errors.Wrap(err, "sms: save conversation")
	}

	_, err = sender.Send(ctx, phone,
		"Your Maryland tax return is ready to file. Reply CONFIRM to approve filing, or HELP for options.")
	if err != nil {
		return errors.Wrap(err, "sms: send confirmation prompt")
	}
	return nil
}

// statusReply summarizes the taxpayer's latest return.
func (f *Flow) statusReply(ctx context.Context, phone string) (string, error) {
	hh, err := f.db.GetHouseholdByPhone(ctx, phone)
	if err == store.ErrNotFound {
		return replyNoAccount, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "sms: load household")
	}

	returns, err := f.db.ListReturns(ctx, hh.ID)
	if err != nil {
		return "", errors.Wrap(err, "sms: list returns")
	}
	if len(returns) == 0 {
		return replyNoReturn, nil
	}

	// Most recent tax year.
	latest := returns[0]
	for _, r := range returns[1:] {
		if r.TaxYear > latest.TaxYear {
			latest = r
		}
	}

	switch latest.Status {
	case store.ReturnStatusDraft:
		return "Your return is still being prepared.", nil
	case store.ReturnStatusReady:
		return "Your return is ready and waiting for your confirmation. Reply CONFIRM to approve filing.", nil
	case store.ReturnStatusFiled:
		return "Your return has been transmitted and is awaiting confirmation from the tax agency.", nil
	case store.ReturnStatusAccepted:
		return "Good news: your return was accepted.", nil
	case store.ReturnStatusRejected:
		return "Your return was rejected. A navigator will contact you to fix and refile it.", nil
	default:
		return replyNoReturn, nil
	}
}

// confirmReply handles the CONFIRM keyword.
func (f *Flow) confirmReply(ctx context.Context, conv *store.Conversation) (string, error) {
	if conv.State != StateAwaitingConfirm || conv.ReturnID == "" {
		return replyNoConfirm, nil
	}

	returnID := conv.ReturnID
	if err := f.db.SetReturnStatus(ctx, returnID, store.ReturnStatusReady); err != nil && err != store.ErrNotFound {
		return "", errors.Wrap(err, "sms: mark return ready")
	}

	if f.OnConfirm != nil {
		if err := f.OnConfirm(ctx, returnID); err != nil {
			return "", errors.Wrap(err, "sms: confirm hook")
		}
	}

	conv.State = StateNone
	conv.ReturnID = ""
	if err := f.db.PutConversation(ctx, conv); err != nil {
		return "", errors.Wrap(err, "sms: save conversation")
	}
	return replyConfirmed, nil
}

// normalizeKeyword extracts the command word from a message body.
func normalizeKeyword(body string) string {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
