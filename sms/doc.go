// Package sms wraps Twilio for outbound messages and runs the inbound
// keyword conversation flow.
//
// Outbound:
//
//	client, err := sms.NewTwilioClient(sms.TwilioConfig{
//		AccountSID: creds.Get("twilio").Username,
//		AuthToken:  creds.Get("twilio").Secret,
//		From:       "+14105550100",
//	})
//	sid, err := client.Send(ctx, "+14105550123", "Your return was accepted.")
//
// Inbound messages arrive on a Twilio webhook. WebhookHandler
// validates the X-Twilio-Signature header (HMAC-SHA1 over the request
// URL and sorted POST parameters) and feeds the message to the Flow,
// a deterministic keyword state machine: STATUS, CONFIRM, HELP,
// STOP/START. Per-phone state lives in the store's conversations
// table. Free-form language is answered with the HELP hint, never
// interpreted.
package sms
