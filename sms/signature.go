package sms

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// ComputeSignature returns the Twilio webhook signature for a request:
// the full request URL with every POST parameter appended in key order,
// HMAC-SHA1 signed with the auth token, base64 encoded.
func ComputeSignature(authToken, requestURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := requestURL
	for _, k := range keys {
		for _, v := range params[k] {
			payload += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a webhook's X-Twilio-Signature header in
// constant time.
func ValidateSignature(authToken, requestURL string, params url.Values, signature string) bool {
	expected := ComputeSignature(authToken, requestURL, params)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
