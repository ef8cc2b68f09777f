package sms

import (
	"encoding/xml"
	"net/http"

	"go.uber.org/zap"

	"github.com/mdtaxnav/navigator/logging"
)

// twiml is the minimal TwiML response envelope.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// WebhookHandler serves inbound Twilio SMS webhooks: it validates the
// request signature, runs the conversation flow, and answers with
// TwiML so Twilio delivers the reply.
type WebhookHandler struct {
	flow      *Flow
	authToken string
	publicURL string // externally visible URL of this endpoint
	logger    *logging.Logger
}

// NewWebhookHandler creates the inbound webhook handler. publicURL
// must be the exact URL Twilio posts to, since it is part of the
// signed payload.
func NewWebhookHandler(flow *Flow, authToken, publicURL string, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WebhookHandler{
		flow:      flow,
		authToken: authToken,
		publicURL: publicURL,
		logger:    logger.WithComponent("sms.webhook"),
	}
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Twilio-Signature")
	if !ValidateSignature(h.authToken, h.publicURL, r.PostForm, sig) {
		h.logger.Warn("webhook signature rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	reply, err := h.flow.HandleInbound(r.Context(), from, body)
	if err != nil {
		h.logger.Error("inbound flow failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	out, _ := xml.Marshal(twiml{Message: reply})
	w.Write([]byte(xml.Header))
	w.Write(out)
}
