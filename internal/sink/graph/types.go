package graph

import (
	"encoding/base64"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string           `json:"subject"`
	Body         messageBody      `json:"body"`
	ToRecipients []recipient      `json:"toRecipients"`
	CcRecipients []recipient      `json:"ccRecipients,omitempty"`
	ReplyTo      []recipient      `json:"replyTo,omitempty"`
	Attachments  []fileAttachment `json:"attachments,omitempty"`
	Headers      []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// internetHeader is a custom X- header carried on the forwarded message.
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}

// buildSendMailRequest converts a decoded mail into a sendMail request body.
// Graph carries a single body, so the HTML parts win over the text parts.
func buildSendMailRequest(m *mail.ParsedMail, to, cc []string) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: strings.Join(m.ContentText, "\n")}
	if len(m.ContentHTML) > 0 {
		body = messageBody{ContentType: "html", Content: strings.Join(m.ContentHTML, "\n")}
	}

	msg := sendMailMessage{
		Subject:      m.Subject,
		Body:         body,
		ToRecipients: recipients(to),
	}
	if len(cc) > 0 {
		msg.CcRecipients = recipients(cc)
	}
	if addr := replyAddress(m.From); addr != "" {
		msg.ReplyTo = recipients([]string{addr})
	}
	if id := m.Headers.Get("Message-ID"); id != "" {
		msg.Headers = []internetHeader{{Name: "X-Original-Message-ID", Value: id}}
	}

	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Data),
		})
	}

	return &sendMailRequest{Message: msg}
}
