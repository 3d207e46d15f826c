// Package mail builds the outbound messages of the service: newsletter
// issues, confirmation requests and test sends.
package mail

import (
	netmail "net/mail"
	"strings"
)

// Kind groups messages for metrics and logging.
type Kind string

const (
	KindNewsletter   Kind = "newsletter"
	KindConfirmation Kind = "confirmation"
	KindTest         Kind = "test"
)

// Message keys identify the template a message was built from.
const (
	KeyIssue             = "issue"
	KeyTest              = "test"
	KeySubscribeCombined = "subscribe_combined"
	KeySubscribe         = "subscribe"
	KeyUnsubscribe       = "unsubscribe"
)

// Message is a fully rendered mail ready for a transport.
type Message struct {
	Key      string
	Kind     Kind
	To       string
	From     string
	FromName string
	ReplyTo  string
	Subject  string
	Body     string
	HTML     string
	Langcode string
	Headers  map[string]string
}

// FromHeader formats the sender for a From header.
func (m *Message) FromHeader() string {
	if m.FromName == "" {
		return m.From
	}
	return (&netmail.Address{Name: m.FromName, Address: m.From}).String()
}

// SetHeader sets an extra header, creating the map on first use.
func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[name] = value
}

// Domain returns the part of the sender address after the @.
func (m *Message) Domain() string {
	if i := strings.LastIndexByte(m.From, '@'); i >= 0 {
		return m.From[i+1:]
	}
	return "localhost"
}
