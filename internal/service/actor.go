package service

import "github.com/cassiomorais/newsletters/internal/domain/subscriber"

// Actor is the identity behind a request. Only the user id is ever compared;
// nothing here is an authorisation decision. The zero value is anonymous.
type Actor struct {
	UserID   string
	Mail     string
	Langcode string
}

func (a Actor) IsAuthenticated() bool {
	return a.UserID != ""
}

// Account returns the user account the actor is logged in with.
func (a Actor) Account() subscriber.Account {
	return subscriber.Account{UserID: a.UserID, Mail: a.Mail, Langcode: a.Langcode}
}
