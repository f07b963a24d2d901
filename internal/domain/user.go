package domain

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of a user record.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusBlocked Status = "blocked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusBlocked:
		return true
	default:
		return false
	}
}

// User is the persisted user record. CreatedAt and UpdatedAt are set by the
// synchronizer when it writes, never taken from event payloads.
type User struct {
	ID        string    `json:"id" dynamodbav:"id"`
	FirstName string    `json:"firstName" dynamodbav:"firstName"`
	LastName  string    `json:"lastName" dynamodbav:"lastName"`
	Email     string    `json:"email" dynamodbav:"email"`
	DOB       string    `json:"dob" dynamodbav:"dob"`
	Status    Status    `json:"status" dynamodbav:"status"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// IsBlocked reports whether updates must be refused for u.
func (u *User) IsBlocked() bool {
	return u != nil && u.Status == StatusBlocked
}

// Attribute names shared by the stores and the update payload.
const (
	AttrID        = "id"
	AttrFirstName = "firstName"
	AttrLastName  = "lastName"
	AttrEmail     = "email"
	AttrDOB       = "dob"
	AttrStatus    = "status"
	AttrCreatedAt = "createdAt"
	AttrUpdatedAt = "updatedAt"
)

// MutableAttributes lists the attributes an update event may change.
var MutableAttributes = []string{AttrFirstName, AttrLastName, AttrEmail, AttrDOB, AttrStatus}

// UserPayload is the "user" object of a queue event. Pointer fields distinguish an
// absent attribute from an empty one.
type UserPayload struct {
	ID        string  `json:"id"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
	DOB       *string `json:"dob,omitempty"`
	Status    *string `json:"status,omitempty"`
}

// Patch returns the attributes present in p, excluding id.
func (p UserPayload) Patch() map[string]string {
	fields := make(map[string]string, len(MutableAttributes))
	set := func(name string, value *string) {
		if value != nil {
			fields[name] = *value
		}
	}

	set(AttrFirstName, p.FirstName)
	set(AttrLastName, p.LastName)
	set(AttrEmail, p.Email)
	set(AttrDOB, p.DOB)
	set(AttrStatus, p.Status)

	return fields
}

// Apply merges fields into a copy of u and returns it.
func (u User) Apply(fields map[string]string) User {
	for name, value := range fields {
		switch name {
		case AttrFirstName:
			u.FirstName = value
		case AttrLastName:
			u.LastName = value
		case AttrEmail:
			u.Email = value
		case AttrDOB:
			u.DOB = value
		case AttrStatus:
			u.Status = Status(value)
		}
	}
	return u
}

// Event is a validated queue message.
type Event struct {
	Operation     Operation
	User          json.RawMessage
	MessageID     string
	ReceiptHandle string
}
