package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jyothri/detach/detach"
	"golang.org/x/oauth2"
)

type inventoryRecord struct {
	RowNum          int       `db:"row_num"`
	Mark            string    `db:"mark"`
	MessageId       string    `db:"message_id"`
	Sender          string    `db:"sender"`
	Subject         string    `db:"subject"`
	MsgDate         time.Time `db:"msg_date"`
	AttachmentCount int       `db:"attachment_count"`
	AttachmentNote  string    `db:"attachment_note"`
	TotalSizeMiB    float64   `db:"total_size_mib"`
	Status          string    `db:"status"`
	Done            bool      `db:"done"`
}

func (r inventoryRecord) row() detach.InventoryRow {
	return detach.InventoryRow{
		Row:             r.RowNum,
		Mark:            r.Mark,
		MessageID:       r.MessageId,
		Sender:          r.Sender,
		Subject:         r.Subject,
		Date:            r.MsgDate,
		AttachmentCount: r.AttachmentCount,
		AttachmentNote:  r.AttachmentNote,
		TotalSizeMiB:    r.TotalSizeMiB,
		Status:          r.Status,
		Done:            r.Done,
	}
}

// Run is one search or processing pass.
type Run struct {
	Id        string         `db:"id" json:"run_id"`
	Kind      string         `db:"kind" json:"kind"`
	Detail    string         `db:"detail" json:"detail"`
	StartedAt time.Time      `db:"started_at" json:"started_at"`
	EndedAt   sql.NullTime   `db:"ended_at" json:"-"`
	Status    string         `db:"status" json:"status"`
	ErrorMsg  sql.NullString `db:"error_msg" json:"-"`
	Processed int            `db:"processed" json:"processed"`
	Failed    int            `db:"failed" json:"failed"`
}

// MarshalJSON adds the end time and error text when the run has them.
func (r Run) MarshalJSON() ([]byte, error) {
	type plain Run
	out := struct {
		plain
		EndedAt *time.Time `json:"ended_at,omitempty"`
		Error   string     `json:"error,omitempty"`
	}{plain: plain(r), Error: r.ErrorMsg.String}
	if r.EndedAt.Valid {
		out.EndedAt = &r.EndedAt.Time
	}
	return json.Marshal(out)
}

type PrivateToken struct {
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ClientKey    string    `db:"client_key"`
	CreatedOn    time.Time `db:"created_on"`
	DisplayName  string    `db:"display_name"`
	Scope        string    `db:"scope"`
	ExpiresIn    int       `db:"expires_in"`
	TokenType    string    `db:"token_type"`
}

// NewPrivateToken keeps what an authorization code exchange returned.
// The lifetime is taken from t.Expiry since Exchange leaves ExpiresIn unset.
func NewPrivateToken(t *oauth2.Token, clientKey, displayName string) PrivateToken {
	scope, _ := t.Extra("scope").(string)
	pt := PrivateToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ClientKey:    clientKey,
		DisplayName:  displayName,
		Scope:        scope,
		ExpiresIn:    int(t.ExpiresIn),
		TokenType:    t.TokenType,
	}
	if !t.Expiry.IsZero() {
		pt.ExpiresIn = max(int(time.Until(t.Expiry).Seconds()), 0)
	}
	return pt
}

const (
	RunRunning   = "Running"
	RunCompleted = "Completed"
	RunFailed    = "Failed"
)
