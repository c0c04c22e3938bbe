package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Mode      string      `json:"mode,omitempty"`
	Wallet    string      `json:"wallet,omitempty"`
	Cache     CacheStatus `json:"cache"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ChatButton struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// ChatReply is the envelope payload of one handled chat message.
type ChatReply struct {
	Platform string         `json:"platform"`
	UserID   string         `json:"user_id"`
	Text     string         `json:"text"`
	Buttons  [][]ChatButton `json:"buttons,omitempty"`
}

// PlainText renders the reply as the chat user would see it.
func (r ChatReply) PlainText() string { return r.Text }

type DelegateResolution struct {
	Query       string `json:"query"`
	Hotkey      string `json:"hotkey"`
	DisplayName string `json:"display_name"`
}

type DelegateSnapshot struct {
	Entries   int       `json:"entries"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
}

type DoctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}
