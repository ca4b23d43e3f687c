/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"time"
)

// Message is one unit of work read off the queue: a document to process.
// The payload itself is stored externally; the message only carries a
// reference to it.
type Message struct {
	// ID is the queue-assigned message identity, used as the receipt
	// handle for Ack/Return/Fail.
	ID string `json:"id"`

	// JobID is the caller-supplied job identity.
	JobID string `json:"jobId"`

	// PayloadRef is a URI pointing at the externally stored document content.
	PayloadRef string `json:"payloadRef"`

	// ExecutionID is assigned once at enqueue time and survives
	// redeliveries, so every retry of the job resumes the same
	// result-cache entry.
	ExecutionID string `json:"executionId"`

	// EnqueuedAt is the message arrival timestamp.
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// Attempts is the number of deliveries of this message so far.
	// Incremented atomically on each receive; refunded by Return.
	Attempts int `json:"attempts"`

	// LastError is the failure recorded by the most recent Fail call.
	LastError string `json:"lastError,omitempty"`
}

// DeadLetterRecord is what lands on the dead-letter destination: the
// original message plus accumulated failure metadata for operator
// inspection.
type DeadLetterRecord struct {
	RecordID       string    `json:"recordId"`
	Message        Message   `json:"message"`
	LastError      string    `json:"lastError"`
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
}

// Depths holds the observable sizes of the queue sections.
type Depths struct {
	Pending    int `json:"pending"`
	InFlight   int `json:"inFlight"`
	DeadLetter int `json:"deadLetter"`
}
