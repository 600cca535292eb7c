package stomp

import (
	"fmt"

	"go.uber.org/multierr"

	"gostomp/frame"
	"gostomp/internal/errs"
)

// ConsumedMessage is the caller's view of one delivered MESSAGE frame,
// carrying everything Unreceive needs to either redeliver or dead-letter
// it. Destination/Subscription/AckMode/Headers mirror the MESSAGE frame
// as received; AckID is the ack identifier extracted from it (the
// "message-id" header under 1.0/1.1, the "ack" header under 1.2) so
// Unreceive doesn't need to know the negotiated version to ack correctly.
type ConsumedMessage struct {
	MessageID    string
	AckID        string
	Destination  string
	Subscription string
	AckMode      string
	RetryCount   int
	Headers      map[string]string
	Body         []byte
}

// UnreceiveOptions configures the redelivery/dead-letter policy spec.md
// §4.7 describes.
type UnreceiveOptions struct {
	MaxRetries             int
	DeadLetterDestination  string
	DeadLetterHeaderPrefix string // prepended to copied original headers on the DLQ publish
	RequeueTransactionID   string // empty: Unreceive derives one from the message id and retry count
	ForceClientAck         bool   // ack the original delivery even if its subscription wasn't client-ack
}

// DefaultUnreceiveOptions returns the spec.md §4.7 defaults: 6 retries
// before dead-lettering, DLQ headers prefixed "original_".
func DefaultUnreceiveOptions() UnreceiveOptions {
	return UnreceiveOptions{
		MaxRetries:             6,
		DeadLetterDestination:  "/queue/dead-letter",
		DeadLetterHeaderPrefix: "original_",
	}
}

// Unreceive implements spec.md §4.7's transactional redelivery helper and
// its scenario 6: ack the original delivery (only if its subscription was
// client-ack, or opts.ForceClientAck overrides that) inside a transaction
// named after the message itself, then either republish the message body
// to its original destination with retry_count incremented for another
// attempt, or, once msg.RetryCount reaches opts.MaxRetries, publish it to
// the dead-letter destination with its original headers preserved under
// the configured prefix. Any failure aborts the transaction and returns a
// combined error covering both the original failure and the abort
// outcome.
func (c *Connection) Unreceive(msg ConsumedMessage, opts UnreceiveOptions) error {
	txID := opts.RequeueTransactionID
	if txID == "" {
		txID = fmt.Sprintf("transaction-%s-%d", msg.MessageID, msg.RetryCount)
	}

	if err := c.Begin(txID); err != nil {
		return err
	}

	if err := c.ackConsumed(msg, opts, txID); err != nil {
		return c.abortAndWrap(txID, err)
	}

	var pubErr error
	if msg.RetryCount >= opts.MaxRetries {
		pubErr = c.publishToDeadLetter(msg, opts, txID)
	} else {
		pubErr = c.republish(msg, txID)
	}
	if pubErr != nil {
		return c.abortAndWrap(txID, pubErr)
	}

	if err := c.Commit(txID); err != nil {
		return c.abortAndWrap(txID, err)
	}
	return nil
}

// ackConsumed settles the original delivery inside the transaction, but
// only when the subscription it arrived on needs an explicit ack: "ack:
// client" or "ack: client-individual", or opts.ForceClientAck overriding
// that. An auto-ack subscription was already considered delivered by the
// broker, so there's nothing to acknowledge here.
func (c *Connection) ackConsumed(msg ConsumedMessage, opts UnreceiveOptions, txID string) error {
	if !opts.ForceClientAck && msg.AckMode != "client" && msg.AckMode != "client-individual" {
		return nil
	}
	return c.Ack(msg.AckID, msg.Subscription, txID)
}

// republish resends msg to its original destination with retry_count
// incremented, so a poison message eventually crosses opts.MaxRetries
// instead of looping forever at a fixed count.
func (c *Connection) republish(msg ConsumedMessage, txID string) error {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["retry_count"] = itoa64(int64(msg.RetryCount + 1))
	return c.Send(msg.Destination, contentTypeOf(msg), msg.Body, headers, txID)
}

func (c *Connection) publishToDeadLetter(msg ConsumedMessage, opts UnreceiveOptions, txID string) error {
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[opts.DeadLetterHeaderPrefix+k] = v
	}
	headers[opts.DeadLetterHeaderPrefix+"destination"] = msg.Destination
	headers["retry_count"] = itoa64(int64(msg.RetryCount))
	headers["persistent"] = "true"
	return c.Send(opts.DeadLetterDestination, contentTypeOf(msg), msg.Body, headers, txID)
}

func (c *Connection) abortAndWrap(txID string, cause error) error {
	if aerr := c.Abort(txID); aerr != nil {
		return multierr.Append(cause, aerr)
	}
	return cause
}

func contentTypeOf(msg ConsumedMessage) string {
	if msg.Headers == nil {
		return ""
	}
	return msg.Headers["content-type"]
}

// ackIDFromHeaders extracts the ack identifier a MESSAGE frame carries
// for the negotiated protocol version: "ack" under 1.2, "message-id"
// under 1.0/1.1.
func (c *Connection) ackIDFromHeaders(headers map[string]string) (string, error) {
	key := "message-id"
	if c.protocolVersion() == frame.V1_2 {
		key = "ack"
	}
	id, ok := headers[key]
	if !ok || id == "" {
		return "", errs.ErrMessageIDRequired
	}
	return id, nil
}

// NewConsumedMessage builds a ConsumedMessage from a MESSAGE frame
// returned by Receive or Poll, extracting the ack identifier under
// whichever header the negotiated protocol version uses so callers don't
// need to know that detail before handing the message to Unreceive.
func (c *Connection) NewConsumedMessage(f *frame.Frame, retryCount int) (ConsumedMessage, error) {
	headers := make(map[string]string, f.Headers.Len())
	f.Headers.Each(func(k, v string) { headers[k] = v })

	ackID, err := c.ackIDFromHeaders(headers)
	if err != nil {
		return ConsumedMessage{}, err
	}

	dest := headers["destination"]
	msg := ConsumedMessage{
		MessageID:    headers["message-id"],
		AckID:        ackID,
		Destination:  dest,
		Subscription: headers["subscription"],
		AckMode:      headers["ack"],
		RetryCount:   retryCount,
		Headers:      headers,
		Body:         f.Body,
	}
	return msg, nil
}
