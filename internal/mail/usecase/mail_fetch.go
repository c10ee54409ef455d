package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"supportdesk-backend/internal/mail/classify"
	"supportdesk-backend/internal/mail/domain"
	"supportdesk-backend/internal/mail/repository"
	queuedomain "supportdesk-backend/internal/queue/domain"
	reconciledomain "supportdesk-backend/internal/reconcile/domain"
	watermarkrepo "supportdesk-backend/internal/reconcile/repository"
	"supportdesk-backend/pkg/imap"
)

const defaultFetchLimit = 50

// MailFetchResult is stored on the job row
type MailFetchResult struct {
	Mailbox    string                  `json:"mailbox"`
	Listed     int                     `json:"listed"`
	Stored     int                     `json:"stored"`
	Duplicates int                     `json:"duplicates"`
	Skipped    int                     `json:"unparseable"`
	Failed     int                     `json:"failed"`
	Replies    int                     `json:"replies_enqueued"`
	Truncated  bool                    `json:"truncated"`
	Categories map[domain.Category]int `json:"categories,omitempty"`
	Watermark  *time.Time              `json:"watermark,omitempty"`
	Errors     []string                `json:"errors,omitempty"`
}

// MailFetch ingests unseen mail from one IMAP mailbox
type MailFetch struct {
	mailbox    Mailbox
	mails      repository.MailRepository
	watermarks watermarkrepo.WatermarkRepository
	enqueuer   Enqueuer
	classifier *classify.Classifier
	folder     string
}

func NewMailFetch(
	mailbox Mailbox,
	mails repository.MailRepository,
	watermarks watermarkrepo.WatermarkRepository,
	enqueuer Enqueuer,
	classifier *classify.Classifier,
	defaultFolder string,
) *MailFetch {
	if defaultFolder == "" {
		defaultFolder = "INBOX"
	}
	return &MailFetch{
		mailbox:    mailbox,
		mails:      mails,
		watermarks: watermarks,
		enqueuer:   enqueuer,
		classifier: classifier,
		folder:     defaultFolder,
	}
}

func (f *MailFetch) Handle(ctx context.Context, p queuedomain.MailFetchPayload) (any, error) {
	folder := p.Mailbox
	if folder == "" {
		folder = f.folder
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultFetchLimit
	}

	wm, err := f.watermarks.Get(ctx, reconciledomain.SourceMail)
	if err != nil {
		return nil, fmt.Errorf("load mail watermark: %w", err)
	}
	var since time.Time
	if wm != nil && wm.WatermarkAt != nil {
		since = *wm.WatermarkAt
	}
	if err := f.watermarks.MarkAttempt(ctx, reconciledomain.SourceMail); err != nil {
		return nil, fmt.Errorf("mark mail attempt: %w", err)
	}

	res := &MailFetchResult{Mailbox: folder, Categories: map[domain.Category]int{}}

	// One session per run; a failure here leaves nothing stored
	batch, err := f.mailbox.FetchUnseen(ctx, folder, since, limit)
	if err != nil {
		f.recordFailure(ctx, err, res)
		return nil, classifyMailboxError(err)
	}
	res.Listed = batch.Listed
	res.Truncated = batch.Listed > limit

	var newest time.Time
	for _, raw := range batch.Messages {
		received, err := f.ingest(ctx, folder, raw, res)
		if err != nil {
			res.Failed++
			if len(res.Errors) < 20 {
				res.Errors = append(res.Errors, fmt.Sprintf("uid %d: %v", raw.UID, err))
			}
			continue
		}
		if received.After(newest) {
			newest = received
		}
	}

	switch {
	case res.Failed > 0:
		f.recordFailure(ctx, fmt.Errorf("%d message(s) failed", res.Failed), res)
	case !newest.IsZero() && newest.After(since):
		res.Watermark = &newest
		if err := f.watermarks.Advance(ctx, reconciledomain.SourceMail, newest, "", res); err != nil {
			return nil, fmt.Errorf("advance mail watermark: %w", err)
		}
	}

	log.Printf("[MailFetch] %s: %d listed, %d stored, %d duplicate, %d failed, %d replies queued",
		folder, res.Listed, res.Stored, res.Duplicates, res.Failed, res.Replies)
	return res, nil
}

// ingest stores one message and returns its received time
func (f *MailFetch) ingest(ctx context.Context, folder string, raw *imap.RawMessage, res *MailFetchResult) (time.Time, error) {
	msg, err := imap.ParseMessage(raw)
	if err != nil {
		log.Printf("[MailFetch] Skipping unparseable UID %d: %v", raw.UID, err)
		res.Skipped++
		return raw.InternalDate, nil
	}

	received := raw.InternalDate
	if received.IsZero() {
		received = msg.Date
	}
	messageID := msg.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("%s/%d@imap", folder, raw.UID)
	}

	seen, err := f.mails.Seen(ctx, messageID)
	if err != nil {
		return time.Time{}, err
	}
	if seen {
		res.Duplicates++
		return received, nil
	}

	rule := f.classifier.Classify(msg.Subject, msg.Body)
	orderNumber, _ := classify.ExtractOrderNumber(msg.Subject + "\n" + msg.Body)

	mail := &domain.Mail{
		ProviderMessageID: messageID,
		UID:               raw.UID,
		Mailbox:           folder,
		FromAddress:       msg.FromAddress,
		FromName:          msg.FromName,
		Subject:           msg.Subject,
		Body:              msg.Body,
		Category:          rule.Category,
		OrderNumber:       orderNumber,
		ReceivedAt:        received.UTC(),
	}
	created, err := f.mails.Insert(ctx, mail)
	if err != nil {
		return time.Time{}, err
	}
	if !created {
		res.Duplicates++
		return received, nil
	}
	res.Stored++
	res.Categories[rule.Category]++

	if rule.AutoReply {
		payload := queuedomain.AIReplyPayload{MailID: mail.ID, OrderNumber: orderNumber}
		if _, err := f.enqueuer.Enqueue(ctx, payload, queuedomain.EnqueueOptions{}); err != nil {
			// Forget the mail so the next run stores it and retries the enqueue
			if perr := f.mails.Purge(ctx, mail.ID); perr != nil {
				log.Printf("[MailFetch] Failed to purge mail %s after enqueue error: %v", mail.ID, perr)
			}
			res.Stored--
			res.Categories[rule.Category]--
			return time.Time{}, fmt.Errorf("enqueue ai_reply: %w", err)
		}
		res.Replies++
	}
	return received, nil
}

func (f *MailFetch) recordFailure(ctx context.Context, cause error, res *MailFetchResult) {
	if err := f.watermarks.RecordFailure(ctx, reconciledomain.SourceMail, cause, res); err != nil {
		log.Printf("[MailFetch] Failed to record failure: %v", err)
	}
}

// A rejected login needs an operator; anything else is a network problem
func classifyMailboxError(err error) error {
	if errors.Is(err, imap.ErrLoginFailed) {
		return queuedomain.Permanent(err)
	}
	return queuedomain.Transient(err)
}
