package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"supportdesk-backend/internal/mail/classify"
	"supportdesk-backend/internal/mail/domain"
	"supportdesk-backend/internal/mail/repository"
	queuedomain "supportdesk-backend/internal/queue/domain"
	queuerepo "supportdesk-backend/internal/queue/repository"
	"supportdesk-backend/internal/queue/schema"
	reconciledomain "supportdesk-backend/internal/reconcile/domain"
	watermarkrepo "supportdesk-backend/internal/reconcile/repository"
	"supportdesk-backend/internal/testutil"
	"supportdesk-backend/pkg/imap"
)

var inboxStart = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

// fakeMailbox counts sessions: every FetchUnseen call stands for one login
type fakeMailbox struct {
	messages map[uint32]*imap.RawMessage
	since    []time.Time
	limits   []int
	err      error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{messages: map[uint32]*imap.RawMessage{}}
}

func (m *fakeMailbox) add(uid uint32, messageID, subject, body string) {
	raw := strings.Join([]string{
		"Message-Id: <" + messageID + ">",
		"From: Musteri <musteri@example.com>",
		"Subject: " + subject,
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	m.messages[uid] = &imap.RawMessage{
		UID:          uid,
		Raw:          []byte(raw),
		InternalDate: inboxStart.Add(time.Duration(uid) * time.Minute),
	}
}

func (m *fakeMailbox) FetchUnseen(_ context.Context, _ string, since time.Time, limit int) (*imap.Unseen, error) {
	m.since = append(m.since, since)
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	out := &imap.Unseen{}
	for uid := uint32(1); uid <= 100; uid++ {
		msg, ok := m.messages[uid]
		if !ok {
			continue
		}
		out.Listed++
		if len(out.Messages) < limit {
			out.Messages = append(out.Messages, msg)
		}
	}
	return out, nil
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, queuedomain.Payload, queuedomain.EnqueueOptions) (string, error) {
	return "", errors.New("queue unavailable")
}

type fetchFixture struct {
	db         *gorm.DB
	mailbox    *fakeMailbox
	mails      repository.MailRepository
	jobs       queuerepo.JobRepository
	watermarks watermarkrepo.WatermarkRepository
}

func newFetchFixture(t *testing.T) *fetchFixture {
	t.Helper()
	db := testutil.NewDB(t,
		&domain.Mail{}, &domain.DraftReply{}, &domain.AssistantSettings{},
		&queuedomain.Job{}, &reconciledomain.SyncWatermark{},
	)
	v, err := schema.Default()
	require.NoError(t, err)
	return &fetchFixture{
		db:         db,
		mailbox:    newFakeMailbox(),
		mails:      repository.NewMailRepository(db),
		jobs:       queuerepo.NewJobRepository(db, v),
		watermarks: watermarkrepo.NewWatermarkRepository(db),
	}
}

func (f *fetchFixture) handler(enqueuer Enqueuer) *MailFetch {
	if enqueuer == nil {
		enqueuer = f.jobs
	}
	return NewMailFetch(f.mailbox, f.mails, f.watermarks, enqueuer, classify.NewClassifier(classify.DefaultRules), "INBOX")
}

func (f *fetchFixture) aiReplyJobs(t *testing.T) []queuedomain.Job {
	t.Helper()
	var jobs []queuedomain.Job
	require.NoError(t, f.db.Where("type = ?", queuedomain.JobTypeAIReply).Find(&jobs).Error)
	return jobs
}

func TestMailFetchThreeMessages(t *testing.T) {
	f := newFetchFixture(t)
	ctx := context.Background()

	f.mailbox.add(1, "m1@example.com", "Bilgi", "iadem ile ilgili bilgi almak istiyorum")
	f.mailbox.add(2, "m2@example.com", "Soru", "#4521 siparişim nerede")
	f.mailbox.add(3, "m3@example.com", "Toplantı", "Toplantı notları ektedir")

	out, err := f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	res := out.(*MailFetchResult)
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 1, res.Replies)
	assert.Equal(t, 0, res.Failed)

	var mails []domain.Mail
	require.NoError(t, f.db.Order("uid").Find(&mails).Error)
	require.Len(t, mails, 3)
	assert.Equal(t, domain.CategoryReturnRequest, mails[0].Category)
	assert.Equal(t, domain.CategoryOrderInquiry, mails[1].Category)
	assert.Equal(t, "4521", mails[1].OrderNumber)
	assert.Equal(t, domain.CategoryGeneral, mails[2].Category)
	assert.Equal(t, "musteri@example.com", mails[0].FromAddress)

	jobs := f.aiReplyJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queuedomain.JobStatusPending, jobs[0].Status)
	var payload queuedomain.AIReplyPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, mails[1].ID, payload.MailID)
	assert.Equal(t, "4521", payload.OrderNumber)

	wm, err := f.watermarks.Get(ctx, reconciledomain.SourceMail)
	require.NoError(t, err)
	require.NotNil(t, wm.WatermarkAt)
	assert.WithinDuration(t, inboxStart.Add(3*time.Minute), *wm.WatermarkAt, time.Second)

	// The same unseen messages are listed again: nothing new is stored or queued
	out, err = f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	res = out.(*MailFetchResult)
	assert.Equal(t, 0, res.Stored)
	assert.Equal(t, 3, res.Duplicates)
	assert.Len(t, f.aiReplyJobs(t), 1)
	require.Len(t, f.mailbox.since, 2)
	assert.WithinDuration(t, inboxStart.Add(3*time.Minute), f.mailbox.since[1], time.Second)
}

func TestMailFetchDoesNotResurrectDeletedMail(t *testing.T) {
	f := newFetchFixture(t)
	ctx := context.Background()

	f.mailbox.add(1, "gone@example.com", "Sipariş", "order #9911 ne durumda")
	_, err := f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	require.NoError(t, f.db.Where("provider_message_id = ?", "gone@example.com").Delete(&domain.Mail{}).Error)

	out, err := f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(*MailFetchResult).Duplicates)

	var visible int64
	require.NoError(t, f.db.Model(&domain.Mail{}).Count(&visible).Error)
	assert.Zero(t, visible)
	assert.Len(t, f.aiReplyJobs(t), 1)
}

func TestMailFetchHonoursLimit(t *testing.T) {
	f := newFetchFixture(t)
	ctx := context.Background()
	for uid := uint32(1); uid <= 5; uid++ {
		f.mailbox.add(uid, fmt.Sprintf("bulk-%d@example.com", uid), "Merhaba", "genel soru")
	}

	out, err := f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{Limit: 2})
	require.NoError(t, err)
	res := out.(*MailFetchResult)
	assert.True(t, res.Truncated)
	assert.Equal(t, 5, res.Listed)
	assert.Equal(t, 2, res.Stored)

	wm, err := f.watermarks.Get(ctx, reconciledomain.SourceMail)
	require.NoError(t, err)
	assert.WithinDuration(t, inboxStart.Add(2*time.Minute), *wm.WatermarkAt, time.Second)
}

func TestMailFetchUsesOneSessionPerRun(t *testing.T) {
	f := newFetchFixture(t)
	ctx := context.Background()
	for uid := uint32(1); uid <= defaultFetchLimit+1; uid++ {
		f.mailbox.add(uid, fmt.Sprintf("burst-%d@example.com", uid), "Merhaba", "genel soru")
	}

	out, err := f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	res := out.(*MailFetchResult)
	assert.Equal(t, defaultFetchLimit, res.Stored)
	assert.Equal(t, defaultFetchLimit+1, res.Listed)
	assert.True(t, res.Truncated)
	assert.Equal(t, []int{defaultFetchLimit}, f.mailbox.limits)

	_, err = f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []int{defaultFetchLimit, 5}, f.mailbox.limits)
}

func TestMailFetchEnqueueFailureKeepsMailForNextRun(t *testing.T) {
	f := newFetchFixture(t)
	ctx := context.Background()
	f.mailbox.add(1, "m1@example.com", "Kargo", "kargom nerede")

	out, err := f.handler(failingEnqueuer{}).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	res := out.(*MailFetchResult)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Stored)

	seen, err := f.mails.Seen(ctx, "m1@example.com")
	require.NoError(t, err)
	assert.False(t, seen)

	wm, err := f.watermarks.Get(ctx, reconciledomain.SourceMail)
	require.NoError(t, err)
	assert.Nil(t, wm.WatermarkAt)
	assert.NotNil(t, wm.LastError)

	out, err = f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(*MailFetchResult).Replies)
	assert.Len(t, f.aiReplyJobs(t), 1)
}

func TestMailFetchClassifiesMailboxErrors(t *testing.T) {
	f := newFetchFixture(t)
	ctx := context.Background()
	f.mailbox.add(1, "m1@example.com", "x", "y")

	f.mailbox.err = errors.New("connection reset by peer")
	_, err := f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.Error(t, err)
	assert.True(t, queuedomain.IsRetryable(err))

	f.mailbox.err = fmt.Errorf("%w: bad password", imap.ErrLoginFailed)
	_, err = f.handler(nil).Handle(ctx, queuedomain.MailFetchPayload{})
	require.Error(t, err)
	assert.False(t, queuedomain.IsRetryable(err))

	wm, err := f.watermarks.Get(ctx, reconciledomain.SourceMail)
	require.NoError(t, err)
	require.NotNil(t, wm.LastError)
	assert.Contains(t, *wm.LastError, "bad password")
}
