package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdesk-backend/internal/mail/domain"
	"supportdesk-backend/internal/mail/repository"
	queuedomain "supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/testutil"
	"supportdesk-backend/pkg/ai"
	"supportdesk-backend/pkg/commerce"
	"supportdesk-backend/pkg/crypto"
)

type recordingCompleter struct {
	requests []ai.Request
	reply    string
	err      error
}

func (c *recordingCompleter) Complete(_ context.Context, req ai.Request) (string, error) {
	c.requests = append(c.requests, req)
	return c.reply, c.err
}

type fakeOrderLookup struct {
	orders map[string]*commerce.Order
	err    error
	tokens []string
}

func (f *fakeOrderLookup) GetOrder(_ context.Context, accessToken, number string) (*commerce.Order, error) {
	f.tokens = append(f.tokens, accessToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.orders[number], nil
}

type staticTokens struct{}

func (staticTokens) Do(ctx context.Context, _ string, fn func(ctx context.Context, accessToken string) error) error {
	return fn(ctx, "tok")
}

type replyFixture struct {
	mails     repository.MailRepository
	drafts    repository.DraftReplyRepository
	settings  repository.SettingsRepository
	box       *crypto.Box
	orders    *fakeOrderLookup
	completer *recordingCompleter
}

func newReplyFixture(t *testing.T) *replyFixture {
	t.Helper()
	db := testutil.NewDB(t, &domain.Mail{}, &domain.DraftReply{}, &domain.AssistantSettings{})
	box, err := crypto.NewBox("settings-secret")
	require.NoError(t, err)
	return &replyFixture{
		mails:    repository.NewMailRepository(db),
		drafts:   repository.NewDraftReplyRepository(db),
		settings: repository.NewSettingsRepository(db),
		box:      box,
		orders: &fakeOrderLookup{orders: map[string]*commerce.Order{
			"4521": {
				Number:      "4521",
				Status:      "shipped",
				TotalAmount: 349.9,
				Currency:    "TRY",
				OrderedAt:   time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
			},
		}},
		completer: &recordingCompleter{reply: "  Merhaba, siparişiniz kargoda.  "},
	}
}

func (f *replyFixture) handler() *AIReply {
	return NewAIReply(f.mails, f.drafts, f.settings, f.box, f.orders, staticTokens{}, f.completer,
		ReplyDefaults{Provider: "gemini", Model: "gemini-2.5-flash", Temperature: 0.3})
}

func (f *replyFixture) storeMail(t *testing.T, body string) *domain.Mail {
	t.Helper()
	m := &domain.Mail{
		ProviderMessageID: body,
		FromAddress:       "musteri@example.com",
		FromName:          "Müşteri",
		Subject:           "Soru",
		Body:              body,
		Category:          domain.CategoryOrderInquiry,
		ReceivedAt:        time.Now(),
	}
	created, err := f.mails.Insert(context.Background(), m)
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func TestAIReplyDraftsWithOrderContext(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()
	mail := f.storeMail(t, "#4521 siparişim nerede")

	sealed, err := f.box.Seal("operator-key")
	require.NoError(t, err)
	require.NoError(t, f.settings.Save(ctx, &domain.AssistantSettings{
		KnowledgeBase: "Kargo süresi 3 iş günüdür.",
		Model:         "gemini-2.5-pro",
		APIKey:        sealed,
	}))

	out, err := f.handler().Handle(ctx, queuedomain.AIReplyPayload{MailID: mail.ID})
	require.NoError(t, err)
	res := out.(*AIReplyResult)
	assert.True(t, res.OrderFound)
	assert.Equal(t, "4521", res.OrderNumber)
	assert.Equal(t, []string{"tok"}, f.orders.tokens)

	require.Len(t, f.completer.requests, 1)
	req := f.completer.requests[0]
	assert.Equal(t, ai.ProviderGemini, req.Provider)
	assert.Equal(t, "gemini-2.5-pro", req.Model)
	assert.Equal(t, "operator-key", req.APIKey)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Contains(t, req.Prompt, "Kargo süresi 3 iş günüdür.")
	assert.Contains(t, req.Prompt, "Durum: shipped")
	assert.Contains(t, req.Prompt, "#4521 siparişim nerede")

	draft, err := f.drafts.GetByMailID(ctx, mail.ID)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "Merhaba, siparişiniz kargoda.", draft.Body)
	assert.Equal(t, res.DraftID, draft.ID)

	// A retry replaces the draft in place
	f.completer.reply = "Güncel yanıt"
	_, err = f.handler().Handle(ctx, queuedomain.AIReplyPayload{MailID: mail.ID, OrderNumber: "4521"})
	require.NoError(t, err)
	again, err := f.drafts.GetByMailID(ctx, mail.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, again.ID)
	assert.Equal(t, "Güncel yanıt", again.Body)
}

func TestAIReplyContinuesWithoutOrderContext(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()
	mail := f.storeMail(t, "sipariş no: 777123 gelmedi")
	f.orders.err = &commerce.StatusError{StatusCode: 503}

	out, err := f.handler().Handle(ctx, queuedomain.AIReplyPayload{MailID: mail.ID})
	require.NoError(t, err)
	res := out.(*AIReplyResult)
	assert.False(t, res.OrderFound)
	assert.Equal(t, "777123", res.OrderNumber)

	req := f.completer.requests[0]
	assert.NotContains(t, req.Prompt, "SİPARİŞ BİLGİSİ")
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	assert.Empty(t, req.APIKey)
	assert.Contains(t, req.Prompt, defaultKnowledgeBase)
}

func TestAIReplyErrors(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()
	mail := f.storeMail(t, "merhaba")

	_, err := f.handler().Handle(ctx, queuedomain.AIReplyPayload{MailID: "missing"})
	require.Error(t, err)
	assert.False(t, queuedomain.IsRetryable(err))

	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", &ai.ProviderError{Provider: ai.ProviderGemini, StatusCode: 429}, true},
		{"provider down", &ai.ProviderError{Provider: ai.ProviderGemini, StatusCode: 502}, true},
		{"bad request", &ai.ProviderError{Provider: ai.ProviderGemini, StatusCode: 400}, false},
		{"transport", errors.New("dial tcp: i/o timeout"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.completer.err = tc.err
			_, err := f.handler().Handle(ctx, queuedomain.AIReplyPayload{MailID: mail.ID})
			require.Error(t, err)
			assert.Equal(t, tc.retryable, queuedomain.IsRetryable(err))
		})
	}

	f.completer.err = nil
	f.completer.reply = "   "
	_, err = f.handler().Handle(ctx, queuedomain.AIReplyPayload{MailID: mail.ID})
	require.Error(t, err)
	assert.True(t, queuedomain.IsRetryable(err))

	draft, err := f.drafts.GetByMailID(ctx, mail.ID)
	require.NoError(t, err)
	assert.Nil(t, draft)
}
