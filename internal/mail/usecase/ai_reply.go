package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"supportdesk-backend/internal/mail/classify"
	"supportdesk-backend/internal/mail/domain"
	"supportdesk-backend/internal/mail/repository"
	queuedomain "supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/pkg/ai"
	"supportdesk-backend/pkg/commerce"
	"supportdesk-backend/pkg/crypto"
)

const defaultKnowledgeBase = "Nazik, kısa ve çözüm odaklı yanıt ver. Bilmediğin bilgiyi uydurma."

// ReplyDefaults are used when no operator settings row exists or a field is blank
type ReplyDefaults struct {
	Provider      string
	Model         string
	Temperature   float64
	KnowledgeBase string
}

// AIReplyResult is stored on the job row
type AIReplyResult struct {
	DraftID     string `json:"draft_id"`
	OrderNumber string `json:"order_number,omitempty"`
	OrderFound  bool   `json:"order_found"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
}

// AIReply drafts a reply for one stored mail
type AIReply struct {
	mails     repository.MailRepository
	drafts    repository.DraftReplyRepository
	settings  repository.SettingsRepository
	box       *crypto.Box
	orders    OrderLookup
	tokens    TokenRunner
	completer ai.Completer
	defaults  ReplyDefaults
}

// NewAIReply wires the handler. box, orders and tokens may be nil; order
// context is then skipped and a sealed settings key is ignored.
func NewAIReply(
	mails repository.MailRepository,
	drafts repository.DraftReplyRepository,
	settings repository.SettingsRepository,
	box *crypto.Box,
	orders OrderLookup,
	tokens TokenRunner,
	completer ai.Completer,
	defaults ReplyDefaults,
) *AIReply {
	if defaults.KnowledgeBase == "" {
		defaults.KnowledgeBase = defaultKnowledgeBase
	}
	return &AIReply{
		mails:     mails,
		drafts:    drafts,
		settings:  settings,
		box:       box,
		orders:    orders,
		tokens:    tokens,
		completer: completer,
		defaults:  defaults,
	}
}

type replySettings struct {
	knowledgeBase string
	provider      string
	model         string
	apiKey        string
	temperature   float64
}

func (r *AIReply) Handle(ctx context.Context, p queuedomain.AIReplyPayload) (any, error) {
	mail, err := r.mails.GetByID(ctx, p.MailID)
	if err != nil {
		return nil, fmt.Errorf("load mail: %w", err)
	}
	if mail == nil {
		return nil, queuedomain.Permanent(fmt.Errorf("mail %s not found", p.MailID))
	}

	settings, err := r.loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	number := p.OrderNumber
	if number == "" {
		number = mail.OrderNumber
	}
	if number == "" {
		number, _ = classify.ExtractOrderNumber(mail.Subject + "\n" + mail.Body)
	}

	var order *commerce.Order
	if number != "" {
		order = r.lookupOrder(ctx, number)
	}

	text, err := r.completer.Complete(ctx, ai.Request{
		Provider:    ai.ProviderType(settings.provider),
		Prompt:      buildReplyPrompt(settings.knowledgeBase, order, mail),
		Model:       settings.model,
		APIKey:      settings.apiKey,
		Temperature: settings.temperature,
	})
	if err != nil {
		if ai.IsTransient(err) {
			return nil, queuedomain.Transient(err)
		}
		return nil, queuedomain.Permanent(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, queuedomain.Transient(errors.New("completion was empty"))
	}

	draft := &domain.DraftReply{
		MailID:      mail.ID,
		Body:        text,
		Provider:    settings.provider,
		Model:       settings.model,
		OrderNumber: number,
	}
	if err := r.drafts.Save(ctx, draft); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}

	log.Printf("[AIReply] Drafted reply %s for mail %s (order context: %v)", draft.ID, mail.ID, order != nil)
	return &AIReplyResult{
		DraftID:     draft.ID,
		OrderNumber: number,
		OrderFound:  order != nil,
		Provider:    settings.provider,
		Model:       settings.model,
	}, nil
}

func (r *AIReply) loadSettings(ctx context.Context) (replySettings, error) {
	out := replySettings{
		knowledgeBase: r.defaults.KnowledgeBase,
		provider:      r.defaults.Provider,
		model:         r.defaults.Model,
		temperature:   r.defaults.Temperature,
	}

	row, err := r.settings.Get(ctx)
	if err != nil {
		return out, fmt.Errorf("load assistant settings: %w", err)
	}
	if row == nil {
		return out, nil
	}

	if strings.TrimSpace(row.KnowledgeBase) != "" {
		out.knowledgeBase = row.KnowledgeBase
	}
	if row.Provider != "" {
		out.provider = row.Provider
	}
	if row.Model != "" {
		out.model = row.Model
	}
	if row.Temperature > 0 {
		out.temperature = row.Temperature
	}
	if row.APIKey != "" {
		if r.box == nil {
			log.Printf("[AIReply] Settings carry a sealed API key but no secret is configured; using default key")
		} else if key, err := r.box.Open(row.APIKey); err != nil {
			log.Printf("[AIReply] Failed to open settings API key, using default key: %v", err)
		} else {
			out.apiKey = key
		}
	}
	return out, nil
}

// lookupOrder returns nil when the order is unknown or the provider fails;
// the reply is then drafted without order context.
func (r *AIReply) lookupOrder(ctx context.Context, number string) *commerce.Order {
	if r.orders == nil || r.tokens == nil {
		return nil
	}
	var order *commerce.Order
	err := r.tokens.Do(ctx, CommerceProvider, func(ctx context.Context, accessToken string) error {
		var err error
		order, err = r.orders.GetOrder(ctx, accessToken, number)
		return err
	})
	if err != nil {
		log.Printf("[AIReply] Order lookup for #%s failed: %v", number, err)
		return nil
	}
	return order
}

func buildReplyPrompt(knowledgeBase string, order *commerce.Order, mail *domain.Mail) string {
	var b strings.Builder
	b.WriteString("Sen bir e-ticaret müşteri hizmetleri asistanısın. Aşağıdaki bilgi bankasını kullanarak müşteriye Türkçe bir yanıt taslağı yaz.\n\n")
	b.WriteString("BİLGİ BANKASI:\n")
	b.WriteString(strings.TrimSpace(knowledgeBase))
	b.WriteString("\n\n")

	if order != nil {
		b.WriteString("SİPARİŞ BİLGİSİ:\n")
		fmt.Fprintf(&b, "- Sipariş no: %s\n", order.Number)
		fmt.Fprintf(&b, "- Durum: %s\n", order.Status)
		fmt.Fprintf(&b, "- Tutar: %.2f %s\n", order.TotalAmount, order.Currency)
		if !order.OrderedAt.IsZero() {
			fmt.Fprintf(&b, "- Sipariş tarihi: %s\n", order.OrderedAt.Format("02.01.2006"))
		}
		if order.Refund != nil {
			fmt.Fprintf(&b, "- İade talebi: %s (%s)\n", order.Refund.Status, order.Refund.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("MÜŞTERİ E-POSTASI:\n")
	if mail.FromName != "" {
		fmt.Fprintf(&b, "Gönderen: %s <%s>\n", mail.FromName, mail.FromAddress)
	} else {
		fmt.Fprintf(&b, "Gönderen: %s\n", mail.FromAddress)
	}
	fmt.Fprintf(&b, "Konu: %s\n\n%s\n\n", mail.Subject, mail.Body)
	b.WriteString("Sadece yanıt metnini yaz. İmza ekleme.")
	return b.String()
}
