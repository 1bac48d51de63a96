package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"skladbot/internal/moysklad"
	"skladbot/internal/ocr"
	"skladbot/internal/parse"
)

const (
	// counterpartyPickLimit bounds the pick list shown after a search.
	counterpartyPickLimit = 10
	// salesChannelLimit bounds the channel keyboard.
	salesChannelLimit = 10

	ocrTimeout = 90 * time.Second
)

// cmdKiritish starts the payment intake dialog.
func (b *Bot) cmdKiritish(sess *Session) {
	if !sess.LoggedIn() {
		b.reply(sess.ChatID, "Avval tizimga kiring: /login")
		return
	}
	sess.ResetDialog()
	sess.Order = &OrderDraft{}
	sess.State = StateOrderPayType
	b.replyKb(sess.ChatID, "To‘lov turini tanlang:", payTypeKeyboard())
}

func (b *Bot) orderPayTypeChosen(sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Order == nil || sess.State != StateOrderPayType {
		return
	}
	switch cb.Data {
	case "pt:cash":
		sess.Order.PayType = PayCash
	case "pt:card":
		sess.Order.PayType = PayCard
	default:
		return
	}
	sess.State = StateOrderSearch
	b.edit(cb, "Mijozni qidiring: ism, telefon yoki\n"+
		"BREND-Mijoz ismi-901234567 ko‘rinishida yozing.")
}

// orderSearch handles the counterparty query. A full "BRAND-Client-phone"
// triple skips the pick list and finds or creates the counterparty at once.
func (b *Bot) orderSearch(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	query := strings.TrimSpace(msg.Text)
	if query == "" {
		b.reply(sess.ChatID, "Qidiruv so‘rovini yozing:")
		return
	}

	if triple := parse.ParseContactTriple(query); triple != nil {
		cp, err := b.sklad.EnsureCounterparty(ctx, triple.Brand+" "+triple.Client, triple.Phone)
		if err != nil {
			b.logger.Error("ensure counterparty failed", zap.Error(err))
			b.reply(sess.ChatID, "❌ MoySklad bilan bog‘lanishda xatolik. Qaytadan urinib ko‘ring.")
			return
		}
		b.setCounterparty(sess, cp)
		b.askAfterCounterparty(sess)
		return
	}

	rows, err := b.sklad.SearchCounterparties(ctx, query, counterpartyPickLimit)
	if err != nil {
		b.logger.Error("counterparty search failed", zap.Error(err))
		b.reply(sess.ChatID, "❌ MoySklad bilan bog‘lanishda xatolik. Qaytadan urinib ko‘ring.")
		return
	}

	sess.Order.Candidates = make(map[string]moysklad.Counterparty, len(rows))
	for _, cp := range rows {
		sess.Order.Candidates[cp.ID] = cp
	}
	sess.State = StateOrderPick

	text := "Mijozni tanlang:"
	if len(rows) == 0 {
		text = "Hech narsa topilmadi. Yangi kontragent yaratishingiz mumkin:"
	}
	b.replyKb(sess.ChatID, text, counterpartyKeyboard(rows, query))
}

func (b *Bot) orderCounterpartyPicked(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Order == nil {
		return
	}
	id := strings.TrimPrefix(cb.Data, "cp:")
	cp, ok := sess.Order.Candidates[id]
	if !ok {
		b.edit(cb, "Bu ro‘yxat eskirgan. /kiritish bilan qaytadan boshlang.")
		return
	}
	b.setCounterparty(sess, &cp)
	b.edit(cb, "Tanlandi: "+counterpartyTitle(&cp))
	b.askAfterCounterparty(sess)
}

// orderCounterpartyCreate creates a counterparty from the original query
// when nothing in MoySklad matched.
func (b *Bot) orderCounterpartyCreate(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Order == nil {
		return
	}
	query := strings.TrimPrefix(cb.Data, "cpnew:")

	name, phone := query, ""
	if triple := parse.ParseContactTriple(query); triple != nil {
		name, phone = triple.Brand+" "+triple.Client, triple.Phone
	} else if digits := parse.DigitsOnly(query); len(digits) >= 7 {
		name, phone = "", parse.NormalizePhone(query)
	}

	cp, err := b.sklad.EnsureCounterparty(ctx, name, phone)
	if err != nil {
		b.logger.Error("create counterparty failed", zap.Error(err))
		b.edit(cb, "❌ Kontragent yaratishda xatolik. Qaytadan urinib ko‘ring.")
		return
	}
	b.setCounterparty(sess, cp)
	b.edit(cb, "Yaratildi: "+counterpartyTitle(cp))
	b.askAfterCounterparty(sess)
}

// setCounterparty stores the pick and derives the editable review fields.
func (b *Bot) setCounterparty(sess *Session, cp *moysklad.Counterparty) {
	sess.Order.Counterparty = cp
	sess.Order.Candidates = nil
	sess.Order.Brand, sess.Order.Client = parse.SplitBrandClient(cp.Name)
	sess.Order.Phone = parse.NormalizePhone(cp.Phone)
}

// askAfterCounterparty branches by pay type: card payments come with a
// receipt screenshot, cash is entered by hand.
func (b *Bot) askAfterCounterparty(sess *Session) {
	if sess.Order.PayType == PayCard {
		sess.State = StateOrderReceipt
		b.reply(sess.ChatID, "Chek rasmini yuboring (skrinshot yoki foto).")
		return
	}
	sess.State = StateOrderAmount
	b.reply(sess.ChatID, "Summani so‘mda kiriting (masalan, 2 500 000):")
}

// orderReceipt recognizes a receipt photo. PDF and other documents are
// rejected: Tesseract works on images only.
func (b *Bot) orderReceipt(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	if msg.Document != nil {
		b.reply(sess.ChatID, "Fayl emas, rasm yuboring. PDF chekni skrinshot qilib yuboring.")
		return
	}
	if len(msg.Photo) == 0 {
		b.reply(sess.ChatID, "Chek rasmini yuboring.")
		return
	}

	data, err := b.downloadPhoto(ctx, msg.Photo)
	if err != nil {
		b.logger.Error("photo download failed", zap.Error(err))
		b.reply(sess.ChatID, "❌ Rasmni yuklab bo‘lmadi. Qaytadan yuboring.")
		return
	}
	sess.Order.ReceiptData = data
	sess.Order.ReceiptName = "receipt_" + uuid.NewString() + ".jpg"
	b.saveTemp(sess.Order.ReceiptName, data)

	b.reply(sess.ChatID, "⏳ Chek o‘qilmoqda...")

	ocrCtx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()
	receipt, err := ocr.ReadReceipt(ocrCtx, b.engine, data)
	if err != nil {
		b.logger.Warn("ocr failed", zap.Error(err))
		sess.State = StateOrderAmount
		b.reply(sess.ChatID, "Chek o‘qilmadi. Summani qo‘lda kiriting (so‘mda):")
		return
	}

	sess.Order.OCRText = receipt.Raw
	sess.Order.DateISO = receipt.Date
	sess.Order.TimeHMS = receipt.Time

	if !receipt.AmountFound {
		sess.State = StateOrderAmount
		b.reply(sess.ChatID, "Chekdan summa topilmadi. Summani qo‘lda kiriting (so‘mda):")
		return
	}
	sess.Order.AmountUZS = receipt.Amount
	sess.Order.AmountSet = true
	b.reply(sess.ChatID, "Chekdan o‘qildi: "+parse.FormatAmount(receipt.Amount)+" so‘m")
	b.askChannel(ctx, sess)
}

// orderManualEntry handles both the first manual sum entry and field edits
// launched from the review screen.
func (b *Bot) orderManualEntry(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	draft := sess.Order

	if draft.EditTarget != "" {
		b.applyEdit(sess, text)
		return
	}

	amount, ok := parse.ParseAmount(text)
	if !ok {
		b.reply(sess.ChatID, fmt.Sprintf(
			"Summa noto‘g‘ri. %s dan %s gacha bo‘lgan son kiriting:",
			parse.FormatAmount(parse.MinAmount), parse.FormatAmount(parse.MaxAmount)))
		return
	}
	draft.AmountUZS = amount
	draft.AmountSet = true
	b.askChannel(ctx, sess)
}

func (b *Bot) applyEdit(sess *Session, text string) {
	draft := sess.Order
	switch draft.EditTarget {
	case "brand":
		if v := parse.NormalizeBrand(text); v != "" {
			draft.Brand = v
		}
	case "client":
		if text != "" {
			draft.Client = text
		}
	case "phone":
		phone := parse.NormalizePhone(text)
		if phone == "" {
			b.reply(sess.ChatID, "Telefon raqami noto‘g‘ri. Qaytadan kiriting:")
			return
		}
		draft.Phone = phone
	case "amount":
		amount, ok := parse.ParseAmount(text)
		if !ok {
			b.reply(sess.ChatID, "Summa noto‘g‘ri. Qaytadan kiriting:")
			return
		}
		draft.AmountUZS = amount
		draft.AmountSet = true
	case "date":
		date, ok := parse.ParseDate(text)
		if !ok {
			b.reply(sess.ChatID, "Sana noto‘g‘ri. Masalan: 25.08.2026")
			return
		}
		draft.DateISO = date
	case "time":
		t, ok := parse.ParseTime(text)
		if !ok {
			b.reply(sess.ChatID, "Vaqt noto‘g‘ri. Masalan: 14:30")
			return
		}
		draft.TimeHMS = t
	}
	draft.EditTarget = ""
	b.showOrderReview(sess)
}

// askChannel offers the sales channel pick; when the account has none the
// flow goes straight to review.
func (b *Bot) askChannel(ctx context.Context, sess *Session) {
	channels, err := b.sklad.SalesChannels(ctx, salesChannelLimit)
	if err != nil {
		b.logger.Warn("list sales channels failed", zap.Error(err))
		channels = nil
	}
	if len(channels) == 0 {
		b.showOrderReview(sess)
		return
	}
	sess.Order.Channels = make(map[string]moysklad.SalesChannel, len(channels))
	for _, ch := range channels {
		sess.Order.Channels[ch.ID] = ch
	}
	sess.State = StateOrderChannel
	b.replyKb(sess.ChatID, "Savdo kanalini tanlang:", salesChannelKeyboard(channels))
}

func (b *Bot) orderChannelChosen(sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Order == nil {
		return
	}
	id := strings.TrimPrefix(cb.Data, "sc:")
	ch, ok := sess.Order.Channels[id]
	if !ok {
		return
	}
	sess.Order.SalesChannel = &ch
	b.edit(cb, "Kanal: "+ch.Name)
	b.showOrderReview(sess)
}

// showOrderReview fills in date/time defaults and shows the summary card.
func (b *Bot) showOrderReview(sess *Session) {
	draft := sess.Order
	now := b.now().In(b.loc)
	if draft.DateISO == "" {
		draft.DateISO = now.Format("2006-01-02")
	}
	if draft.TimeHMS == "" {
		draft.TimeHMS = now.Format("15:04:05")
	}
	sess.State = StateOrderReview
	b.replyKb(sess.ChatID, b.orderSummary(draft), reviewKeyboard())
}

func (b *Bot) orderSummary(draft *OrderDraft) string {
	payType := "💵 Naqt"
	if draft.PayType == PayCard {
		payType = "💳 Karta"
	}
	var sb strings.Builder
	sb.WriteString("📋 Tekshiring:\n")
	fmt.Fprintf(&sb, "To‘lov turi: %s\n", payType)
	fmt.Fprintf(&sb, "Brend: %s\n", draft.Brand)
	fmt.Fprintf(&sb, "Mijoz: %s\n", draft.Client)
	fmt.Fprintf(&sb, "Telefon: %s\n", draft.Phone)
	fmt.Fprintf(&sb, "Summa: %s so‘m\n", parse.FormatAmount(draft.AmountUZS))
	fmt.Fprintf(&sb, "Sana: %s\n", draft.DateISO)
	fmt.Fprintf(&sb, "Vaqt: %s\n", draft.TimeHMS)
	if draft.SalesChannel != nil {
		fmt.Fprintf(&sb, "Kanal: %s\n", draft.SalesChannel.Name)
	}
	return sb.String()
}

func (b *Bot) orderReviewAction(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Order == nil {
		return
	}
	switch {
	case cb.Data == "rv:confirm":
		b.submitOrder(ctx, sess, cb)
	case cb.Data == "rv:edit":
		b.editKb(cb, "Qaysi maydonni o‘zgartirasiz?", editFieldsKeyboard())
	case cb.Data == "rv:back":
		b.editKb(cb, b.orderSummary(sess.Order), reviewKeyboard())
	case strings.HasPrefix(cb.Data, "rv:field:"):
		target := strings.TrimPrefix(cb.Data, "rv:field:")
		sess.Order.EditTarget = target
		sess.State = StateOrderAmount
		prompts := map[string]string{
			"brand":  "Yangi brendni kiriting:",
			"client": "Yangi mijoz nomini kiriting:",
			"phone":  "Yangi telefon raqamini kiriting:",
			"amount": "Yangi summani kiriting (so‘mda):",
			"date":   "Yangi sanani kiriting (kun.oy.yil):",
			"time":   "Yangi vaqtni kiriting (soat:daqiqa):",
		}
		if p, ok := prompts[target]; ok {
			b.edit(cb, p)
		}
	}
}

// submitOrder creates the MoySklad payment document, attaches the receipt,
// queues an order confirmation and notifies the sales group.
func (b *Bot) submitOrder(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	draft := sess.Order
	if !draft.AmountSet || draft.Counterparty == nil {
		b.edit(cb, "Ma’lumot to‘liq emas. /kiritish bilan qaytadan boshlang.")
		sess.ResetDialog()
		return
	}

	b.edit(cb, "⏳ MoySkladga yuborilmoqda...")

	org, err := b.sklad.DefaultOrganization(ctx)
	if err != nil {
		b.logger.Error("default organization failed", zap.Error(err))
		b.replyKb(sess.ChatID, "❌ MoySklad xatosi. Qaytadan urinib ko‘ring.", reviewKeyboard())
		sess.State = StateOrderReview
		return
	}

	agent := draft.Counterparty
	wantName := strings.TrimSpace(draft.Brand + " " + draft.Client)
	if wantName != strings.TrimSpace(agent.Name) || draft.Phone != parse.NormalizePhone(agent.Phone) {
		patched, err := b.sklad.EnsureCounterparty(ctx, wantName, draft.Phone)
		if err != nil {
			b.logger.Warn("counterparty patch failed", zap.Error(err))
		} else {
			agent = patched
		}
	}

	params := moysklad.PaymentParams{
		Organization: org.Meta,
		Agent:        agent.Meta,
		SumUZS:       draft.AmountUZS,
		DateISO:      draft.DateISO,
		TimeHMS:      draft.TimeHMS,
		Description: fmt.Sprintf("%s | %s | %s | operator: %s",
			draft.Brand, draft.Client, draft.Phone, sess.Operator.Name),
	}
	if draft.SalesChannel != nil {
		params.SalesChannel = draft.SalesChannel.Meta
	}

	var doc *moysklad.Document
	entity := "cashin"
	if draft.PayType == PayCard {
		entity = "paymentin"
		doc, err = b.sklad.CreatePaymentIn(ctx, params)
	} else {
		doc, err = b.sklad.CreateCashIn(ctx, params)
	}
	if err != nil {
		b.logger.Error("create payment failed", zap.Error(err), zap.String("entity", entity))
		b.replyKb(sess.ChatID, "❌ To‘lovni yaratib bo‘lmadi. Qaytadan urinib ko‘ring.", reviewKeyboard())
		sess.State = StateOrderReview
		return
	}

	// Receipt attachment and the confirm queue are best effort: the payment
	// document already exists, a failure here must not lose it.
	if len(draft.ReceiptData) > 0 {
		if err := b.sklad.AttachFile(ctx, entity, doc.ID, draft.ReceiptName, draft.ReceiptData); err != nil {
			b.logger.Warn("receipt attach failed", zap.Error(err), zap.String("doc_id", doc.ID))
		}
	}
	if _, err := b.store.UpsertOpenConfirm(sess.Operator.ID, draft.Brand, draft.Client, draft.Phone,
		metaMap(agent.Meta)); err != nil {
		b.logger.Warn("queue confirm failed", zap.Error(err))
	}

	b.notifyGroup(draft, doc, sess.Operator.Name)

	b.logger.Info("payment created",
		zap.String("entity", entity), zap.String("doc", doc.Name),
		zap.Int64("sum_uzs", draft.AmountUZS), zap.Int64("operator_id", sess.Operator.ID))

	sess.ResetDialog()
	b.replyKb(sess.ChatID,
		fmt.Sprintf("✅ To‘lov kiritildi: %s\nSumma: %s so‘m", doc.Name, parse.FormatAmount(draft.AmountUZS)),
		menuKeyboard(true, false))
}

// notifyGroup posts the payment to the sales group chat, with the receipt
// photo when there is one.
func (b *Bot) notifyGroup(draft *OrderDraft, doc *moysklad.Document, operatorName string) {
	if b.cfg.Telegram.GroupChatID == 0 {
		return
	}
	payType := "Naqt"
	if draft.PayType == PayCard {
		payType = "Karta"
	}
	caption := fmt.Sprintf("💰 Yangi to‘lov: %s\n%s %s\n%s\nSumma: %s so‘m (%s)\nOperator: %s",
		doc.Name, draft.Brand, draft.Client, draft.Phone,
		parse.FormatAmount(draft.AmountUZS), payType, operatorName)

	if len(draft.ReceiptData) > 0 {
		photo := tgbotapi.NewPhoto(b.cfg.Telegram.GroupChatID,
			tgbotapi.FileBytes{Name: draft.ReceiptName, Bytes: draft.ReceiptData})
		photo.Caption = caption
		b.send(photo)
		return
	}
	b.reply(b.cfg.Telegram.GroupChatID, caption)
}

func metaMap(m moysklad.Meta) map[string]any {
	return map[string]any{"href": m.Href, "type": m.Type, "mediaType": m.MediaType}
}

func metaFromMap(m map[string]any) moysklad.Meta {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	return moysklad.Meta{Href: str("href"), Type: str("type"), MediaType: str("mediaType")}
}
