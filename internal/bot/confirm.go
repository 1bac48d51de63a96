package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"skladbot/internal/moysklad"
	"skladbot/internal/parse"
	"skladbot/internal/store"
)

// confirmPickLimit caps the open-confirm keyboard.
const confirmPickLimit = 10

// cmdTasdiq starts the order confirmation dialog: the operator either
// continues a confirm queued by an earlier payment or starts from a fresh
// contact.
func (b *Bot) cmdTasdiq(sess *Session) {
	if !sess.LoggedIn() {
		b.reply(sess.ChatID, "Avval tizimga kiring: /login")
		return
	}
	sess.ResetDialog()
	sess.Confirm = &ConfirmDraft{}

	confirms, err := b.store.ListOpenConfirms(sess.Operator.ID, confirmPickLimit)
	if err != nil {
		b.logger.Error("list confirms failed", zap.Error(err))
		b.reply(sess.ChatID, "❌ Ichki xatolik. Keyinroq urinib ko‘ring.")
		sess.ResetDialog()
		return
	}

	sess.State = StateConfirmPick
	text := "Tasdiqlash uchun to‘lovni tanlang yoki yangisini boshlang:"
	if len(confirms) == 0 {
		text = "Ochiq tasdiqlar yo‘q. Yangisini boshlashingiz mumkin:"
	}
	b.replyKb(sess.ChatID, text, confirmPickKeyboard(confirms))
}

func (b *Bot) confirmNewClicked(sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Confirm == nil {
		return
	}
	sess.State = StateConfirmNewContact
	b.edit(cb, "Mijozni BREND-Mijoz ismi-901234567 ko‘rinishida kiriting:")
}

func (b *Bot) confirmPicked(sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Confirm == nil || !sess.LoggedIn() {
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, "cfpick:"), 10, 64)
	if err != nil {
		return
	}
	confirm, err := b.store.GetConfirm(sess.Operator.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.edit(cb, "Bu tasdiq topilmadi. /tasdiq bilan qaytadan boshlang.")
			return
		}
		b.logger.Error("get confirm failed", zap.Error(err))
		b.edit(cb, "❌ Ichki xatolik.")
		return
	}

	sess.Confirm.ConfirmID = confirm.ID
	sess.Confirm.Brand = confirm.Brand
	sess.Confirm.Client = confirm.ClientName
	sess.Confirm.Phone = confirm.PhonePlus
	sess.Confirm.CPMeta = metaFromMap(confirm.CounterpartyMeta)

	sess.State = StateConfirmPhoto
	b.edit(cb, fmt.Sprintf("%s | %s\nMahsulot rasmini yuboring:", confirm.Brand, confirm.PhonePlus))
}

// confirmNewContact resolves the counterparty for a confirm that has no
// queued payment behind it.
func (b *Bot) confirmNewContact(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	triple := parse.ParseContactTriple(msg.Text)
	if triple == nil {
		b.reply(sess.ChatID, "Format noto‘g‘ri. Masalan: NIKE-Aziz Karimov-901234567")
		return
	}

	cp, err := b.sklad.EnsureCounterparty(ctx, triple.Brand+" "+triple.Client, triple.Phone)
	if err != nil {
		b.logger.Error("ensure counterparty failed", zap.Error(err))
		b.reply(sess.ChatID, "❌ MoySklad bilan bog‘lanishda xatolik. Qaytadan urinib ko‘ring.")
		return
	}

	sess.Confirm.Brand = triple.Brand
	sess.Confirm.Client = triple.Client
	sess.Confirm.Phone = triple.Phone
	sess.Confirm.CPMeta = cp.Meta

	// Track it in the queue so an abandoned dialog can be resumed.
	confirmID, err := b.store.UpsertOpenConfirm(sess.Operator.ID,
		triple.Brand, triple.Client, triple.Phone, metaMap(cp.Meta))
	if err != nil {
		b.logger.Warn("queue confirm failed", zap.Error(err))
	} else {
		sess.Confirm.ConfirmID = confirmID
	}

	sess.State = StateConfirmPhoto
	b.reply(sess.ChatID, "Mahsulot rasmini yuboring:")
}

func (b *Bot) confirmPhoto(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	if len(msg.Photo) == 0 {
		b.reply(sess.ChatID, "Mahsulot rasmini yuboring.")
		return
	}
	data, err := b.downloadPhoto(ctx, msg.Photo)
	if err != nil {
		b.logger.Error("photo download failed", zap.Error(err))
		b.reply(sess.ChatID, "❌ Rasmni yuklab bo‘lmadi. Qaytadan yuboring.")
		return
	}
	sess.Confirm.PhotoData = data
	sess.Confirm.PhotoName = "product_" + uuid.NewString() + ".jpg"
	b.saveTemp(sess.Confirm.PhotoName, data)

	sess.State = StateConfirmItem
	b.reply(sess.ChatID, "Mahsulot nomini kiriting:")
}

// confirmItemDetails walks the item/size/quantity/price questions.
func (b *Bot) confirmItemDetails(sess *Session, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	draft := sess.Confirm

	switch sess.State {
	case StateConfirmItem:
		if text == "" {
			b.reply(sess.ChatID, "Mahsulot nomini kiriting:")
			return
		}
		draft.Item = text
		sess.State = StateConfirmSize
		b.reply(sess.ChatID, "O‘lchamini kiriting (masalan, 42 yoki L):")

	case StateConfirmSize:
		draft.Size = text
		sess.State = StateConfirmQty
		b.reply(sess.ChatID, "Sonini kiriting:")

	case StateConfirmQty:
		qty, err := strconv.ParseInt(parse.DigitsOnly(text), 10, 64)
		if err != nil || qty <= 0 || qty > 10_000 {
			b.reply(sess.ChatID, "Son noto‘g‘ri. Musbat son kiriting:")
			return
		}
		draft.Qty = qty
		sess.State = StateConfirmPrice
		b.reply(sess.ChatID, "Narxini kiriting (bir dona uchun, so‘mda):")

	case StateConfirmPrice:
		price, ok := parse.ParseAmount(text)
		if !ok {
			b.reply(sess.ChatID, "Narx noto‘g‘ri. Qaytadan kiriting:")
			return
		}
		draft.PriceUZS = price
		sess.State = StateConfirmReview
		b.replyKb(sess.ChatID, b.confirmSummary(draft), confirmReviewKeyboard())
	}
}

func (b *Bot) confirmSummary(draft *ConfirmDraft) string {
	var sb strings.Builder
	sb.WriteString("📋 Buyurtma:\n")
	fmt.Fprintf(&sb, "Brend: %s\n", draft.Brand)
	fmt.Fprintf(&sb, "Mijoz: %s\n", draft.Client)
	fmt.Fprintf(&sb, "Telefon: %s\n", draft.Phone)
	fmt.Fprintf(&sb, "Mahsulot: %s\n", draft.Item)
	if draft.Size != "" {
		fmt.Fprintf(&sb, "O‘lcham: %s\n", draft.Size)
	}
	fmt.Fprintf(&sb, "Soni: %d\n", draft.Qty)
	fmt.Fprintf(&sb, "Narxi: %s so‘m\n", parse.FormatAmount(draft.PriceUZS))
	fmt.Fprintf(&sb, "Jami: %s so‘m\n", parse.FormatAmount(draft.PriceUZS*draft.Qty))
	return sb.String()
}

func (b *Bot) confirmReviewAction(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	if sess.Confirm == nil {
		return
	}
	switch cb.Data {
	case "cfr:back":
		sess.State = StateConfirmItem
		b.edit(cb, "Mahsulot nomini qaytadan kiriting:")
	case "cfr:send":
		b.submitConfirm(ctx, sess, cb)
	}
}

// submitConfirm creates the product card and the customer order in
// MoySklad, closes the queued confirm and notifies the confirmation chat.
func (b *Bot) submitConfirm(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	draft := sess.Confirm
	if draft.Item == "" || draft.Qty <= 0 || draft.PriceUZS <= 0 {
		b.edit(cb, "Ma’lumot to‘liq emas. /tasdiq bilan qaytadan boshlang.")
		sess.ResetDialog()
		return
	}

	b.edit(cb, "⏳ MoySkladga yuborilmoqda...")

	org, err := b.sklad.DefaultOrganization(ctx)
	if err != nil {
		b.logger.Error("default organization failed", zap.Error(err))
		b.replyKb(sess.ChatID, "❌ MoySklad xatosi. Qaytadan urinib ko‘ring.", confirmReviewKeyboard())
		sess.State = StateConfirmReview
		return
	}

	agentMeta := draft.CPMeta
	if agentMeta.Href == "" {
		cp, err := b.sklad.EnsureCounterparty(ctx, draft.Brand+" "+draft.Client, draft.Phone)
		if err != nil {
			b.logger.Error("ensure counterparty failed", zap.Error(err))
			b.replyKb(sess.ChatID, "❌ MoySklad xatosi. Qaytadan urinib ko‘ring.", confirmReviewKeyboard())
			sess.State = StateConfirmReview
			return
		}
		agentMeta = cp.Meta
	}

	productName := strings.TrimSpace(draft.Brand + " " + draft.Item)
	if draft.Size != "" {
		productName += " " + draft.Size
	}
	product, err := b.sklad.CreateProduct(ctx, moysklad.ProductParams{
		Name:         productName,
		SalePriceUZS: draft.PriceUZS,
	})
	if err != nil {
		b.logger.Error("create product failed", zap.Error(err))
		b.replyKb(sess.ChatID, "❌ Mahsulotni yaratib bo‘lmadi. Qaytadan urinib ko‘ring.", confirmReviewKeyboard())
		sess.State = StateConfirmReview
		return
	}

	if len(draft.PhotoData) > 0 {
		if err := b.sklad.AttachProductImage(ctx, product.ID, draft.PhotoName, draft.PhotoData); err != nil {
			b.logger.Warn("product image attach failed", zap.Error(err), zap.String("product_id", product.ID))
		}
	}

	order, err := b.sklad.CreateCustomerOrder(ctx, moysklad.OrderParams{
		Organization: org.Meta,
		Agent:        agentMeta,
		Moment:       b.now().In(b.loc).Format("2006-01-02 15:04:05"),
		Description: fmt.Sprintf("%s | %s | %s | operator: %s",
			draft.Brand, draft.Client, draft.Phone, sess.Operator.Name),
		Positions: []moysklad.OrderPosition{{
			Assortment: product.Meta,
			Quantity:   float64(draft.Qty),
			PriceUZS:   draft.PriceUZS,
		}},
	})
	if err != nil {
		b.logger.Error("create customer order failed", zap.Error(err))
		b.replyKb(sess.ChatID, "❌ Buyurtmani yaratib bo‘lmadi. Qaytadan urinib ko‘ring.", confirmReviewKeyboard())
		sess.State = StateConfirmReview
		return
	}

	if draft.ConfirmID > 0 {
		done, err := b.store.MarkConfirmDone(sess.Operator.ID, draft.ConfirmID)
		if err != nil {
			b.logger.Warn("mark confirm done failed", zap.Error(err), zap.Int64("confirm_id", draft.ConfirmID))
		} else if !done {
			b.logger.Debug("confirm already closed", zap.Int64("confirm_id", draft.ConfirmID))
		}
	}

	b.notifyConfirm(draft, order, sess.Operator.Name)

	b.logger.Info("customer order created",
		zap.String("doc", order.Name), zap.String("product", productName),
		zap.Int64("qty", draft.Qty), zap.Int64("operator_id", sess.Operator.ID))

	sess.ResetDialog()
	b.replyKb(sess.ChatID, "✅ Buyurtma tasdiqlandi: "+order.Name, menuKeyboard(true, false))
}

// notifyConfirm posts the confirmed order to the confirmation chat, with
// the product photo when there is one.
func (b *Bot) notifyConfirm(draft *ConfirmDraft, order *moysklad.Document, operatorName string) {
	if b.cfg.Telegram.ConfirmChatID == 0 {
		return
	}
	caption := fmt.Sprintf("📦 Yangi buyurtma: %s\n%s %s\n%s\n%s x%d — %s so‘m\nOperator: %s",
		order.Name, draft.Brand, draft.Client, draft.Phone,
		draft.Item, draft.Qty, parse.FormatAmount(draft.PriceUZS*draft.Qty), operatorName)

	if len(draft.PhotoData) > 0 {
		photo := tgbotapi.NewPhoto(b.cfg.Telegram.ConfirmChatID,
			tgbotapi.FileBytes{Name: draft.PhotoName, Bytes: draft.PhotoData})
		photo.Caption = caption
		b.send(photo)
		return
	}
	b.reply(b.cfg.Telegram.ConfirmChatID, caption)
}
