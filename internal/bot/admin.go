package bot

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"skladbot/internal/parse"
	"skladbot/internal/store"
)

// adminListLimit caps the /admin operator listing so the message stays
// under Telegram's 4096-character limit.
const adminListLimit = 50

func (b *Bot) cmdAdmin(sess *Session, msg *tgbotapi.Message) {
	if !b.cfg.IsAdmin(updateUserID(msg)) {
		b.reply(sess.ChatID, "⛔ Bu buyruq faqat adminlar uchun.")
		return
	}
	sess.ResetDialog()
	sess.State = StateAdminMenu
	b.replyKb(sess.ChatID, "🛠 Admin panel", adminMenuKeyboard())
}

func (b *Bot) adminMenuClick(sess *Session, cb *tgbotapi.CallbackQuery) {
	if !b.cfg.IsAdmin(cb.From.ID) {
		b.edit(cb, "⛔ Bu buyruq faqat adminlar uchun.")
		return
	}

	switch cb.Data {
	case "adm:add":
		sess.Admin = &AdminDraft{}
		sess.State = StateAdminAddPhone
		b.edit(cb, "Yangi operator telefon raqamini kiriting:")

	case "adm:list":
		ops, err := b.store.ListOperators(adminListLimit)
		if err != nil {
			b.logger.Error("list operators failed", zap.Error(err))
			b.edit(cb, "❌ Ro‘yxatni olishda xatolik.")
			return
		}
		if len(ops) == 0 {
			b.editKb(cb, "Operatorlar yo‘q.", adminMenuKeyboard())
			return
		}
		var sb strings.Builder
		sb.WriteString("📋 Operatorlar:\n")
		for _, op := range ops {
			fmt.Fprintf(&sb, "• %s — %s\n", op.Name, op.Phone)
		}
		b.editKb(cb, sb.String(), adminMenuKeyboard())

	case "adm:del":
		sess.State = StateAdminDelPhone
		b.edit(cb, "O‘chiriladigan operator telefon raqamini kiriting:")

	case "adm:close":
		sess.ResetDialog()
		b.edit(cb, "Admin panel yopildi.")
	}
}

func (b *Bot) handleAdminText(sess *Session, msg *tgbotapi.Message) {
	if !b.cfg.IsAdmin(updateUserID(msg)) {
		sess.ResetDialog()
		b.reply(sess.ChatID, "⛔ Bu buyruq faqat adminlar uchun.")
		return
	}
	text := strings.TrimSpace(msg.Text)

	switch sess.State {
	case StateAdminAddPhone:
		phone := parse.NormalizePhone(text)
		if phone == "" {
			b.reply(sess.ChatID, "Telefon raqami noto‘g‘ri. Qaytadan kiriting:")
			return
		}
		sess.Admin.Phone = phone
		sess.State = StateAdminAddName
		b.reply(sess.ChatID, "Operator ismini kiriting:")

	case StateAdminAddName:
		if text == "" {
			b.reply(sess.ChatID, "Ism bo‘sh bo‘lmasin. Qaytadan kiriting:")
			return
		}
		sess.Admin.Name = text
		sess.State = StateAdminAddPassword
		b.reply(sess.ChatID, "Parolni kiriting (yoki avtomatik parol uchun AUTO deb yozing):")

	case StateAdminAddPassword:
		password := text
		if strings.EqualFold(password, "AUTO") {
			var err error
			password, err = generatePassword()
			if err != nil {
				b.logger.Error("generate password failed", zap.Error(err))
				b.reply(sess.ChatID, "❌ Parol yaratishda xatolik. Parolni qo‘lda kiriting:")
				return
			}
		}
		draft := sess.Admin
		_, err := b.store.CreateOperator(draft.Phone, draft.Name, password)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				sess.State = StateAdminMenu
				b.replyKb(sess.ChatID, "❌ Bu raqam allaqachon ro‘yxatdan o‘tgan.", adminMenuKeyboard())
				return
			}
			b.logger.Error("create operator failed", zap.Error(err))
			sess.State = StateAdminMenu
			b.replyKb(sess.ChatID, "❌ Ichki xatolik.", adminMenuKeyboard())
			return
		}
		b.logger.Info("operator created",
			zap.String("phone", draft.Phone), zap.String("name", draft.Name))
		sess.State = StateAdminMenu
		b.replyKb(sess.ChatID,
			fmt.Sprintf("✅ Operator qo‘shildi:\n%s\n%s\nParol: %s", draft.Name, draft.Phone, password),
			adminMenuKeyboard())

	case StateAdminDelPhone:
		phone := parse.NormalizePhone(text)
		deleted, err := b.store.DeleteOperatorByPhone(phone)
		if err != nil {
			b.logger.Error("delete operator failed", zap.Error(err))
			b.replyKb(sess.ChatID, "❌ Ichki xatolik.", adminMenuKeyboard())
			sess.State = StateAdminMenu
			return
		}
		sess.State = StateAdminMenu
		if !deleted {
			b.replyKb(sess.ChatID, "Bunday raqamli operator topilmadi: "+phone, adminMenuKeyboard())
			return
		}
		b.logger.Info("operator deleted", zap.String("phone", phone))
		b.replyKb(sess.ChatID, "🗑 Operator o‘chirildi: "+phone, adminMenuKeyboard())
	}
}

// generatePassword returns a random 6-digit PIN.
func generatePassword() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
