package bot

import (
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"skladbot/internal/parse"
	"skladbot/internal/store"
)

func (b *Bot) cmdStart(sess *Session, msg *tgbotapi.Message) {
	isAdmin := b.cfg.IsAdmin(updateUserID(msg))
	var text string
	switch {
	case sess.LoggedIn():
		text = "Salom, " + sess.Operator.Name + "!\n" +
			"/kiritish — to‘lov kiritish\n/tasdiq — buyurtma tasdiqlash"
	case isAdmin:
		text = "Salom! Siz adminsiz.\n/admin — operatorlarni boshqarish\n/login — operator sifatida kirish"
	default:
		text = "Salom! Botdan foydalanish uchun tizimga kiring: /login"
	}
	b.replyKb(sess.ChatID, text, menuKeyboard(sess.LoggedIn(), isAdmin))
}

func (b *Bot) cmdLogin(sess *Session) {
	sess.ResetDialog()
	sess.State = StateLoginPhone
	b.reply(sess.ChatID, "Telefon raqamingizni kiriting (masalan, 901234567):")
}

// /register is admin only; regular operator accounts are created through
// the /admin panel, this is the fallback used during rollout.
func (b *Bot) cmdRegister(sess *Session, msg *tgbotapi.Message) {
	if !b.cfg.IsAdmin(updateUserID(msg)) {
		b.reply(sess.ChatID, "⛔ Bu buyruq faqat adminlar uchun.")
		return
	}
	sess.ResetDialog()
	sess.State = StateRegisterPhone
	b.reply(sess.ChatID, "Yangi operator telefon raqamini kiriting:")
}

func (b *Bot) handleAuthText(sess *Session, msg *tgbotapi.Message) {
	text := msg.Text

	switch sess.State {
	case StateLoginPhone:
		phone := parse.NormalizePhone(text)
		if phone == "" {
			b.reply(sess.ChatID, "Telefon raqami noto‘g‘ri. Qaytadan kiriting:")
			return
		}
		sess.AuthPhone = phone
		sess.State = StateLoginPassword
		b.reply(sess.ChatID, "Parolni kiriting:")

	case StateLoginPassword:
		op, err := b.store.Authenticate(sess.AuthPhone, text)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				sess.ResetDialog()
				b.reply(sess.ChatID, "❌ Telefon yoki parol noto‘g‘ri. /login bilan qaytadan urinib ko‘ring.")
				return
			}
			b.logger.Error("authenticate failed", zap.Error(err))
			sess.ResetDialog()
			b.reply(sess.ChatID, "❌ Ichki xatolik. Keyinroq urinib ko‘ring.")
			return
		}
		sess.ResetDialog()
		sess.Operator = op
		b.logger.Info("operator logged in",
			zap.Int64("chat_id", sess.ChatID), zap.String("phone", op.Phone))
		b.replyKb(sess.ChatID, "✅ Xush kelibsiz, "+op.Name+"!",
			menuKeyboard(true, b.cfg.IsAdmin(updateUserID(msg))))

	case StateRegisterPhone:
		phone := parse.NormalizePhone(text)
		if phone == "" {
			b.reply(sess.ChatID, "Telefon raqami noto‘g‘ri. Qaytadan kiriting:")
			return
		}
		sess.AuthPhone = phone
		sess.State = StateRegisterName
		b.reply(sess.ChatID, "Operator ismini kiriting:")

	case StateRegisterName:
		if sess.Admin == nil {
			sess.Admin = &AdminDraft{}
		}
		sess.Admin.Name = text
		sess.State = StateRegisterPassword
		b.reply(sess.ChatID, "Parolni kiriting:")

	case StateRegisterPassword:
		name := ""
		if sess.Admin != nil {
			name = sess.Admin.Name
		}
		_, err := b.store.CreateOperator(sess.AuthPhone, name, text)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				sess.ResetDialog()
				b.reply(sess.ChatID, "❌ Bu raqam allaqachon ro‘yxatdan o‘tgan.")
				return
			}
			b.logger.Error("create operator failed", zap.Error(err))
			sess.ResetDialog()
			b.reply(sess.ChatID, "❌ Ichki xatolik. Keyinroq urinib ko‘ring.")
			return
		}
		phone := sess.AuthPhone
		sess.ResetDialog()
		b.reply(sess.ChatID, "✅ Operator ro‘yxatga olindi: "+name+" ("+phone+")")
	}
}
