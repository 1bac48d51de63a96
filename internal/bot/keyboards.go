package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"skladbot/internal/moysklad"
	"skladbot/internal/store"
)

// menuKeyboard is the persistent reply keyboard shown after /start and at
// the end of each flow. Operators see the two work commands; admins the
// management entry; guests only login.
func menuKeyboard(loggedIn, isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	switch {
	case loggedIn:
		rows = [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton("/kiritish"), tgbotapi.NewKeyboardButton("/tasdiq")},
		}
	case isAdmin:
		rows = [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton("/admin")},
			{tgbotapi.NewKeyboardButton("/login")},
			{tgbotapi.NewKeyboardButton("/start")},
		}
	default:
		rows = [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton("/login")},
			{tgbotapi.NewKeyboardButton("/start")},
		}
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	kb.Selective = true
	return kb
}

func payTypeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💵 Naqt", "pt:cash")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Karta", "pt:card")),
	)
}

func reviewKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Tasdiq", "rv:confirm")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✏️ Tahrirlash", "rv:edit")),
	)
}

func editFieldsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🏷 Brend", "rv:field:brand")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("👤 Mijoz nomi", "rv:field:client")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📞 Telefon", "rv:field:phone")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💰 Summa", "rv:field:amount")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📅 Sana", "rv:field:date")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🕒 Vaqt", "rv:field:time")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Orqaga", "rv:back")),
	)
}

func counterpartyKeyboard(rows []moysklad.Counterparty, query string) tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, cp := range rows {
		if cp.ID == "" {
			continue
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(counterpartyTitle(&cp), "cp:"+cp.ID)))
	}
	kb = append(kb, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("➕ Yangi kontragent yaratish", "cpnew:"+query)))
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func salesChannelKeyboard(channels []moysklad.SalesChannel) tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, ch := range channels {
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ch.Name, "sc:"+ch.ID)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func adminMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ Operator qo‘shish", "adm:add")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 Operatorlar ro‘yxati", "adm:list")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🗑 Operator o‘chirish", "adm:del")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Yopish", "adm:close")),
	)
}

func confirmPickKeyboard(confirms []store.Confirm) tgbotapi.InlineKeyboardMarkup {
	kb := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ Yangi tasdiq", "cfnew")),
	}
	for _, c := range confirms {
		label := c.Brand + " | " + c.PhonePlus
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "cfpick:"+formatID(c.ID))))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func confirmReviewKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Tasdiqlash", "cfr:send")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Orqaga", "cfr:back")),
	)
}
