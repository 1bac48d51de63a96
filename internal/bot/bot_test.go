package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skladbot/internal/config"
	"skladbot/internal/moysklad"
	"skladbot/internal/store"
)

// fakeTelegram records outgoing messages instead of talking to Telegram.
type fakeTelegram struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	fileURL string
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	return nil, nil
}

func (f *fakeTelegram) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL, nil
}

// texts returns the message texts sent so far, in order.
func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, m.Caption)
		}
	}
	return out
}

func (f *fakeTelegram) lastText(t *testing.T) string {
	t.Helper()
	texts := f.texts()
	require.NotEmpty(t, texts)
	return texts[len(texts)-1]
}

// fakeSklad is an in-memory MoySklad double.
type fakeSklad struct {
	mu            sync.Mutex
	counterparty  moysklad.Counterparty
	searchResults []moysklad.Counterparty
	channels      []moysklad.SalesChannel

	paymentsIn []moysklad.PaymentParams
	cashIns    []moysklad.PaymentParams
	products   []moysklad.ProductParams
	orders     []moysklad.OrderParams
	attached   []string
}

func (f *fakeSklad) DefaultOrganization(ctx context.Context) (*moysklad.Organization, error) {
	return &moysklad.Organization{
		ID:   "org-1",
		Name: "Test Org",
		Meta: moysklad.Meta{Href: "https://x/org/org-1", Type: "organization"},
	}, nil
}

func (f *fakeSklad) SalesChannels(ctx context.Context, limit int) ([]moysklad.SalesChannel, error) {
	return f.channels, nil
}

func (f *fakeSklad) SearchCounterparties(ctx context.Context, query string, limit int) ([]moysklad.Counterparty, error) {
	return f.searchResults, nil
}

func (f *fakeSklad) EnsureCounterparty(ctx context.Context, name, phone string) (*moysklad.Counterparty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.counterparty
	if cp.ID == "" {
		cp = moysklad.Counterparty{
			ID: "cp-1", Name: name, Phone: phone,
			Meta: moysklad.Meta{Href: "https://x/counterparty/cp-1", Type: "counterparty"},
		}
	}
	f.counterparty = cp
	return &cp, nil
}

func (f *fakeSklad) CreatePaymentIn(ctx context.Context, p moysklad.PaymentParams) (*moysklad.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentsIn = append(f.paymentsIn, p)
	return &moysklad.Document{ID: "pay-1", Name: "00001"}, nil
}

func (f *fakeSklad) CreateCashIn(ctx context.Context, p moysklad.PaymentParams) (*moysklad.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashIns = append(f.cashIns, p)
	return &moysklad.Document{ID: "cash-1", Name: "00002"}, nil
}

func (f *fakeSklad) FindPriceTypeMeta(ctx context.Context, name string) (*moysklad.Meta, error) {
	return &moysklad.Meta{Href: "https://x/pricetype/pt-1", Type: "pricetype"}, nil
}

func (f *fakeSklad) CreateProduct(ctx context.Context, p moysklad.ProductParams) (*moysklad.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products = append(f.products, p)
	return &moysklad.Product{
		ID: "prod-1", Name: p.Name,
		Meta: moysklad.Meta{Href: "https://x/product/prod-1", Type: "product"},
	}, nil
}

func (f *fakeSklad) CreateCustomerOrder(ctx context.Context, p moysklad.OrderParams) (*moysklad.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, p)
	return &moysklad.Document{ID: "ord-1", Name: "CO-0001"}, nil
}

func (f *fakeSklad) AttachFile(ctx context.Context, entity, docID, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, entity+"/"+docID)
	return nil
}

func (f *fakeSklad) AttachProductImage(ctx context.Context, productID, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, "product/"+productID)
	return nil
}

// fakeEngine returns canned OCR text.
type fakeEngine struct{ text string }

func (f *fakeEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	return f.text, nil
}

const (
	testChatID  = int64(1001)
	adminUserID = int64(777)
)

func newTestBot(t *testing.T) (*Bot, *fakeTelegram, *fakeSklad) {
	t.Helper()
	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Storage.TempDir = t.TempDir()
	cfg.Telegram.Token = "test-token"
	cfg.Telegram.AdminIDs = []int64{adminUserID}
	cfg.Telegram.GroupChatID = 5000
	cfg.Telegram.ConfirmChatID = 5001

	api := &fakeTelegram{}
	sklad := &fakeSklad{}
	b := New(api, cfg, st, sklad, &fakeEngine{}, zap.NewNop())
	return b, api, sklad
}

func message(chatID, userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: userID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func callback(chatID, userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cbq",
			From: &tgbotapi.User{ID: userID},
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: 42,
				Chat:      &tgbotapi.Chat{ID: chatID},
			},
		},
	}
}

func loginOperator(t *testing.T, b *Bot, chatID int64) {
	t.Helper()
	_, err := b.store.CreateOperator("+998901234567", "Aziz", "secret")
	require.NoError(t, err)
	ctx := context.Background()
	b.handleUpdate(ctx, message(chatID, 1, "/login"))
	b.handleUpdate(ctx, message(chatID, 1, "901234567"))
	b.handleUpdate(ctx, message(chatID, 1, "secret"))
	require.True(t, b.sessions.Get(chatID).LoggedIn())
}

func TestLoginFlow(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, message(testChatID, 1, "/login"))
	assert.Equal(t, StateLoginPhone, b.sessions.Get(testChatID).State)

	b.handleUpdate(ctx, message(testChatID, 1, "90 123 45 67"))
	assert.Equal(t, StateLoginPassword, b.sessions.Get(testChatID).State)
	assert.Equal(t, "+998901234567", b.sessions.Get(testChatID).AuthPhone)

	// Wrong password resets the dialog.
	b.handleUpdate(ctx, message(testChatID, 1, "nope"))
	sess := b.sessions.Get(testChatID)
	assert.Equal(t, StateIdle, sess.State)
	assert.False(t, sess.LoggedIn())
	assert.Contains(t, api.lastText(t), "noto‘g‘ri")

	// Correct credentials log the operator in.
	_, err := b.store.CreateOperator("+998901234567", "Aziz", "secret")
	require.NoError(t, err)
	b.handleUpdate(ctx, message(testChatID, 1, "/login"))
	b.handleUpdate(ctx, message(testChatID, 1, "901234567"))
	b.handleUpdate(ctx, message(testChatID, 1, "secret"))

	sess = b.sessions.Get(testChatID)
	require.True(t, sess.LoggedIn())
	assert.Equal(t, "Aziz", sess.Operator.Name)
}

func TestKiritishRequiresLogin(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleUpdate(context.Background(), message(testChatID, 1, "/kiritish"))
	assert.Contains(t, api.lastText(t), "/login")
	assert.Equal(t, StateIdle, b.sessions.Get(testChatID).State)
}

func TestAdminGating(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, message(testChatID, 1, "/admin"))
	assert.Contains(t, api.lastText(t), "⛔")

	b.handleUpdate(ctx, message(testChatID, adminUserID, "/admin"))
	assert.Equal(t, StateAdminMenu, b.sessions.Get(testChatID).State)
}

func TestAdminAddOperator(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, message(testChatID, adminUserID, "/admin"))
	b.handleUpdate(ctx, callback(testChatID, adminUserID, "adm:add"))
	assert.Equal(t, StateAdminAddPhone, b.sessions.Get(testChatID).State)

	b.handleUpdate(ctx, message(testChatID, adminUserID, "911112233"))
	b.handleUpdate(ctx, message(testChatID, adminUserID, "Bekzod"))
	b.handleUpdate(ctx, message(testChatID, adminUserID, "AUTO"))

	last := api.lastText(t)
	assert.Contains(t, last, "Bekzod")
	assert.Contains(t, last, "+998911112233")
	assert.Contains(t, last, "Parol:")

	op, err := b.store.Authenticate("+998911112233", strings.TrimSpace(last[strings.LastIndex(last, " ")+1:]))
	require.NoError(t, err)
	assert.Equal(t, "Bekzod", op.Name)
}

func TestCashFlowEndToEnd(t *testing.T) {
	b, api, sklad := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	b.handleUpdate(ctx, message(testChatID, 1, "/kiritish"))
	assert.Equal(t, StateOrderPayType, b.sessions.Get(testChatID).State)

	b.handleUpdate(ctx, callback(testChatID, 1, "pt:cash"))
	assert.Equal(t, StateOrderSearch, b.sessions.Get(testChatID).State)

	// Quick triple entry skips the pick list.
	b.handleUpdate(ctx, message(testChatID, 1, "NIKE-Aziz Karimov-911234567"))
	sess := b.sessions.Get(testChatID)
	require.NotNil(t, sess.Order.Counterparty)
	assert.Equal(t, "NIKE", sess.Order.Brand)
	assert.Equal(t, "+998911234567", sess.Order.Phone)
	assert.Equal(t, StateOrderAmount, sess.State)

	b.handleUpdate(ctx, message(testChatID, 1, "2 500 000"))
	// No sales channels configured: straight to review.
	assert.Equal(t, StateOrderReview, sess.State)
	assert.True(t, sess.Order.AmountSet)
	assert.EqualValues(t, 2_500_000, sess.Order.AmountUZS)

	b.handleUpdate(ctx, callback(testChatID, 1, "rv:confirm"))

	require.Len(t, sklad.cashIns, 1)
	assert.EqualValues(t, 2_500_000, sklad.cashIns[0].SumUZS)
	assert.Contains(t, sklad.cashIns[0].Description, "NIKE")
	assert.Empty(t, sklad.paymentsIn)

	// Payment queues an open confirm for /tasdiq.
	confirms, err := b.store.ListOpenConfirms(sess.Operator.ID, 10)
	require.NoError(t, err)
	require.Len(t, confirms, 1)
	assert.Equal(t, "NIKE", confirms[0].Brand)
	assert.Equal(t, "+998911234567", confirms[0].PhonePlus)

	// Group chat got the notification.
	found := false
	for _, text := range api.texts() {
		if strings.Contains(text, "Yangi to‘lov") {
			found = true
		}
	}
	assert.True(t, found, "group notification not sent")
	assert.Equal(t, StateIdle, sess.State)
}

func TestCardFlowWithReceipt(t *testing.T) {
	b, api, sklad := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer ts.Close()
	api.fileURL = ts.URL

	b.engine = &fakeEngine{text: "UZCARD\nОплата: 1 250 000 сум\n25.08.2026 14:03:11"}

	b.handleUpdate(ctx, message(testChatID, 1, "/kiritish"))
	b.handleUpdate(ctx, callback(testChatID, 1, "pt:card"))
	b.handleUpdate(ctx, message(testChatID, 1, "NIKE-Aziz Karimov-911234567"))
	sess := b.sessions.Get(testChatID)
	assert.Equal(t, StateOrderReceipt, sess.State)

	upd := message(testChatID, 1, "")
	upd.Message.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}}
	b.handleUpdate(ctx, upd)

	require.True(t, sess.Order.AmountSet)
	assert.EqualValues(t, 1_250_000, sess.Order.AmountUZS)
	assert.Equal(t, "2026-08-25", sess.Order.DateISO)
	assert.Equal(t, "14:03:11", sess.Order.TimeHMS)
	assert.Equal(t, StateOrderReview, sess.State)

	b.handleUpdate(ctx, callback(testChatID, 1, "rv:confirm"))

	require.Len(t, sklad.paymentsIn, 1)
	assert.EqualValues(t, 1_250_000, sklad.paymentsIn[0].SumUZS)
	assert.Equal(t, "2026-08-25", sklad.paymentsIn[0].DateISO)
	require.Len(t, sklad.attached, 1)
	assert.Equal(t, "paymentin/pay-1", sklad.attached[0])
}

func TestReceiptRejectsDocuments(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	b.handleUpdate(ctx, message(testChatID, 1, "/kiritish"))
	b.handleUpdate(ctx, callback(testChatID, 1, "pt:card"))
	b.handleUpdate(ctx, message(testChatID, 1, "NIKE-Aziz Karimov-911234567"))

	upd := message(testChatID, 1, "")
	upd.Message.Document = &tgbotapi.Document{FileID: "doc", FileName: "check.pdf"}
	b.handleUpdate(ctx, upd)

	assert.Contains(t, api.lastText(t), "rasm")
	assert.Equal(t, StateOrderReceipt, b.sessions.Get(testChatID).State)
}

func TestReviewEditAmount(t *testing.T) {
	b, _, sklad := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	b.handleUpdate(ctx, message(testChatID, 1, "/kiritish"))
	b.handleUpdate(ctx, callback(testChatID, 1, "pt:cash"))
	b.handleUpdate(ctx, message(testChatID, 1, "NIKE-Aziz Karimov-911234567"))
	b.handleUpdate(ctx, message(testChatID, 1, "2500000"))

	b.handleUpdate(ctx, callback(testChatID, 1, "rv:edit"))
	b.handleUpdate(ctx, callback(testChatID, 1, "rv:field:amount"))
	sess := b.sessions.Get(testChatID)
	assert.Equal(t, "amount", sess.Order.EditTarget)

	b.handleUpdate(ctx, message(testChatID, 1, "3000000"))
	assert.EqualValues(t, 3_000_000, sess.Order.AmountUZS)
	assert.Equal(t, StateOrderReview, sess.State)

	b.handleUpdate(ctx, callback(testChatID, 1, "rv:confirm"))
	require.Len(t, sklad.cashIns, 1)
	assert.EqualValues(t, 3_000_000, sklad.cashIns[0].SumUZS)
}

func TestTasdiqFlow(t *testing.T) {
	b, api, sklad := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("product-photo"))
	}))
	defer ts.Close()
	api.fileURL = ts.URL

	sess := b.sessions.Get(testChatID)
	confirmID, err := b.store.CreateConfirm(sess.Operator.ID, "NIKE", "Aziz Karimov", "+998911234567",
		metaMap(moysklad.Meta{Href: "https://x/counterparty/cp-1", Type: "counterparty"}))
	require.NoError(t, err)

	b.handleUpdate(ctx, message(testChatID, 1, "/tasdiq"))
	assert.Equal(t, StateConfirmPick, sess.State)

	b.handleUpdate(ctx, callback(testChatID, 1, "cfpick:"+formatID(confirmID)))
	assert.Equal(t, StateConfirmPhoto, sess.State)
	assert.Equal(t, "NIKE", sess.Confirm.Brand)

	upd := message(testChatID, 1, "")
	upd.Message.Photo = []tgbotapi.PhotoSize{{FileID: "photo"}}
	b.handleUpdate(ctx, upd)
	assert.Equal(t, StateConfirmItem, sess.State)

	b.handleUpdate(ctx, message(testChatID, 1, "Krossovka Air Max"))
	b.handleUpdate(ctx, message(testChatID, 1, "42"))
	b.handleUpdate(ctx, message(testChatID, 1, "2"))
	b.handleUpdate(ctx, message(testChatID, 1, "750000"))
	assert.Equal(t, StateConfirmReview, sess.State)

	b.handleUpdate(ctx, callback(testChatID, 1, "cfr:send"))

	require.Len(t, sklad.products, 1)
	assert.Equal(t, "NIKE Krossovka Air Max 42", sklad.products[0].Name)
	assert.EqualValues(t, 750_000, sklad.products[0].SalePriceUZS)

	require.Len(t, sklad.orders, 1)
	require.Len(t, sklad.orders[0].Positions, 1)
	assert.EqualValues(t, 2, sklad.orders[0].Positions[0].Quantity)
	assert.EqualValues(t, 750_000, sklad.orders[0].Positions[0].PriceUZS)

	assert.Contains(t, sklad.attached, "product/prod-1")

	// The confirm is closed.
	confirms, err := b.store.ListOpenConfirms(sess.Operator.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, confirms)
	assert.Equal(t, StateIdle, sess.State)
}

func TestTasdiqNewContact(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	b.handleUpdate(ctx, message(testChatID, 1, "/tasdiq"))
	b.handleUpdate(ctx, callback(testChatID, 1, "cfnew"))
	sess := b.sessions.Get(testChatID)
	assert.Equal(t, StateConfirmNewContact, sess.State)

	b.handleUpdate(ctx, message(testChatID, 1, "not a triple"))
	assert.Contains(t, api.lastText(t), "Format")
	assert.Equal(t, StateConfirmNewContact, sess.State)

	b.handleUpdate(ctx, message(testChatID, 1, "ADIDAS-Olim Toshev-935551122"))
	assert.Equal(t, StateConfirmPhoto, sess.State)
	assert.Equal(t, "ADIDAS", sess.Confirm.Brand)
	assert.Equal(t, "+998935551122", sess.Confirm.Phone)
	assert.NotEmpty(t, sess.Confirm.CPMeta.Href)

	// The fresh contact is queued so the dialog survives interruption.
	assert.Greater(t, sess.Confirm.ConfirmID, int64(0))
	confirms, err := b.store.ListOpenConfirms(sess.Operator.ID, 10)
	require.NoError(t, err)
	require.Len(t, confirms, 1)
	assert.Equal(t, "ADIDAS", confirms[0].Brand)
}

func TestCancelResetsDialogKeepsLogin(t *testing.T) {
	b, _, _ := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	b.handleUpdate(ctx, message(testChatID, 1, "/kiritish"))
	b.handleUpdate(ctx, callback(testChatID, 1, "pt:cash"))
	sess := b.sessions.Get(testChatID)
	require.Equal(t, StateOrderSearch, sess.State)

	b.handleUpdate(ctx, message(testChatID, 1, "/cancel"))
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Order)
	assert.True(t, sess.LoggedIn())
}

func TestSessionsAreIsolated(t *testing.T) {
	b, _, _ := newTestBot(t)
	ctx := context.Background()
	loginOperator(t, b, testChatID)

	otherChat := int64(2002)
	b.handleUpdate(ctx, message(testChatID, 1, "/kiritish"))
	b.handleUpdate(ctx, message(otherChat, 2, "/kiritish"))

	assert.Equal(t, StateOrderPayType, b.sessions.Get(testChatID).State)
	// The other chat is not logged in, so its dialog never started.
	assert.Equal(t, StateIdle, b.sessions.Get(otherChat).State)
	assert.Equal(t, 2, b.sessions.Len())
}
