// Package bot implements the Telegram dialogs: operator login, the
// /kiritish payment-intake flow, the /tasdiq order-confirmation flow and
// the /admin operator management panel.
//
// Telegram updates arrive over long polling. Each chat owns a Session that
// tracks where in a dialog it is; updates for one chat are serialized by
// the session lock while different chats are handled concurrently.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skladbot/internal/config"
	"skladbot/internal/moysklad"
	"skladbot/internal/ocr"
	"skladbot/internal/store"
)

// maxConcurrentUpdates bounds the handler pool. OCR and MoySklad calls are
// slow; polling must not stall behind them.
const maxConcurrentUpdates = 8

// TelegramAPI is the slice of *tgbotapi.BotAPI the bot uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Sklad is the MoySklad surface the dialogs need.
type Sklad interface {
	DefaultOrganization(ctx context.Context) (*moysklad.Organization, error)
	SalesChannels(ctx context.Context, limit int) ([]moysklad.SalesChannel, error)
	SearchCounterparties(ctx context.Context, query string, limit int) ([]moysklad.Counterparty, error)
	EnsureCounterparty(ctx context.Context, name, phone string) (*moysklad.Counterparty, error)
	CreatePaymentIn(ctx context.Context, p moysklad.PaymentParams) (*moysklad.Document, error)
	CreateCashIn(ctx context.Context, p moysklad.PaymentParams) (*moysklad.Document, error)
	FindPriceTypeMeta(ctx context.Context, name string) (*moysklad.Meta, error)
	CreateProduct(ctx context.Context, p moysklad.ProductParams) (*moysklad.Product, error)
	CreateCustomerOrder(ctx context.Context, p moysklad.OrderParams) (*moysklad.Document, error)
	AttachFile(ctx context.Context, entity, docID, filename string, data []byte) error
	AttachProductImage(ctx context.Context, productID, filename string, data []byte) error
}

// Bot wires the Telegram transport to the store, OCR engine and MoySklad.
type Bot struct {
	api      TelegramAPI
	cfg      *config.Config
	store    *store.Store
	sklad    Sklad
	engine   ocr.Engine
	logger   *zap.Logger
	sessions *Sessions

	httpClient *http.Client
	loc        *time.Location
	now        func() time.Time

	// sessionLocks serializes updates per chat.
	sessionLocks sync.Map
}

// New assembles the bot. The Telegram API handle is injected so tests can
// run the dialogs without the network.
func New(api TelegramAPI, cfg *config.Config, st *store.Store, sklad Sklad, engine ocr.Engine, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := time.LoadLocation("Asia/Tashkent")
	if err != nil {
		// UTC+5, no DST.
		loc = time.FixedZone("Asia/Tashkent", 5*60*60)
	}
	return &Bot{
		api:        api,
		cfg:        cfg,
		store:      st,
		sklad:      sklad,
		engine:     engine,
		logger:     logger,
		sessions:   NewSessions(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		loc:        loc,
		now:        time.Now,
	}
}

// Run polls Telegram until the context is canceled. Pending updates that
// accumulated while the bot was down are dropped on startup. A Telegram
// 409 (another instance polling the same token) is fatal.
func (b *Bot) Run(ctx context.Context) error {
	offset, err := b.dropPendingUpdates(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUpdates + 1)

	b.logger.Info("bot polling started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot polling stopped")
			return g.Wait()
		default:
		}

		updates, err := b.api.GetUpdates(tgbotapi.UpdateConfig{
			Offset:         offset,
			Timeout:        30,
			AllowedUpdates: []string{"message", "callback_query"},
		})
		if err != nil {
			if isConflict(err) {
				b.logger.Error("another bot instance is polling this token", zap.Error(err))
				_ = g.Wait()
				return fmt.Errorf("telegram conflict: %w", err)
			}
			b.logger.Warn("get updates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return g.Wait()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			update := update
			g.Go(func() error {
				b.handleUpdate(ctx, update)
				return nil
			})
		}
	}
}

// dropPendingUpdates skips everything queued before startup and returns
// the next offset to poll from.
func (b *Bot) dropPendingUpdates(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	updates, err := b.api.GetUpdates(tgbotapi.UpdateConfig{Offset: -1, Timeout: 0})
	if err != nil {
		if isConflict(err) {
			return 0, fmt.Errorf("telegram conflict: %w", err)
		}
		// Transient failure; start from the live stream.
		b.logger.Warn("drop pending updates failed", zap.Error(err))
		return 0, nil
	}
	if len(updates) == 0 {
		return 0, nil
	}
	return updates[len(updates)-1].UpdateID + 1, nil
}

func isConflict(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == http.StatusConflict
	}
	return strings.Contains(err.Error(), "Conflict")
}

// handleUpdate routes one update through the per-chat state machine.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	chatID := updateChatID(update)
	if chatID == 0 {
		return
	}

	lock := b.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	sess := b.sessions.Get(chatID)

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic", zap.Int64("chat_id", chatID), zap.Any("panic", r))
			sess.ResetDialog()
			b.reply(chatID, "❌ Ichki xatolik. Qaytadan urinib ko‘ring.")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, sess, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, sess, update.Message)
	}
}

func (b *Bot) chatLock(chatID int64) *sync.Mutex {
	v, _ := b.sessionLocks.LoadOrStore(chatID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func updateChatID(update tgbotapi.Update) int64 {
	if update.Message != nil {
		return update.Message.Chat.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		return update.CallbackQuery.Message.Chat.ID
	}
	return 0
}

func updateUserID(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return 0
}

func (b *Bot) handleMessage(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, sess, msg)
		return
	}

	switch sess.State {
	case StateLoginPhone, StateLoginPassword,
		StateRegisterPhone, StateRegisterName, StateRegisterPassword:
		b.handleAuthText(sess, msg)
	case StateAdminAddPhone, StateAdminAddName, StateAdminAddPassword, StateAdminDelPhone:
		b.handleAdminText(sess, msg)
	case StateOrderSearch, StateOrderPick:
		// Typing while the pick list is up refines the search.
		b.orderSearch(ctx, sess, msg)
	case StateOrderReceipt:
		b.orderReceipt(ctx, sess, msg)
	case StateOrderAmount:
		b.orderManualEntry(ctx, sess, msg)
	case StateConfirmNewContact:
		b.confirmNewContact(ctx, sess, msg)
	case StateConfirmPhoto:
		b.confirmPhoto(ctx, sess, msg)
	case StateConfirmItem, StateConfirmSize, StateConfirmQty, StateConfirmPrice:
		b.confirmItemDetails(sess, msg)
	default:
		// Free text outside a dialog is ignored.
	}
}

func (b *Bot) handleCommand(ctx context.Context, sess *Session, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.cmdStart(sess, msg)
	case "login":
		b.cmdLogin(sess)
	case "register":
		b.cmdRegister(sess, msg)
	case "admin":
		b.cmdAdmin(sess, msg)
	case "kiritish":
		b.cmdKiritish(sess)
	case "tasdiq":
		b.cmdTasdiq(sess)
	case "cancel":
		b.cmdCancel(sess, msg)
	default:
		b.reply(sess.ChatID, "Noma’lum buyruq. /start ni bosing.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, sess *Session, cb *tgbotapi.CallbackQuery) {
	// Always answer so the client stops the spinner.
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug("answer callback failed", zap.Error(err))
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, "adm:"):
		b.adminMenuClick(sess, cb)
	case strings.HasPrefix(data, "pt:"):
		b.orderPayTypeChosen(sess, cb)
	case strings.HasPrefix(data, "cp:"):
		b.orderCounterpartyPicked(ctx, sess, cb)
	case strings.HasPrefix(data, "cpnew:"):
		b.orderCounterpartyCreate(ctx, sess, cb)
	case strings.HasPrefix(data, "sc:"):
		b.orderChannelChosen(sess, cb)
	case strings.HasPrefix(data, "rv:"):
		b.orderReviewAction(ctx, sess, cb)
	case data == "cfnew":
		b.confirmNewClicked(sess, cb)
	case strings.HasPrefix(data, "cfpick:"):
		b.confirmPicked(sess, cb)
	case strings.HasPrefix(data, "cfr:"):
		b.confirmReviewAction(ctx, sess, cb)
	default:
		b.logger.Debug("unknown callback data", zap.String("data", data))
	}
}

func (b *Bot) cmdCancel(sess *Session, msg *tgbotapi.Message) {
	sess.ResetDialog()
	out := tgbotapi.NewMessage(sess.ChatID, "Bekor qilindi.")
	out.ReplyMarkup = menuKeyboard(sess.LoggedIn(), b.cfg.IsAdmin(updateUserID(msg)))
	b.send(out)
}

// ---- message helpers ----

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("send failed", zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyKb(chatID int64, text string, kb any) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = kb
	b.send(out)
}

// edit rewrites the inline-keyboard message a callback came from.
func (b *Bot) edit(cb *tgbotapi.CallbackQuery, text string) {
	b.send(tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, text))
}

func (b *Bot) editKb(cb *tgbotapi.CallbackQuery, text string, kb tgbotapi.InlineKeyboardMarkup) {
	b.send(tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID, text, kb))
}

// downloadPhoto fetches the largest size of a Telegram photo.
func (b *Bot) downloadPhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) ([]byte, error) {
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no photo sizes")
	}
	fileID := sizes[len(sizes)-1].FileID
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download photo: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// saveTemp keeps a copy of a downloaded photo under the temp dir so a
// failed upload can be investigated. Best effort.
func (b *Bot) saveTemp(name string, data []byte) {
	dir := b.cfg.Storage.TempDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.logger.Debug("temp dir create failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		b.logger.Debug("temp file write failed", zap.Error(err))
	}
}

func counterpartyTitle(cp *moysklad.Counterparty) string {
	name := strings.TrimSpace(cp.Name)
	if name == "" {
		name = "NoName"
	}
	if phone := strings.TrimSpace(cp.Phone); phone != "" {
		return name + " (" + phone + ")"
	}
	return name
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
