package bot

import (
	"sync"

	"skladbot/internal/moysklad"
	"skladbot/internal/store"
)

// State is the position of a chat inside one of the guided dialogs.
type State int

const (
	StateIdle State = iota

	// /login and /register
	StateLoginPhone
	StateLoginPassword
	StateRegisterPhone
	StateRegisterName
	StateRegisterPassword

	// /admin
	StateAdminMenu
	StateAdminAddPhone
	StateAdminAddName
	StateAdminAddPassword
	StateAdminDelPhone

	// /kiritish — payment intake
	StateOrderPayType
	StateOrderSearch
	StateOrderPick
	StateOrderReceipt
	StateOrderAmount
	StateOrderChannel
	StateOrderReview

	// /tasdiq — order confirmation
	StateConfirmPick
	StateConfirmNewContact
	StateConfirmPhoto
	StateConfirmItem
	StateConfirmSize
	StateConfirmQty
	StateConfirmPrice
	StateConfirmReview
)

// Pay types of the /kiritish dialog.
const (
	PayCash = "cash"
	PayCard = "card"
)

// OrderDraft accumulates the /kiritish dialog data.
type OrderDraft struct {
	PayType      string
	Counterparty *moysklad.Counterparty
	Candidates   map[string]moysklad.Counterparty

	// Display fields shown on the review screen. Derived from the
	// counterparty, editable before submit; edits are patched back to
	// MoySklad on confirm.
	Brand  string
	Client string
	Phone  string

	AmountUZS   int64
	AmountSet   bool
	DateISO     string
	TimeHMS     string
	OCRText     string
	ReceiptData []byte
	ReceiptName string

	Channels     map[string]moysklad.SalesChannel
	SalesChannel *moysklad.SalesChannel

	// EditTarget names the field being re-entered from the review screen.
	EditTarget string
}

// ConfirmDraft accumulates the /tasdiq dialog data.
type ConfirmDraft struct {
	ConfirmID int64
	Brand     string
	Client    string
	Phone     string
	CPMeta    moysklad.Meta

	PhotoData []byte
	PhotoName string
	Item      string
	Size      string
	Qty       int64
	PriceUZS  int64
}

// AdminDraft holds the operator being added through /admin.
type AdminDraft struct {
	Phone string
	Name  string
}

// Session is the per-chat dialog state. Access is serialized by the
// session manager; handlers always work on a session they own.
type Session struct {
	ChatID   int64
	State    State
	Operator *store.Operator

	// Transient auth input.
	AuthPhone string

	Order   *OrderDraft
	Confirm *ConfirmDraft
	Admin   *AdminDraft
}

// LoggedIn reports whether the chat has an authenticated operator.
func (s *Session) LoggedIn() bool {
	return s.Operator != nil
}

// ResetDialog clears dialog state but keeps the operator logged in.
func (s *Session) ResetDialog() {
	s.State = StateIdle
	s.AuthPhone = ""
	s.Order = nil
	s.Confirm = nil
	s.Admin = nil
}

// Sessions tracks dialog state per chat.
type Sessions struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[int64]*Session)}
}

// Get returns the session for a chat, creating it on first contact.
func (s *Sessions) Get(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok {
		sess = &Session{ChatID: chatID, State: StateIdle}
		s.sessions[chatID] = sess
	}
	return sess
}

// Len returns the number of tracked chats.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
