package comcore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/infodancer/comcore/internal/crypto"
	"github.com/infodancer/comcore/internal/email"
)

const (
	codeDigits   = 6
	codeLifetime = time.Hour
	codeMaxFails = 3
)

// CodeManager is the process-wide table of pending confirmation codes and
// half-created accounts. Codes are single-use, live for one hour, and are
// discarded after three failed attempts. At most one code exists per email;
// a newer code of a different kind replaces the older one.
type CodeManager struct {
	sender email.Sender

	mu       sync.Mutex
	codes    map[string]*pendingCode
	accounts map[string]pendingAccount
	now      func() time.Time
}

type pendingCode struct {
	kind     email.CodeKind
	code     string
	data     string
	expireAt time.Time
	fails    int
}

type pendingAccount struct {
	name         string
	passwordHash string
}

// NewCodeManager creates a CodeManager delivering codes through sender.
func NewCodeManager(sender email.Sender) *CodeManager {
	return &CodeManager{
		sender:   sender,
		codes:    make(map[string]*pendingCode),
		accounts: make(map[string]pendingAccount),
		now:      time.Now,
	}
}

// SetClock overrides the manager's clock. Intended for tests.
func (m *CodeManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SendConfirmation issues a confirmation code for the address. When a live
// code of the same kind already exists it is left unchanged and no email is
// sent; otherwise a fresh code replaces any older entry and is delivered.
func (m *CodeManager) SendConfirmation(ctx context.Context, addr string, kind email.CodeKind, data string) error {
	m.mu.Lock()
	existing, ok := m.codes[addr]
	if ok && existing.kind == kind && m.now().Before(existing.expireAt) {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	code, err := crypto.RandomCode(codeDigits)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.codes[addr] = &pendingCode{
		kind:     kind,
		code:     code,
		data:     data,
		expireAt: m.now().Add(codeLifetime),
	}
	m.mu.Unlock()

	return m.sender.SendCode(ctx, addr, kind, code)
}

// CheckCode validates a candidate code. On success the entry is destroyed
// and the bound data is returned. A wrong code counts as a failed attempt;
// the third failure destroys the entry. The candidate is trimmed and must
// be exactly six characters before any comparison happens.
func (m *CodeManager) CheckCode(addr string, kind email.CodeKind, candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if len(candidate) != codeDigits {
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.codes[addr]
	if !ok || entry.kind != kind {
		return "", false
	}
	if !m.now().Before(entry.expireAt) {
		delete(m.codes, addr)
		return "", false
	}

	if candidate != entry.code {
		entry.fails++
		if entry.fails >= codeMaxFails {
			delete(m.codes, addr)
		}
		return "", false
	}

	delete(m.codes, addr)
	return entry.data, true
}

// StartCreation registers a pending account and sends the new-account
// confirmation code. Fails when a creation for this address is already
// pending.
func (m *CodeManager) StartCreation(ctx context.Context, name, addr, pass string) error {
	m.mu.Lock()
	_, exists := m.accounts[addr]
	m.mu.Unlock()
	if exists {
		return Errorf("account creation already pending")
	}

	hash, err := crypto.HashPassword(pass)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.accounts[addr] = pendingAccount{name: name, passwordHash: hash}
	m.mu.Unlock()

	return m.SendConfirmation(ctx, addr, email.KindNewAccount, "")
}

// ContinueCreation reports whether a pending account exists for the address
// with a matching password. On a match the confirmation is re-sent, which
// issues a fresh code if the previous one has expired.
func (m *CodeManager) ContinueCreation(ctx context.Context, addr, pass string) (bool, error) {
	m.mu.Lock()
	pending, ok := m.accounts[addr]
	m.mu.Unlock()

	if !ok || !crypto.CheckPassword(pass, pending.passwordHash) {
		return false, nil
	}
	if err := m.SendConfirmation(ctx, addr, email.KindNewAccount, ""); err != nil {
		return false, err
	}
	return true, nil
}

// FinishCreation pops the pending account for the address, returning its
// display name and password hash for persistence.
func (m *CodeManager) FinishCreation(addr string) (name, passwordHash string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ok := m.accounts[addr]
	if !ok {
		return "", "", Errorf("no pending account for this address")
	}
	delete(m.accounts, addr)
	return pending.name, pending.passwordHash, nil
}
