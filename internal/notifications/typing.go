package notifications

import "sync"

// TypingSet tracks which users are typing in which chat.
type TypingSet struct {
	mu     sync.RWMutex
	byChat map[uint]map[uint]struct{}
}

// NewTypingSet returns an empty typing set.
func NewTypingSet() *TypingSet {
	return &TypingSet{byChat: make(map[uint]map[uint]struct{})}
}

// Set marks userID as typing in chatID and reports whether the entry is new.
func (t *TypingSet) Set(chatID, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.byChat[chatID]
	if !ok {
		users = make(map[uint]struct{})
		t.byChat[chatID] = users
	}
	if _, exists := users[userID]; exists {
		return false
	}
	users[userID] = struct{}{}
	return true
}

// Clear removes userID from chatID and reports whether an entry existed.
func (t *TypingSet) Clear(chatID, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearLocked(chatID, userID)
}

func (t *TypingSet) clearLocked(chatID, userID uint) bool {
	users, ok := t.byChat[chatID]
	if !ok {
		return false
	}
	if _, exists := users[userID]; !exists {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.byChat, chatID)
	}
	return true
}

// ClearUser removes userID from every chat and returns the chats it was typing in.
func (t *TypingSet) ClearUser(userID uint) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cleared []uint
	for chatID := range t.byChat {
		if t.clearLocked(chatID, userID) {
			cleared = append(cleared, chatID)
		}
	}
	return cleared
}

// Typing returns the users currently typing in chatID.
func (t *TypingSet) Typing(chatID uint) []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint, 0, len(t.byChat[chatID]))
	for userID := range t.byChat[chatID] {
		out = append(out, userID)
	}
	return out
}
