package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// RecentMessageKey identifies one cached plaintext for retry re-encryption.
type RecentMessageKey struct {
	ChatJID   string
	MessageID string
}

// RecentMessages is the bounded LRU described in spec §3: a
// (chatJid, messageId) -> plaintext map used to re-encrypt on retry
// receipts, default-capped at 20,000 entries.
type RecentMessages struct {
	lru *lru.Cache[RecentMessageKey, []byte]
}

// DefaultRecentMessagesCacheSize is spec §3's default bound.
const DefaultRecentMessagesCacheSize = 20000

// NewRecentMessages builds a bounded LRU. size <= 0 uses the spec default.
func NewRecentMessages(size int) (*RecentMessages, error) {
	if size <= 0 {
		size = DefaultRecentMessagesCacheSize
	}
	c, err := lru.New[RecentMessageKey, []byte](size)
	if err != nil {
		return nil, err
	}
	return &RecentMessages{lru: c}, nil
}

// Put caches a plaintext message for possible retry re-encryption.
func (r *RecentMessages) Put(chatJID, messageID string, plaintext []byte) {
	r.lru.Add(RecentMessageKey{ChatJID: chatJID, MessageID: messageID}, plaintext)
}

// Get retrieves a previously cached plaintext, if still resident.
func (r *RecentMessages) Get(chatJID, messageID string) ([]byte, bool) {
	return r.lru.Get(RecentMessageKey{ChatJID: chatJID, MessageID: messageID})
}

// Len reports the number of resident entries.
func (r *RecentMessages) Len() int {
	return r.lru.Len()
}
