package sessions

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Decision is the result of an authorization check. EffectiveRole is
// empty when Allow is false; DenyKind then explains the refusal.
type Decision struct {
	Allow         bool
	EffectiveRole string
	DenyKind      Kind
}

const (
	decisionTTL      = 30 * time.Second
	decisionCacheCap = 4096
)

// decisionCache memoizes per-(userId, sessionId) authorization results
// for a short window. Role changes, removals and session deletes evict
// eagerly so a stale allow never outlives the TTL.
type decisionCache struct {
	lru *expirable.LRU[string, Decision]
}

func newDecisionCache() *decisionCache {
	return &decisionCache{
		lru: expirable.NewLRU[string, Decision](decisionCacheCap, nil, decisionTTL),
	}
}

func cacheKey(userID, sessionID string) string {
	return userID + "|" + sessionID
}

func (c *decisionCache) get(userID, sessionID string) (Decision, bool) {
	return c.lru.Get(cacheKey(userID, sessionID))
}

func (c *decisionCache) put(userID, sessionID string, d Decision) {
	c.lru.Add(cacheKey(userID, sessionID), d)
}

// invalidate evicts one user's decision for a session
func (c *decisionCache) invalidate(userID, sessionID string) {
	c.lru.Remove(cacheKey(userID, sessionID))
}

// invalidateSession evicts every cached decision for a session
func (c *decisionCache) invalidateSession(sessionID string) {
	suffix := "|" + sessionID
	for _, key := range c.lru.Keys() {
		if strings.HasSuffix(key, suffix) {
			c.lru.Remove(key)
		}
	}
}
