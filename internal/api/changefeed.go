package api

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/nerrad567/gray-orm/internal/events"
	"github.com/nerrad567/gray-orm/internal/persistence"
)

// WSSubscribePayload selects channels and, for entity.changed, narrows the
// changes delivered. Empty lists match everything.
//
//	{"channels": ["entity.changed"], "entities": ["employee"], "ids": [7], "ops": ["update"], "exclude_own": true}
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Entities []string `json:"entities,omitempty"`
	IDs      []int64  `json:"ids,omitempty"`
	Ops      []string `json:"ops,omitempty"`

	// ExcludeOwn drops changes flushed by the subscriber's own subject.
	ExcludeOwn bool `json:"exclude_own,omitempty"`
}

// changeFilter decides which change messages a subscription receives.
type changeFilter struct {
	entities []string
	ids      []int64
	ops      []persistence.Op
	actor    string // skipped when set
}

func newChangeFilter(p WSSubscribePayload, subject string) (*changeFilter, error) {
	f := &changeFilter{entities: p.Entities, ids: p.IDs}
	for _, op := range p.Ops {
		switch o := persistence.Op(op); o {
		case persistence.OpInsert, persistence.OpUpdate, persistence.OpDelete:
			f.ops = append(f.ops, o)
		default:
			return nil, fmt.Errorf("unknown op %q", op)
		}
	}
	if p.ExcludeOwn {
		f.actor = subject
	}
	if len(f.entities) == 0 && len(f.ids) == 0 && len(f.ops) == 0 && f.actor == "" {
		return nil, nil
	}
	return f, nil
}

func (f *changeFilter) match(msg events.ChangeMessage) bool {
	switch {
	case len(f.entities) > 0 && !slices.Contains(f.entities, msg.Entity):
		return false
	case len(f.ids) > 0 && !slices.Contains(f.ids, msg.ID):
		return false
	case len(f.ops) > 0 && !slices.Contains(f.ops, msg.Op):
		return false
	case f.actor != "" && msg.Actor == f.actor:
		return false
	}
	return true
}

// accepts reports whether the client subscribed to channel and, for
// change messages, whether its filter lets msg through.
func (c *WSClient) accepts(channel string, payload any) bool {
	c.mu.RLock()
	f, ok := c.subs[channel]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if f == nil {
		return true
	}
	msg, isChange := payload.(events.ChangeMessage)
	return !isChange || f.match(msg)
}

func (c *WSClient) subscribe(id string, raw json.RawMessage) {
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil || len(p.Channels) == 0 {
		c.reply(id, WSTypeError, map[string]string{"message": "invalid subscribe payload"})
		return
	}
	for _, ch := range p.Channels {
		if ch != events.ChannelEntityChanged && ch != events.ChannelFlushCommitted {
			c.reply(id, WSTypeError, map[string]string{"message": "unknown channel " + ch})
			return
		}
	}
	f, err := newChangeFilter(p, c.subject)
	if err != nil {
		c.reply(id, WSTypeError, map[string]string{"message": err.Error()})
		return
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		if ch == events.ChannelEntityChanged {
			c.subs[ch] = f
		} else {
			c.subs[ch] = nil
		}
	}
	c.mu.Unlock()

	c.hub.logger.Info("change feed subscribed", "subject", c.subject, "channels", p.Channels, "entities", p.Entities)
	c.reply(id, WSTypeResponse, map[string]any{"subscribed": p.Channels})
}

func (c *WSClient) unsubscribe(id string, raw json.RawMessage) {
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.reply(id, WSTypeError, map[string]string{"message": "invalid unsubscribe payload"})
		return
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		delete(c.subs, ch)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": p.Channels})
}
