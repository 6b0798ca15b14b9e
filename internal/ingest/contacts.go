package ingest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.mau.fi/whatsmeow/types"

	"orion-gateway/internal/event"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

func (p *Pipeline) applyContacts(ctx context.Context, t Target, ev event.Contacts) error {
	for i := range ev.Contacts {
		c := ev.Contacts[i]
		if c.ID == "" {
			continue
		}
		p.resolveAlias(ctx, t.Aliases, &c)
		c.SessionID = t.SessionID

		if err := p.tx(ctx, func(tx *sql.Tx) error {
			return p.mergeContact(ctx, tx, &c)
		}); err != nil {
			return err
		}
	}
	return nil
}

// resolveAlias rekeys an alias-addressed contact by its phone number when
// the session can resolve it. Lookup failures leave the contact as is.
func (p *Pipeline) resolveAlias(ctx context.Context, aliases protocol.AliasResolver, c *store.Contact) {
	addr, err := types.ParseJID(c.ID)
	if err != nil {
		return
	}
	if !jid.IsLID(addr) {
		if c.Phone == "" {
			c.Phone = jid.Phone(addr)
		}
		return
	}
	if c.LID == "" {
		c.LID = c.ID
	}
	if aliases == nil {
		return
	}

	pn, err := aliases.PhoneForAlias(ctx, addr)
	if err != nil || pn.IsEmpty() {
		p.log.Debugf("No phone number for %s: %v", c.ID, err)
		return
	}
	c.ID = jid.Normalize(pn)
	c.Phone = jid.Phone(pn)
}

// mergeContact diffs c against the stored row and writes only when at
// least one field changed. Empty fields in c are not observations.
func (p *Pipeline) mergeContact(ctx context.Context, tx *sql.Tx, c *store.Contact) error {
	stored, err := p.store.Contacts.Get(ctx, tx, c.SessionID, c.ID)
	if errors.Is(err, store.ErrNotFound) {
		return p.store.Contacts.Put(ctx, tx, c)
	}
	if err != nil {
		return err
	}

	merged := *stored
	changes := diffContact(&merged, c, time.Now())
	if len(changes) == 0 {
		return nil
	}
	if err := p.store.Contacts.Put(ctx, tx, &merged); err != nil {
		return err
	}
	return p.store.Contacts.AppendHistory(ctx, tx, c.SessionID, c.ID, changes)
}

// diffContact copies every non-empty field of in that differs into dst and
// returns one change per copied field.
func diffContact(dst *store.Contact, in *store.Contact, now time.Time) []store.FieldChange {
	fields := []struct {
		name string
		dst  *string
		val  string
	}{
		{"lid", &dst.LID, in.LID},
		{"phone", &dst.Phone, in.Phone},
		{"name", &dst.Name, in.Name},
		{"notify", &dst.Notify, in.Notify},
		{"verifiedName", &dst.VerifiedName, in.VerifiedName},
		{"status", &dst.Status, in.Status},
		{"imgUrl", &dst.ImgURL, in.ImgURL},
	}

	var changes []store.FieldChange
	for _, f := range fields {
		if f.val == "" || f.val == *f.dst {
			continue
		}
		changes = append(changes, store.FieldChange{Field: f.name, Old: *f.dst, New: f.val, ChangedAt: now})
		*f.dst = f.val
	}
	return changes
}
