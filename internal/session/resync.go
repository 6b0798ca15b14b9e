package session

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"

	"orion-gateway/internal/event"
	"orion-gateway/internal/extract"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

const (
	resyncTimeout = 2 * time.Minute
	// Profile pictures are one request each; only the first contacts are enriched.
	resyncPictureLimit = 25
)

// resync pulls groups, the blocklist and contacts through whichever
// capabilities the client has and queues them as ordinary events.
func (s *Session) resync(gen uint64, client protocol.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.log.Infof("Starting initial sync")

	if gl, ok := protocol.SupportsGroups(client); ok {
		groups, err := gl.JoinedGroups(ctx)
		if err != nil {
			s.log.Warnf("Failed to fetch joined groups: %v", err)
		} else if len(groups) > 0 {
			patches := make([]store.GroupPatch, 0, len(groups))
			for _, g := range groups {
				patches = append(patches, extract.GroupPatchFromInfo(g))
			}
			s.push(gen, event.Groups{Action: event.ActionSet, Groups: patches})
		}
	}

	if bf, ok := protocol.SupportsBlocklist(client); ok {
		jids, err := bf.FetchBlocklist(ctx)
		if err != nil {
			s.log.Warnf("Failed to fetch blocklist: %v", err)
		} else {
			ids := make([]string, 0, len(jids))
			for _, j := range jids {
				ids = append(ids, jid.Normalize(j))
			}
			s.push(gen, event.BlocklistSet{JIDs: ids})
		}
	}

	if cl, ok := protocol.SupportsContacts(client); ok {
		contacts, err := cl.Contacts(ctx)
		if err != nil {
			s.log.Warnf("Failed to load contacts: %v", err)
		} else if len(contacts) > 0 {
			s.fillPictures(ctx, client, contacts)
			s.push(gen, event.Contacts{Action: event.ActionUpsert, Contacts: contacts})
		}
	}

	s.log.Infof("Initial sync finished")
}

func (s *Session) fillPictures(ctx context.Context, client protocol.Client, contacts []store.Contact) {
	pf, ok := protocol.SupportsProfilePictures(client)
	if !ok {
		return
	}
	fetched := 0
	for i := range contacts {
		if fetched >= resyncPictureLimit || ctx.Err() != nil {
			return
		}
		c := &contacts[i]
		if c.ImgURL != "" {
			continue
		}
		target, err := types.ParseJID(c.ID)
		if err != nil {
			continue
		}
		fetched++
		url, err := pf.ProfilePictureURL(ctx, target)
		if err != nil {
			s.log.Debugf("No profile picture for %s: %v", c.ID, err)
			continue
		}
		c.ImgURL = url
	}
}
