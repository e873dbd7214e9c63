package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"trustd/internal/store"
)

// EventKindDeclaration is the protocol event kind carrying a signed
// declaration payload (parameterized application data).
const EventKindDeclaration = 30078

// EventFinalizer turns an event template into a finalized event with
// its own id and signature. It is an external collaborator: if it is
// unavailable, signing fails rather than retries.
type EventFinalizer interface {
	Finalize(ctx context.Context, template nostr.Event, privateKey []byte) (nostr.Event, error)
}

// LocalFinalizer finalizes events in-process with the supplied key.
type LocalFinalizer struct{}

// Finalize implements EventFinalizer.
func (LocalFinalizer) Finalize(_ context.Context, template nostr.Event, privateKey []byte) (nostr.Event, error) {
	if len(privateKey) == 0 {
		return nostr.Event{}, ErrMissingKeyMaterial
	}
	if err := template.Sign(hex.EncodeToString(privateKey)); err != nil {
		return nostr.Event{}, fmt.Errorf("finalize event: %w", err)
	}
	return template, nil
}

// buildEventTemplate constructs the unsigned protocol event for a
// declaration payload. Tags carry the declaration id and type so
// relays can index and replace it.
func buildEventTemplate(rec *store.Declaration, payload []byte, ts time.Time) nostr.Event {
	return nostr.Event{
		CreatedAt: nostr.Timestamp(ts.Unix()),
		Kind:      EventKindDeclaration,
		Tags: nostr.Tags{
			{"d", rec.ID},
			{"declaration", rec.DeclarationType},
		},
		Content: string(payload),
	}
}
