package engine

import (
	"context"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cartstore"
)

// MigrateGuestCart moves every line stored under fromKey into toKey and then
// clears fromKey. The destination gateway's merge rules apply, so a line
// whose identity key already exists under toKey has its quantity summed
// rather than duplicated.
//
// Sign-in does not run this automatically: the transition handler fetches the
// authenticated cart as-is and leaves the guest cart untouched server-side.
// Callers that want the guest cart carried over invoke this explicitly, with
// the two session keys as plain data (e.g. resolver.GuestIdentity and the
// authenticated identity), and follow it with a resync.
func MigrateGuestCart(ctx context.Context, gw cartstore.Gateway, fromKey, toKey string) error {
	if fromKey == "" || toKey == "" || fromKey == toKey {
		return errs.New("engine/migrate", errs.CodeInvalid,
			errs.WithMessage("migration requires two distinct session keys"))
	}

	rows, err := gw.ListLines(ctx, fromKey)
	if err != nil {
		return errs.New("engine/migrate", errs.CodeGateway,
			errs.WithSessionKey(fromKey),
			errs.WithMessage("list source lines failed"), errs.WithCause(err))
	}

	for _, row := range rows {
		ln, err := row.Validate()
		if err != nil {
			// A malformed source row is skipped, not migrated.
			continue
		}
		if _, err := gw.AddLine(ctx, cartstore.NewLine{
			SessionKey: toKey,
			ProductID:  ln.ProductID,
			Quantity:   ln.Quantity,
			UnitPrice:  ln.UnitPrice,
			Variant:    ln.Variant,
			Notes:      ln.Notes,
		}); err != nil {
			return errs.New("engine/migrate", errs.CodeGateway,
				errs.WithSessionKey(toKey), errs.WithLineID(ln.ID),
				errs.WithMessage("re-add line failed"), errs.WithCause(err))
		}
	}

	if err := gw.Clear(ctx, fromKey); err != nil {
		return errs.New("engine/migrate", errs.CodeGateway,
			errs.WithSessionKey(fromKey),
			errs.WithMessage("clear source cart failed"), errs.WithCause(err))
	}
	return nil
}
