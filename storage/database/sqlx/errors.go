package sqlxrepos

import (
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/doubtbuddy/core"
)

const pgUniqueViolation = pq.ErrorCode("23505")

// the database is gone for good: shut down by an admin, crashed, or dropped
var pgFatalCodes = map[pq.ErrorCode]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"3D000": true, // invalid_catalog_name
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// wrap annotates err with msg. Fatal database errors become shutdown errors,
// so the API stops serving instead of failing every request.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pgFatalCodes[pqErr.Code] {
		return errors.Wrap(core.NewShutdownError(fmt.Sprintf("%s: %v", msg, err)), msg)
	}
	return errors.Wrap(err, msg)
}
