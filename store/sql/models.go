package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

// entryRecord is one persisted state key. Namespace lets several
// installations share a database.
type entryRecord struct {
	bun.BaseModel `bun:"table:paygrants_state_entries,alias:pse"`

	ID        string    `bun:"id,pk"`
	Namespace string    `bun:"namespace,notnull"`
	EntryKey  string    `bun:"entry_key,notnull"`
	Value     []byte    `bun:"value,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
