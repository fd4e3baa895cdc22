package sqlstore

import "github.com/goliatone/go-paygrants/core"

var (
	_ core.Storage = (*Storage)(nil)
	_ core.Storage = (*CachedStorage)(nil)
)
