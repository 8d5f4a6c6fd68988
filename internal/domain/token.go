package domain

import "time"

// Token is the subset of a marketplace token record the engine cares about.
type Token struct {
	ID               string
	CollectionSymbol string
	Listed           bool
	ListedPrice      int64
	ListedAt         time.Time
	Owner            string
}
