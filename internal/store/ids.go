package store

import "github.com/google/uuid"

func newLedgerID() string { return uuid.New().String() }
